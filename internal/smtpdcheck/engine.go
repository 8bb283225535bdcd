/*
Maddy Mail Server - Composable all-in-one email server.
Copyright 2021, Steve Blinch <dev@blinch.ca>, Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package smtpdcheck

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sblinch/smtpdcheck/framework/config"
	"github.com/sblinch/smtpdcheck/framework/dns"
	"github.com/sblinch/smtpdcheck/framework/log"
	"github.com/sblinch/smtpdcheck/internal/check/access"
	"github.com/sblinch/smtpdcheck/internal/check/dnsxl"
	"github.com/sblinch/smtpdcheck/internal/matchlist"
	"github.com/sblinch/smtpdcheck/internal/policy"
	"github.com/sblinch/smtpdcheck/internal/resolve"
	"github.com/sblinch/smtpdcheck/internal/restriction"
	"github.com/sblinch/smtpdcheck/internal/table"
	"github.com/sblinch/smtpdcheck/internal/verify"
)

const modName = "smtpdcheck"

// Verifier reports the outcome of address verification probes.
type Verifier interface {
	Query(ctx context.Context, addr string) (verify.Status, string, error)
}

// QueueSpace reports the free space of the queue file system.
type QueueSpace interface {
	FreeBytes(ctx context.Context) (int64, error)
}

type Option func(*Engine)

// WithDNS replaces the resolver configured by smtpd_dns_servers.
func WithDNS(r dns.StatusResolver) Option {
	return func(e *Engine) { e.dns = r }
}

// WithAddressResolver replaces the resolver built from mydestination and
// the other domain lists.
func WithAddressResolver(r resolve.Resolver) Option {
	return func(e *Engine) { e.addrResolver = r }
}

func WithVerifier(v Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

func WithQueueSpace(q QueueSpace) Option {
	return func(e *Engine) { e.queue = q }
}

func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPolicyDialer sets the function used to connect to policy services.
func WithPolicyDialer(d policy.DialFunc) Option {
	return func(e *Engine) { e.policyDial = d }
}

// Engine holds the compiled restriction lists and the lookup caches. It
// is safe for concurrent use by multiple sessions.
type Engine struct {
	cfg *Config
	log log.Logger

	classes    map[string]*restriction.Program
	classOrder []string

	client    *restriction.Program
	helo      *restriction.Program
	sender    *restriction.Program
	relay     *restriction.Program
	recipient *restriction.Program
	etrn      *restriction.Program
	data      *restriction.Program
	eod       *restriction.Program
	rewrite   *restriction.Program

	dns          dns.StatusResolver
	addrResolver resolve.Resolver
	resolver     *resolve.Cache
	walker       *access.Walker
	dnsxl        *dnsxl.Client
	verifier     Verifier
	queue        QueueSpace
	policyDial   policy.DialFunc
	parser       restriction.Parser

	policyLock sync.Mutex
	policies   map[string]*policy.Client

	// Tables named in restriction lists, by reference.
	maps map[string]*table.Maps

	mynetworks       *matchlist.List
	mxBackupNetworks *matchlist.List
	relayDomains     *matchlist.List
	interfaces       []string
	proxyInterfaces  []string

	relayClientcerts   *table.Maps
	localRcptMaps      *table.Maps
	virtualMailboxMaps *table.Maps
	relayRcptMaps      *table.Maps
	virtualAliasMaps   *table.Maps
	canonicalMaps      *table.Maps
	rcptCanonicalMaps  *table.Maps
	senderLoginMaps    *table.Maps
	rblReplyMaps       *table.Maps
	logPermitMaps      *table.Maps

	relayDomainsWarn sync.Once
	mapsRBLWarn      sync.Once
}

// New builds an engine from main.cf parameters. Malformed restriction
// lists, undefined classes and unusable tables are reported as errors.
func New(params *config.Params, opts ...Option) (*Engine, error) {
	if params == nil {
		params = config.NewParams(nil)
	}
	cfg, err := LoadConfig(params)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		log:      log.Logger{Name: modName, Debug: log.DefaultLogger.Debug},
		maps:     make(map[string]*table.Maps),
		policies: make(map[string]*policy.Client),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.dns == nil {
		if len(cfg.DNSServers) != 0 {
			e.dns = dns.NewExtResolverFor(cfg.DNSTimeout, cfg.DNSServers...)
		} else {
			e.dns = dns.NetResolver{R: dns.DefaultResolver()}
		}
	}

	if err := e.compile(params); err != nil {
		return nil, err
	}
	if err := e.openParamTables(); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.openProgramTables(); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.openPolicyClients(); err != nil {
		e.Close()
		return nil, err
	}

	if e.addrResolver == nil {
		local, err := e.localResolver()
		if err != nil {
			e.Close()
			return nil, err
		}
		e.addrResolver = local
	}
	e.resolver = resolve.NewCache(e.addrResolver, cfg.CacheSize, e.log)

	e.walker = access.New(e.dns)
	e.walker.ParentMatch = cfg.parentMatch("smtpd_access_maps")
	e.walker.Delimiter = cfg.RecipientDelimiter
	e.walker.DoubleBounce = cfg.DoubleBounceSender

	e.dnsxl = dnsxl.New(e.dns, cfg.CacheSize)
	e.dnsxl.RegisteredDomain = cfg.RHSBLRegisteredDomain

	if e.verifier == nil && cfg.AddressVerifyMap != "" {
		backend, err := table.Open(cfg.AddressVerifyMap)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("parameter address_verify_map: %w", err)
		}
		store, err := verify.New(backend)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("parameter address_verify_map: %w", err)
		}
		e.verifier = store
	}
	return e, nil
}

func (e *Engine) compile(params *config.Params) error {
	cfg := e.cfg
	parser := restriction.Parser{
		Classes: make(map[string]bool, len(cfg.RestrictionClasses)),
		PolicyDefaults: restriction.PolicyRef{
			DefaultAction: cfg.PolicyDefaultAction,
			Context:       cfg.PolicyContext,
			Timeout:       cfg.PolicyTimeout,
			MaxIdle:       cfg.PolicyMaxIdle,
			MaxTTL:        cfg.PolicyMaxTTL,
			TryLimit:      cfg.PolicyTryLimit,
			RetryDelay:    cfg.PolicyRetryDelay,
		},
	}
	for _, name := range cfg.RestrictionClasses {
		parser.Classes[name] = true
	}

	e.parser = parser

	e.classes = make(map[string]*restriction.Program, len(cfg.RestrictionClasses))
	for _, name := range cfg.RestrictionClasses {
		if _, ok := e.classes[name]; ok {
			continue
		}
		value, ok, err := params.Get(name)
		if err != nil {
			return err
		}
		if !ok {
			return &restriction.ConfigError{
				Param: "smtpd_restriction_classes",
				Msg:   fmt.Sprintf("restriction class `%s' needs a definition", name),
			}
		}
		prog, err := parser.Parse(name, value)
		if err != nil {
			return err
		}
		e.classes[name] = prog
		e.classOrder = append(e.classOrder, name)
	}

	stages := []struct {
		param string
		value string
		dst   **restriction.Program
	}{
		{"smtpd_client_restrictions", cfg.ClientRestrictions, &e.client},
		{"smtpd_helo_restrictions", cfg.HeloRestrictions, &e.helo},
		{"smtpd_sender_restrictions", cfg.SenderRestrictions, &e.sender},
		{"smtpd_relay_restrictions", cfg.RelayRestrictions, &e.relay},
		{"smtpd_recipient_restrictions", cfg.RecipientRestrictions, &e.recipient},
		{"smtpd_etrn_restrictions", cfg.EtrnRestrictions, &e.etrn},
		{"smtpd_data_restrictions", cfg.DataRestrictions, &e.data},
		{"smtpd_end_of_data_restrictions", cfg.EODRestrictions, &e.eod},
	}
	for _, st := range stages {
		prog, err := parser.Parse(st.param, st.value)
		if err != nil {
			return err
		}
		*st.dst = prog
	}

	rewrite, err := restriction.ParseRewrite("local_header_rewrite_clients", cfg.RewriteClients)
	if err != nil {
		return err
	}
	e.rewrite = rewrite

	if !restriction.HasRequired(e.recipient, e.classes) && !restriction.HasRequired(e.relay, e.classes) {
		return &restriction.ConfigError{
			Param: "smtpd_relay_restrictions",
			Msg: "in parameter smtpd_relay_restrictions or smtpd_recipient_restrictions, specify at least one working instance of: " +
				"reject_unauth_destination, defer_unauth_destination, reject, defer, defer_if_permit or check_relay_domains",
		}
	}

	for _, prog := range []*restriction.Program{e.data, e.eod} {
		for _, r := range prog.List {
			if r.Kind == restriction.KindDefaultMap {
				return &restriction.ConfigError{
					Param: prog.Param,
					Msg:   fmt.Sprintf("specify a check_*_access restriction before table %s", r.Arg),
				}
			}
		}
	}

	for _, prog := range e.Programs() {
		for _, w := range prog.Warnings {
			e.log.Msg(w)
		}
	}
	return nil
}

// Programs returns the compiled restriction lists: the stages first, then
// the classes in declaration order.
func (e *Engine) Programs() []*restriction.Program {
	progs := []*restriction.Program{
		e.client, e.helo, e.sender, e.relay, e.recipient, e.etrn, e.data, e.eod, e.rewrite,
	}
	for _, name := range e.classOrder {
		progs = append(progs, e.classes[name])
	}
	return progs
}

func (e *Engine) Config() *Config {
	return e.cfg
}

func (e *Engine) openMaps(param, value string) (*table.Maps, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return table.OpenMaps(param, value)
}

func (e *Engine) openParamTables() error {
	cfg := e.cfg
	var err error
	targets := []struct {
		param string
		value string
		dst   **table.Maps
	}{
		{"relay_clientcerts", cfg.RelayClientcerts, &e.relayClientcerts},
		{"local_recipient_maps", cfg.LocalRecipientMaps, &e.localRcptMaps},
		{"virtual_mailbox_maps", cfg.VirtualMailboxMaps, &e.virtualMailboxMaps},
		{"relay_recipient_maps", cfg.RelayRecipientMaps, &e.relayRcptMaps},
		{"virtual_alias_maps", cfg.VirtualAliasMaps, &e.virtualAliasMaps},
		{"canonical_maps", cfg.CanonicalMaps, &e.canonicalMaps},
		{"recipient_canonical_maps", cfg.RecipientCanonicalMaps, &e.rcptCanonicalMaps},
		{"smtpd_sender_login_maps", cfg.SenderLoginMaps, &e.senderLoginMaps},
		{"rbl_reply_maps", cfg.RBLReplyMaps, &e.rblReplyMaps},
	}
	for _, t := range targets {
		if *t.dst, err = e.openMaps(t.param, t.value); err != nil {
			return err
		}
	}

	var names []string
	var refs []string
	for _, a := range cfg.LogPermitActions {
		if strings.IndexByte(a, ':') != -1 {
			refs = append(refs, a)
		} else {
			names = append(names, a)
		}
	}
	cfg.LogPermitActions = names
	if e.logPermitMaps, err = e.openMaps("smtpd_log_access_permit_actions", strings.Join(refs, " ")); err != nil {
		return err
	}

	if e.mynetworks, err = matchlist.New("mynetworks", cfg.MyNetworks, cfg.parentMatch("mynetworks")); err != nil {
		return err
	}
	if e.mxBackupNetworks, err = matchlist.New("permit_mx_backup_networks", cfg.PermitMXBackupNets, cfg.parentMatch("permit_mx_backup_networks")); err != nil {
		return err
	}
	if e.relayDomains, err = matchlist.New("relay_domains", cfg.RelayDomains, cfg.parentMatch("relay_domains")); err != nil {
		return err
	}

	if e.interfaces, err = interfaceAddrs("inet_interfaces", cfg.InetInterfaces); err != nil {
		return err
	}
	if e.proxyInterfaces, err = interfaceAddrs("proxy_interfaces", cfg.ProxyInterfaces); err != nil {
		return err
	}
	return nil
}

// openProgramTables opens every table that a restriction list refers to.
func (e *Engine) openProgramTables() error {
	for _, prog := range e.Programs() {
		for _, r := range prog.List {
			if r.Kind != restriction.KindMap && r.Kind != restriction.KindDefaultMap {
				continue
			}
			if _, ok := e.maps[r.Arg]; ok {
				continue
			}
			m, err := table.OpenMaps(prog.Param, r.Arg)
			if err != nil {
				return err
			}
			e.maps[r.Arg] = m
		}
	}
	return nil
}

func (e *Engine) localResolver() (*resolve.Local, error) {
	cfg := e.cfg
	local := &resolve.Local{
		MyOrigin:         cfg.MyOrigin,
		MyHostname:       cfg.MyHostname,
		RelayDomains:     e.relayDomains,
		InterfaceAddrs:   append(append([]string(nil), e.interfaces...), e.proxyInterfaces...),
		LocalTransport:   cfg.LocalTransport,
		VirtualTransport: cfg.VirtualTransport,
		RelayTransport:   cfg.RelayTransport,
		DefaultTransport: cfg.DefaultTransport,
		RelayHost:        cfg.RelayHost,
	}
	var err error
	if local.MyDestination, err = matchlist.New("mydestination", cfg.MyDestination, cfg.parentMatch("mydestination")); err != nil {
		return nil, err
	}
	if local.VirtualAliasDomains, err = matchlist.New("virtual_alias_domains", cfg.VirtualAliasDomains, cfg.parentMatch("virtual_alias_domains")); err != nil {
		return nil, err
	}
	if local.VirtualMailboxDomains, err = matchlist.New("virtual_mailbox_domains", cfg.VirtualMailboxDomains, cfg.parentMatch("virtual_mailbox_domains")); err != nil {
		return nil, err
	}
	return local, nil
}

// interfaceAddrs expands an interface list into addresses. "all" means
// every address of this host.
func interfaceAddrs(param string, items []string) ([]string, error) {
	var addrs []string
	for _, item := range items {
		switch strings.ToLower(item) {
		case "all":
			ifaddrs, err := net.InterfaceAddrs()
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", param, err)
			}
			for _, a := range ifaddrs {
				if ipnet, ok := a.(*net.IPNet); ok {
					addrs = append(addrs, ipnet.IP.String())
				}
			}
		case "loopback-only":
			addrs = append(addrs, "127.0.0.1", "::1")
		default:
			item = strings.TrimSuffix(strings.TrimPrefix(item, "["), "]")
			ip := net.ParseIP(item)
			if ip == nil {
				return nil, fmt.Errorf("parameter %s: not an IP address: %s", param, item)
			}
			addrs = append(addrs, ip.String())
		}
	}
	return addrs, nil
}

// FlushCaches forgets cached address resolution and DNS list results.
func (e *Engine) FlushCaches() {
	e.resolver.Flush()
	e.dnsxl.Flush()
}

// Close releases tables and policy service connections.
func (e *Engine) Close() error {
	var lastErr error
	e.policyLock.Lock()
	for _, c := range e.policies {
		if err := c.Close(); err != nil {
			lastErr = err
		}
	}
	e.policyLock.Unlock()
	all := []*table.Maps{
		e.relayClientcerts, e.localRcptMaps, e.virtualMailboxMaps, e.relayRcptMaps,
		e.virtualAliasMaps, e.canonicalMaps, e.rcptCanonicalMaps, e.senderLoginMaps,
		e.rblReplyMaps, e.logPermitMaps,
	}
	for _, m := range e.maps {
		all = append(all, m)
	}
	for _, m := range all {
		if err := m.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
