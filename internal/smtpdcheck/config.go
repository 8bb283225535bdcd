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
	"os"
	"time"

	"github.com/sblinch/smtpdcheck/framework/config"
)

// DefaultRBLReply is the default_rbl_reply template.
const DefaultRBLReply = "$rbl_code Service unavailable; $rbl_class [$rbl_what] blocked using $rbl_domain${rbl_reason?; $rbl_reason}"

const (
	tempfailDeferIfPermit = "defer_if_permit"
	tempfailDefer         = "defer"
)

// Config holds the parameters the engine uses. Restriction lists are kept
// as text and compiled by New.
type Config struct {
	ClientRestrictions    string
	HeloRestrictions      string
	SenderRestrictions    string
	RelayRestrictions     string
	RecipientRestrictions string
	EtrnRestrictions      string
	DataRestrictions      string
	EODRestrictions       string
	RestrictionClasses    []string
	RewriteClients        string
	RelayBeforeRecipient  bool

	DelayReject           bool
	SoftBounce            bool
	AllowUntrustedRouting bool
	ParentMatch           []string
	NullAccessKey         string
	RecipientDelimiter    string
	DoubleBounceSender    string
	LogPermitActions      []string
	ShowUnknownTableName  bool
	SASLEnabled           bool
	TLSAskCcert           bool
	RejectUnlistedSender  bool
	RejectUnlistedRcpt    bool
	RHSBLRegisteredDomain bool

	MyHostname            string
	MyOrigin              string
	MyDestination         string
	MyNetworks            string
	InetInterfaces        []string
	ProxyInterfaces       []string
	RelayDomains          string
	VirtualAliasDomains   string
	VirtualMailboxDomains string
	RelayHost             string
	PermitMXBackupNets    string
	RelayClientcerts      string

	LocalTransport   string
	VirtualTransport string
	RelayTransport   string
	DefaultTransport string

	LocalRecipientMaps     string
	VirtualMailboxMaps     string
	RelayRecipientMaps     string
	VirtualAliasMaps       string
	CanonicalMaps          string
	RecipientCanonicalMaps string
	SenderLoginMaps        string
	RBLReplyMaps           string
	AddressVerifyMap       string

	UnknownClientCode      int
	InvalidHostnameCode    int
	UnknownHostnameCode    int
	NonFQDNCode            int
	UnknownAddressCode     int
	RelayCode              int
	MapsRBLCode            int
	AccessMapRejectCode    int
	AccessMapDeferCode     int
	RejectCode             int
	DeferCode              int
	MultiRcptBounceCode    int
	UnverifiedSenderReject int
	UnverifiedSenderDefer  int
	UnverifiedRcptReject   int
	UnverifiedRcptDefer    int
	LocalRcptCode          int
	RelayRcptCode          int
	VirtualAliasCode       int
	VirtualMailboxCode     int
	PlaintextCode          int

	UnknownHeloTempfail    string
	UnknownAddressTempfail string
	UnverifiedSenderTf     string
	UnverifiedRcptTf       string

	UnverifiedSenderWhy string
	UnverifiedRcptWhy   string
	VerifyPollCount     int
	VerifyPollDelay     time.Duration

	MapsRBLDomains  []string
	DefaultRBLReply string

	PolicyTimeout       time.Duration
	PolicyMaxIdle       time.Duration
	PolicyMaxTTL        time.Duration
	PolicyTryLimit      int
	PolicyRetryDelay    time.Duration
	PolicyDefaultAction string
	PolicyContext       string

	MessageSizeLimit int64
	QueueMinFree     int64

	CacheSize  int
	DNSServers []string
	DNSTimeout time.Duration
}

func defaultHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

// LoadConfig reads the engine parameters. Parameters missing from p take
// their defaults; $name references are expanded.
func LoadConfig(p *config.Params) (*Config, error) {
	if p == nil {
		p = config.NewParams(nil)
	}
	c := &Config{}
	m := config.NewMap(p)

	m.String("smtpd_client_restrictions", "", &c.ClientRestrictions)
	m.String("smtpd_helo_restrictions", "", &c.HeloRestrictions)
	m.String("smtpd_sender_restrictions", "", &c.SenderRestrictions)
	m.String("smtpd_relay_restrictions", "permit_mynetworks, permit_sasl_authenticated, defer_unauth_destination", &c.RelayRestrictions)
	m.String("smtpd_recipient_restrictions", "", &c.RecipientRestrictions)
	m.String("smtpd_etrn_restrictions", "", &c.EtrnRestrictions)
	m.String("smtpd_data_restrictions", "", &c.DataRestrictions)
	m.String("smtpd_end_of_data_restrictions", "", &c.EODRestrictions)
	m.StringList("smtpd_restriction_classes", "", &c.RestrictionClasses)
	m.String("local_header_rewrite_clients", "permit_inet_interfaces", &c.RewriteClients)
	m.Bool("smtpd_relay_before_recipient_restrictions", true, &c.RelayBeforeRecipient)

	m.Bool("smtpd_delay_reject", true, &c.DelayReject)
	m.Bool("soft_bounce", false, &c.SoftBounce)
	m.Bool("allow_untrusted_routing", false, &c.AllowUntrustedRouting)
	m.StringList("parent_domain_matches_subdomains",
		"debug_peer_list, fast_flush_domains, mynetworks, permit_mx_backup_networks, qmqpd_authorized_clients, relay_domains, smtpd_access_maps",
		&c.ParentMatch)
	m.String("smtpd_null_access_lookup_key", "<>", &c.NullAccessKey)
	m.String("recipient_delimiter", "", &c.RecipientDelimiter)
	m.String("double_bounce_sender", "double-bounce", &c.DoubleBounceSender)
	m.StringList("smtpd_log_access_permit_actions", "", &c.LogPermitActions)
	m.Bool("show_user_unknown_table_name", true, &c.ShowUnknownTableName)
	m.Bool("smtpd_sasl_auth_enable", false, &c.SASLEnabled)
	m.Bool("smtpd_tls_ask_ccert", false, &c.TLSAskCcert)
	m.Bool("smtpd_reject_unlisted_sender", false, &c.RejectUnlistedSender)
	m.Bool("smtpd_reject_unlisted_recipient", true, &c.RejectUnlistedRcpt)
	m.Bool("smtpd_rhsbl_registered_domain", false, &c.RHSBLRegisteredDomain)

	m.String("myhostname", defaultHostname(), &c.MyHostname)
	m.String("myorigin", "$myhostname", &c.MyOrigin)
	m.String("mydestination", "$myhostname, localhost", &c.MyDestination)
	m.String("mynetworks", "127.0.0.0/8 [::1]/128", &c.MyNetworks)
	m.StringList("inet_interfaces", "all", &c.InetInterfaces)
	m.StringList("proxy_interfaces", "", &c.ProxyInterfaces)
	m.String("relay_domains", "", &c.RelayDomains)
	m.String("virtual_alias_domains", "$virtual_alias_maps", &c.VirtualAliasDomains)
	m.String("virtual_mailbox_domains", "$virtual_mailbox_maps", &c.VirtualMailboxDomains)
	m.String("relayhost", "", &c.RelayHost)
	m.String("permit_mx_backup_networks", "", &c.PermitMXBackupNets)
	m.String("relay_clientcerts", "", &c.RelayClientcerts)

	m.String("local_transport", "local", &c.LocalTransport)
	m.String("virtual_transport", "virtual", &c.VirtualTransport)
	m.String("relay_transport", "relay", &c.RelayTransport)
	m.String("default_transport", "smtp", &c.DefaultTransport)

	m.String("local_recipient_maps", "", &c.LocalRecipientMaps)
	m.String("virtual_mailbox_maps", "", &c.VirtualMailboxMaps)
	m.String("relay_recipient_maps", "", &c.RelayRecipientMaps)
	m.String("virtual_alias_maps", "", &c.VirtualAliasMaps)
	m.String("canonical_maps", "", &c.CanonicalMaps)
	m.String("recipient_canonical_maps", "", &c.RecipientCanonicalMaps)
	m.String("smtpd_sender_login_maps", "", &c.SenderLoginMaps)
	m.String("rbl_reply_maps", "", &c.RBLReplyMaps)
	m.String("address_verify_map", "", &c.AddressVerifyMap)

	m.Int("unknown_client_reject_code", 450, &c.UnknownClientCode)
	m.Int("invalid_hostname_reject_code", 501, &c.InvalidHostnameCode)
	m.Int("unknown_hostname_reject_code", 450, &c.UnknownHostnameCode)
	m.Int("non_fqdn_reject_code", 504, &c.NonFQDNCode)
	m.Int("unknown_address_reject_code", 450, &c.UnknownAddressCode)
	m.Int("relay_domains_reject_code", 554, &c.RelayCode)
	m.Int("maps_rbl_reject_code", 554, &c.MapsRBLCode)
	m.Int("access_map_reject_code", 554, &c.AccessMapRejectCode)
	m.Int("access_map_defer_code", 450, &c.AccessMapDeferCode)
	m.Int("reject_code", 554, &c.RejectCode)
	m.Int("defer_code", 450, &c.DeferCode)
	m.Int("multi_recipient_bounce_reject_code", 550, &c.MultiRcptBounceCode)
	m.Int("unverified_sender_reject_code", 450, &c.UnverifiedSenderReject)
	m.Int("unverified_sender_defer_code", 450, &c.UnverifiedSenderDefer)
	m.Int("unverified_recipient_reject_code", 450, &c.UnverifiedRcptReject)
	m.Int("unverified_recipient_defer_code", 450, &c.UnverifiedRcptDefer)
	m.Int("unknown_local_recipient_reject_code", 550, &c.LocalRcptCode)
	m.Int("unknown_relay_recipient_reject_code", 550, &c.RelayRcptCode)
	m.Int("unknown_virtual_alias_reject_code", 550, &c.VirtualAliasCode)
	m.Int("unknown_virtual_mailbox_reject_code", 550, &c.VirtualMailboxCode)
	m.Int("plaintext_reject_code", 450, &c.PlaintextCode)

	tempfail := []string{tempfailDeferIfPermit, tempfailDefer}
	var rejectTempfail string
	m.Enum("reject_tempfail_action", tempfail, tempfailDeferIfPermit, &rejectTempfail)
	m.Enum("unknown_helo_hostname_tempfail_action", tempfail, "$reject_tempfail_action", &c.UnknownHeloTempfail)
	m.Enum("unknown_address_tempfail_action", tempfail, "$reject_tempfail_action", &c.UnknownAddressTempfail)
	m.Enum("unverified_sender_tempfail_action", tempfail, "$reject_tempfail_action", &c.UnverifiedSenderTf)
	m.Enum("unverified_recipient_tempfail_action", tempfail, "$reject_tempfail_action", &c.UnverifiedRcptTf)

	m.String("unverified_sender_reject_reason", "", &c.UnverifiedSenderWhy)
	m.String("unverified_recipient_reject_reason", "", &c.UnverifiedRcptWhy)
	m.Int("address_verify_poll_count", 3, &c.VerifyPollCount)
	m.Duration("address_verify_poll_delay", "3s", &c.VerifyPollDelay)

	m.StringList("maps_rbl_domains", "", &c.MapsRBLDomains)

	m.Duration("smtpd_policy_service_timeout", "100s", &c.PolicyTimeout)
	m.Duration("smtpd_policy_service_max_idle", "300s", &c.PolicyMaxIdle)
	m.Duration("smtpd_policy_service_max_ttl", "1000s", &c.PolicyMaxTTL)
	m.Int("smtpd_policy_service_try_limit", 2, &c.PolicyTryLimit)
	m.Duration("smtpd_policy_service_retry_delay", "1s", &c.PolicyRetryDelay)
	m.String("smtpd_policy_service_default_action", "451 4.3.5 Server configuration problem", &c.PolicyDefaultAction)
	m.String("smtpd_policy_service_policy_context", "", &c.PolicyContext)

	m.Int64("message_size_limit", 10240000, &c.MessageSizeLimit)
	m.Int64("queue_minfree", 0, &c.QueueMinFree)

	m.Int("smtpd_check_cache_size", 10000, &c.CacheSize)
	m.StringList("smtpd_dns_servers", "", &c.DNSServers)
	m.Duration("smtpd_dns_timeout", "10s", &c.DNSTimeout)

	if err := m.Process(); err != nil {
		return nil, err
	}

	// The template refers to variables that only exist at reply time.
	c.DefaultRBLReply = DefaultRBLReply
	if v, ok := p.Raw("default_rbl_reply"); ok {
		c.DefaultRBLReply = v
	}
	return c, nil
}

func (c *Config) parentMatch(param string) bool {
	for _, name := range c.ParentMatch {
		if name == param {
			return true
		}
	}
	return false
}
