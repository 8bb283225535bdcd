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

package access

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/address"
	"github.com/sblinch/smtpdcheck/framework/dns"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
	"github.com/sblinch/smtpdcheck/framework/module"
)

type ServerType int

const (
	MX ServerType = iota
	NS
)

func (st ServerType) String() string {
	if st == NS {
		return "NS"
	}
	return "MX"
}

func dnsError(st ServerType, domain string, status dns.Status, err error) error {
	if err == nil {
		err = fmt.Errorf("%v", status)
	}
	return exterrors.WithTemporary(fmt.Errorf("unable to look up %v host for %s: %w", st, domain, err), true)
}

// servers returns the MX or NS host names for the domain. A domain
// without MX records is its own mail server; a domain without NS records
// uses the servers of its closest parent that has them.
func (w *Walker) servers(ctx context.Context, st ServerType, domain string) ([]string, error) {
	var (
		hosts  []string
		status dns.Status
		err    error
	)
	switch st {
	case MX:
		var mxs []*net.MX
		mxs, status, err = w.DNS.LookupMX(ctx, domain)
		switch {
		case status == dns.StatusOK:
			for _, mx := range mxs {
				hosts = append(hosts, mx.Host)
			}
		case status.Missing():
			hosts = []string{domain}
		case status == dns.StatusNullMX:
			w.Log.Msg("domain does not accept mail", "domain", domain)
		default:
			return nil, dnsError(st, domain, status, err)
		}
	case NS:
		name := domain
		for {
			var nss []*net.NS
			nss, status, err = w.DNS.LookupNS(ctx, name)
			if status == dns.StatusOK {
				for _, ns := range nss {
					hosts = append(hosts, ns.Host)
				}
				break
			}
			if !status.Definitive() {
				return nil, dnsError(st, name, status, err)
			}
			indx := strings.IndexByte(name, '.')
			if status != dns.StatusNoData || indx == -1 || indx == len(name)-1 {
				w.Log.Msg("unable to look up NS host", "domain", domain, "status", status.String())
				return nil, nil
			}
			name = name[indx+1:]
		}
	}

	for i := range hosts {
		hosts[i] = strings.ToLower(strings.TrimSuffix(hosts[i], "."))
	}
	return hosts, nil
}

// Server looks up the MX or NS hosts of the domain part of name. Each host
// is looked up by name with a domain walk and then by each of its
// addresses with an address walk. Hosts given as numeric addresses only
// get the address walk. An address literal is treated as its own MX host.
func (w *Walker) Server(ctx context.Context, t module.Table, st ServerType, name string) (Hit, bool, error) {
	domain := name
	if indx := strings.LastIndexByte(name, '@'); indx != -1 {
		domain = name[indx+1:]
	}
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return Hit{}, false, nil
	}

	if domain[0] == '[' {
		if st != MX || !address.IsLiteral(domain) {
			return Hit{}, false, nil
		}
		bare, ok := address.ValidMailhostAddr(domain[1 : len(domain)-1])
		if !ok {
			return Hit{}, false, nil
		}
		return w.Addr(ctx, t, bare, false)
	}

	hosts, err := w.servers(ctx, st, domain)
	if err != nil {
		return Hit{}, false, err
	}

	for _, host := range hosts {
		if host == "" {
			continue
		}
		if address.ValidHostAddr(host) {
			hit, ok, err := w.Addr(ctx, t, host, false)
			if err != nil || ok {
				return hit, ok, err
			}
			continue
		}

		hit, ok, err := w.Domain(ctx, t, host, false)
		if err != nil || ok {
			return hit, ok, err
		}

		ips, status, err := w.DNS.LookupIP(ctx, host)
		if !status.Definitive() {
			return Hit{}, false, dnsError(st, host, status, err)
		}
		if status != dns.StatusOK {
			w.Log.DebugMsg("server has no address", "type", st.String(), "host", host, "status", status.String())
			continue
		}
		for _, ip := range ips {
			hit, ok, err := w.Addr(ctx, t, ip.String(), false)
			if err != nil || ok {
				return hit, ok, err
			}
		}
	}
	return Hit{}, false, nil
}
