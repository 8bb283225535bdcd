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
	"strings"

	"github.com/sblinch/smtpdcheck/framework/address"
	"github.com/sblinch/smtpdcheck/framework/dns"
	"github.com/sblinch/smtpdcheck/internal/resolve"
)

func (e *Engine) rejectInvalidHostaddr(s *Session, addr, replyName, replyClass string) Result {
	if address.IsLiteral(addr) {
		addr = addr[1 : len(addr)-1]
	}
	if _, ok := address.ValidMailhostAddr(addr); !ok {
		return e.checkReject(s, ClassPolicy, e.cfg.InvalidHostnameCode, "5.5.2",
			"<%s>: %s rejected: invalid ip address", replyName, replyClass)
	}
	return Dunno
}

func (e *Engine) rejectInvalidHostname(s *Session, name, replyName, replyClass string) Result {
	name = address.TrimDot(name)
	if !address.ValidHostname(name) && !address.ValidHostAddr(name) {
		return e.checkReject(s, ClassPolicy, e.cfg.InvalidHostnameCode, "5.5.2",
			"<%s>: %s rejected: Invalid name", replyName, replyClass)
	}
	return Dunno
}

func (e *Engine) rejectNonFQDNHostname(s *Session, name, replyName, replyClass string) Result {
	name = address.TrimDot(name)
	if !address.ValidHostname(name) || strings.IndexByte(name, '.') == -1 {
		return e.checkReject(s, ClassPolicy, e.cfg.NonFQDNCode, "5.5.2",
			"<%s>: %s rejected: need fully-qualified hostname", replyName, replyClass)
	}
	return Dunno
}

// rejectUnknownHostname requires an address or MX record for a HELO name.
func (e *Engine) rejectUnknownHostname(ctx context.Context, s *Session, name, replyName, replyClass string) Result {
	name = address.TrimDot(name)
	_, status, err := e.dns.LookupIP(ctx, name)
	if status != dns.StatusOK && status != dns.StatusRetry && status != dns.StatusPolicy {
		_, status, err = e.dns.LookupMX(ctx, name)
	}
	switch status {
	case dns.StatusOK:
		return Dunno
	case dns.StatusRetry, dns.StatusPolicy:
		e.log.DebugMsg("host name lookup failed", "name", name, "status", status.String(), "reason", err)
		return e.deferIfPermit(s, e.cfg.UnknownHeloTempfail == tempfailDeferIfPermit, ClassPolicy, 450, "4.7.1",
			"<%s>: %s rejected: Host not found", replyName, replyClass)
	case dns.StatusInvalid:
		return e.checkReject(s, ClassPolicy, e.cfg.UnknownHostnameCode, "4.7.1",
			"<%s>: %s rejected: Malformed DNS server reply", replyName, replyClass)
	}
	return e.checkReject(s, ClassPolicy, e.cfg.UnknownHostnameCode, "4.7.1",
		"<%s>: %s rejected: Host not found", replyName, replyClass)
}

// rejectUnknownMailhost requires an MX or address record for the domain
// of a mail address. A null MX is refused outright.
func (e *Engine) rejectUnknownMailhost(ctx context.Context, s *Session, domain, replyName, replyClass string) Result {
	domain = address.TrimDot(domain)
	dsn := "4.1.2"
	if replyClass == nameSender {
		dsn = "4.1.8"
	}

	_, status, err := e.dns.LookupMX(ctx, domain)
	if status == dns.StatusNullMX {
		code := 556
		if replyClass == nameSender {
			code = 550
		}
		return e.checkReject(s, ClassPolicy, code, "5.1.10",
			"<%s>: %s rejected: Domain %s does not accept mail (nullMX)", replyName, replyClass, domain)
	}
	if status.Missing() {
		_, status, err = e.dns.LookupIP(ctx, domain)
	}
	switch status {
	case dns.StatusOK:
		return Dunno
	case dns.StatusRetry, dns.StatusPolicy:
		e.log.DebugMsg("mail domain lookup failed", "domain", domain, "status", status.String(), "reason", err)
		return e.deferIfPermit(s, e.cfg.UnknownAddressTempfail == tempfailDeferIfPermit, ClassPolicy, 450, dsn,
			"<%s>: %s rejected: Domain not found", replyName, replyClass)
	case dns.StatusInvalid:
		return e.checkReject(s, ClassPolicy, e.cfg.UnknownAddressCode, dsn,
			"<%s>: %s rejected: Malformed DNS server reply", replyName, replyClass)
	}
	return e.checkReject(s, ClassPolicy, e.cfg.UnknownAddressCode, dsn,
		"<%s>: %s rejected: Domain not found", replyName, replyClass)
}

// rejectUnknownAddress checks the domain of a mail address that is not
// delivered here.
func (e *Engine) rejectUnknownAddress(ctx context.Context, s *Session, addr, replyName, replyClass string) (Result, error) {
	reply := e.resolver.Resolve(ctx, s.Sender, addr)
	if reply.Flags&resolve.FlagFail != 0 {
		return Dunno, e.dictRetry(s, addr)
	}
	domain := address.Domain(reply.Recipient)
	if strings.IndexByte(reply.Recipient, '@') == -1 || reply.Flags&resolve.ClassFinal != 0 || address.IsLiteral(domain) {
		return Dunno, nil
	}
	return e.rejectUnknownMailhost(ctx, s, domain, replyName, replyClass), nil
}

func (e *Engine) rejectNonFQDNAddress(s *Session, addr, replyName, replyClass string) Result {
	domain := address.Domain(addr)
	if address.IsLiteral(domain) {
		return Dunno
	}
	domain = address.TrimDot(domain)
	if domain == "" || !address.ValidHostname(domain) || strings.IndexByte(domain, '.') == -1 {
		return e.checkReject(s, ClassPolicy, e.cfg.NonFQDNCode, "4.5.2",
			"<%s>: %s rejected: need fully-qualified address", replyName, replyClass)
	}
	return Dunno
}
