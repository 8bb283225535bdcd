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
	"net"
	"sort"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/address"
	"github.com/sblinch/smtpdcheck/framework/dns"
	"github.com/sblinch/smtpdcheck/internal/resolve"
)

// permitAuthDestination accepts recipients that are delivered here or
// relayed to a domain listed in relay_domains.
func (e *Engine) permitAuthDestination(ctx context.Context, s *Session, rcpt string) (Result, error) {
	reply := e.resolver.Resolve(ctx, s.Sender, rcpt)
	if reply.Flags&resolve.FlagFail != 0 {
		return Dunno, e.dictRetry(s, rcpt)
	}
	if strings.IndexByte(reply.Recipient, '@') == -1 {
		return OK, nil
	}
	if !e.cfg.AllowUntrustedRouting && reply.Flags&resolve.FlagRouted != 0 {
		return Dunno, nil
	}
	if reply.Flags&(resolve.ClassFinal|resolve.ClassRelay) != 0 {
		return OK, nil
	}
	return Dunno, nil
}

func (e *Engine) rejectUnauthDestination(ctx context.Context, s *Session, rcpt string, code int, dsn string) (Result, error) {
	res, err := e.permitAuthDestination(ctx, s, rcpt)
	if err != nil || res == OK {
		return Dunno, err
	}
	return e.checkReject(s, ClassPolicy, code, dsn, "<%s>: Relay access denied", rcpt), nil
}

// checkRelayDomains is the old form of relay control: accept clients in
// relay_domains and authorized destinations, reject everything else.
func (e *Engine) checkRelayDomains(ctx context.Context, s *Session, rcpt string) (Result, error) {
	e.relayDomainsWarn.Do(func() {
		e.log.Msg("support for restriction check_relay_domains will be removed; use reject_unauth_destination instead")
	})

	ok, err := e.relayDomains.MatchDomain(ctx, s.ClientName)
	if err != nil {
		return Dunno, e.tableError(s, err, "relay_domains", rcpt)
	}
	if ok {
		return OK, nil
	}
	res, err := e.permitAuthDestination(ctx, s, rcpt)
	if err != nil || res == OK {
		return res, err
	}
	return e.checkReject(s, ClassPolicy, e.cfg.RelayCode, "5.7.1",
		"<%s>: %s rejected: Relay access denied", s.namaddr(), nameClient), nil
}

// permitMXBackup accepts mail for domains that list this host as a
// backup MX.
func (e *Engine) permitMXBackup(ctx context.Context, s *Session, rcpt string) (Result, error) {
	reply := e.resolver.Resolve(ctx, s.Sender, rcpt)
	if reply.Flags&resolve.FlagFail != 0 {
		return Dunno, e.dictRetry(s, rcpt)
	}
	if strings.IndexByte(reply.Recipient, '@') == -1 {
		return OK, nil
	}
	if !e.cfg.AllowUntrustedRouting && reply.Flags&resolve.FlagRouted != 0 {
		return Dunno, nil
	}
	if reply.Flags&(resolve.ClassFinal|resolve.ClassRelay) != 0 {
		return OK, nil
	}
	domain := address.Domain(reply.Recipient)
	if address.IsLiteral(domain) {
		return Dunno, nil
	}

	mxs, status, err := e.dns.LookupMX(ctx, domain)
	if status != dns.StatusOK {
		if status == dns.StatusRetry {
			e.log.DebugMsg("MX lookup failed", "domain", domain, "reason", err)
			deferIf(&s.deferIfReject, ClassPolicy, 450, "4.4.4",
				"<%s>: %s rejected: Unable to look up mail exchanger information", rcpt, nameRecipient)
		}
		return Dunno, nil
	}

	sorted := append([]*net.MX(nil), mxs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Pref < sorted[j].Pref })
	split := 1
	for split < len(sorted) && sorted[split].Pref == sorted[0].Pref {
		split++
	}
	primaries, backups := sorted[:split], sorted[split:]

	if e.isMX(ctx, s, rcpt, primaries) {
		return Dunno, nil
	}
	if len(backups) == 0 || !e.isMX(ctx, s, rcpt, backups) {
		return Dunno, nil
	}
	if !e.mxBackupNetworks.Empty() && !e.primariesAuthorized(ctx, s, rcpt, primaries) {
		return Dunno, nil
	}
	return OK, nil
}

// isMX reports whether one of the hosts is this host: a local domain, or
// a name with an address on one of the interfaces.
func (e *Engine) isMX(ctx context.Context, s *Session, rcpt string, mxs []*net.MX) bool {
	for _, mx := range mxs {
		host := address.TrimDot(mx.Host)
		reply := e.resolver.Resolve(ctx, "", "postmaster@"+host)
		if reply.Flags&resolve.ClassLocal != 0 {
			return true
		}
	}
	for _, mx := range mxs {
		host := address.TrimDot(mx.Host)
		ips, status, err := e.dns.LookupIP(ctx, host)
		if status != dns.StatusOK {
			reason := status.String()
			if err != nil {
				reason = err.Error()
			}
			deferIf(&s.deferIfReject, ClassPolicy, 450, "4.4.4",
				"<%s>: %s rejected: Unable to look up mail exchanger host %s: %s", rcpt, nameRecipient, host, reason)
			continue
		}
		for _, ip := range ips {
			if e.isInetInterface(ip.String()) || e.isProxyInterface(ip.String()) {
				return true
			}
		}
	}
	return false
}

// primariesAuthorized reports whether every primary MX host has its
// addresses in permit_mx_backup_networks.
func (e *Engine) primariesAuthorized(ctx context.Context, s *Session, rcpt string, mxs []*net.MX) bool {
	for _, mx := range mxs {
		host := address.TrimDot(mx.Host)
		ips, status, _ := e.dns.LookupIP(ctx, host)
		if status != dns.StatusOK {
			deferIf(&s.deferIfReject, ClassPolicy, 450, "4.4.4",
				"<%s>: %s rejected: Unable to look up host %s as mail exchanger", rcpt, nameRecipient, host)
			return false
		}
		for _, ip := range ips {
			ok, err := e.mxBackupNetworks.MatchNamAddr(ctx, host, ip.String())
			if err != nil {
				deferIf(&s.deferIfReject, ClassPolicy, 450, "4.4.4",
					"<%s>: %s rejected: Unable to verify host %s as mail exchanger", rcpt, nameRecipient, host)
				return false
			}
			if !ok {
				e.log.DebugMsg("primary MX address not in permit_mx_backup_networks", "host", host, "address", ip.String())
				return false
			}
		}
	}
	return true
}
