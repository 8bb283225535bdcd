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
	"github.com/sblinch/smtpdcheck/framework/module"
	"github.com/sblinch/smtpdcheck/internal/check/access"
	"github.com/sblinch/smtpdcheck/internal/resolve"
	"github.com/sblinch/smtpdcheck/internal/restriction"
)

// lookupFunc performs one access table search.
type lookupFunc func(ctx context.Context, t module.Table) (access.Hit, bool, error)

// checkMap runs a check_*_access restriction against the table reference.
func (e *Engine) checkMap(ctx context.Context, s *Session, name restriction.Name, ref string, sc scope) (Result, error) {
	t, ok := e.maps[ref]
	if !ok {
		e.log.Msg("table is not open", "table", ref, "restriction", name.String())
		return Dunno, e.serverError(s)
	}
	w := e.walker

	switch name {
	case restriction.CheckClientAccess:
		return e.access(ctx, s, t, ref, s.namaddr(), nameClient, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
			return w.NamAddr(ctx, t, s.ClientName, s.ClientAddr)
		})
	case restriction.CheckReverseClientAccess:
		res, err := e.access(ctx, s, t, ref, s.ReverseName+"["+s.ClientAddr+"]", nameRevClient, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
			return w.NamAddr(ctx, t, s.ReverseName, s.ClientAddr)
		})
		return e.forbidWhitelist(s, name, res, err, s.ReverseName)
	case restriction.CheckClientMXAccess, restriction.CheckClientNSAccess:
		if !s.knownName() {
			return Dunno, nil
		}
		return e.serverAccess(ctx, s, name, t, ref, s.ClientName, s.namaddr(), nameClient)
	case restriction.CheckReverseClientMXAccess, restriction.CheckReverseClientNSAccess:
		if !s.knownReverseName() {
			return Dunno, nil
		}
		return e.serverAccess(ctx, s, name, t, ref, s.ReverseName, s.ReverseName+"["+s.ClientAddr+"]", nameRevClient)
	case restriction.CheckCcertAccess:
		return e.ccertAccess(ctx, s, t, ref)
	case restriction.CheckSASLAccess:
		if !e.cfg.SASLEnabled {
			e.log.Msg("restriction ignored: no SASL support", "restriction", name.String())
			return Dunno, nil
		}
		if s.SASLUsername == "" {
			return Dunno, nil
		}
		replyName := strings.Map(func(r rune) rune {
			if r < ' ' || r > '~' {
				return '_'
			}
			return r
		}, s.SASLUsername)
		return e.access(ctx, s, t, ref, replyName, nameSASLUser, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
			return w.Exact(ctx, t, s.SASLUsername)
		})

	case restriction.CheckHeloAccess:
		if s.HeloName == "" {
			return Dunno, nil
		}
		return e.access(ctx, s, t, ref, s.HeloName, nameHelo, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
			return w.Domain(ctx, t, s.HeloName, false)
		})
	case restriction.CheckHeloMXAccess, restriction.CheckHeloNSAccess:
		if s.HeloName == "" {
			return Dunno, nil
		}
		return e.serverAccess(ctx, s, name, t, ref, s.HeloName, s.HeloName, nameHelo)

	case restriction.CheckSenderAccess:
		if !s.HasSender {
			return Dunno, nil
		}
		if s.Sender == "" {
			return e.access(ctx, s, t, ref, s.Sender, nameSender, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
				return w.Exact(ctx, t, e.cfg.NullAccessKey)
			})
		}
		return e.mailAccess(ctx, s, t, ref, s.Sender, nameSender)
	case restriction.CheckSenderMXAccess, restriction.CheckSenderNSAccess:
		if s.Sender == "" {
			return Dunno, nil
		}
		return e.serverAccess(ctx, s, name, t, ref, address.Domain(s.Sender), s.Sender, nameSender)

	case restriction.CheckRecipientAccess:
		if s.Recipient == "" {
			return Dunno, nil
		}
		return e.mailAccess(ctx, s, t, ref, s.Recipient, nameRecipient)
	case restriction.CheckRecipientMXAccess, restriction.CheckRecipientNSAccess:
		if s.Recipient == "" {
			return Dunno, nil
		}
		return e.serverAccess(ctx, s, name, t, ref, address.Domain(s.Recipient), s.Recipient, nameRecipient)

	case restriction.CheckEtrnAccess:
		if s.EtrnDomain == "" {
			return Dunno, nil
		}
		return e.access(ctx, s, t, ref, s.EtrnDomain, nameEtrn, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
			return w.Domain(ctx, t, s.EtrnDomain, false)
		})
	}

	e.log.Msg("restriction does not apply here", "restriction", name.String(), "stage", s.where)
	return Dunno, e.serverError(s)
}

// access runs one table search and interprets the value found. The reply
// quotes replyName with the given reply class.
func (e *Engine) access(ctx context.Context, s *Session, t module.Table, ref, replyName, replyClass string, find lookupFunc) (Result, error) {
	hit, ok, err := find(ctx, t)
	if err != nil {
		return Dunno, e.tableError(s, err, ref, replyName)
	}
	if !ok {
		return Dunno, nil
	}
	return e.interpret(ctx, s, ref, hit.Value, hit.Key, scope{replyName: replyName, replyClass: replyClass})
}

// mailAccess looks up an address after resolving it. An OK for a routed
// recipient address is ignored unless allow_untrusted_routing is set.
func (e *Engine) mailAccess(ctx context.Context, s *Session, t module.Table, ref, addr, replyClass string) (Result, error) {
	reply := e.resolver.Resolve(ctx, s.Sender, addr)
	if reply.Flags&resolve.FlagFail != 0 {
		return Dunno, e.dictRetry(s, addr)
	}
	suspicious := !e.cfg.AllowUntrustedRouting && reply.Flags&resolve.FlagRouted != 0 && replyClass == nameRecipient

	res, err := e.access(ctx, s, t, ref, addr, replyClass, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
		return e.walker.Mail(ctx, t, reply.Recipient)
	})
	if err == nil && res == OK && suspicious {
		e.log.Msg("access table OK ignored for address with source routing", "table", ref, "address", addr)
		return Dunno, nil
	}
	return res, err
}

// serverAccess looks up the MX or NS hosts of domain.
func (e *Engine) serverAccess(ctx context.Context, s *Session, name restriction.Name, t module.Table, ref, domain, replyName, replyClass string) (Result, error) {
	st := access.MX
	switch name {
	case restriction.CheckClientNSAccess, restriction.CheckReverseClientNSAccess, restriction.CheckHeloNSAccess,
		restriction.CheckSenderNSAccess, restriction.CheckRecipientNSAccess:
		st = access.NS
	}
	if domain == "" || strings.HasPrefix(domain, "[") {
		return Dunno, nil
	}
	res, err := e.access(ctx, s, t, ref, replyName, replyClass, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
		return e.walker.Server(ctx, t, st, domain)
	})
	return e.forbidWhitelist(s, name, res, err, domain)
}

// forbidWhitelist refuses an OK from restrictions whose lookup key the
// client controls.
func (e *Engine) forbidWhitelist(s *Session, name restriction.Name, res Result, err error, what string) (Result, error) {
	if err != nil || res != OK {
		return res, err
	}
	e.log.Msg("restriction returns OK, this is not allowed for security reasons; use DUNNO instead of OK if you want to make an exception",
		"restriction", name.String(), "name", what)
	return Dunno, e.serverError(s)
}

// ccertAccess looks up the client certificate fingerprint, then the
// public key fingerprint.
func (e *Engine) ccertAccess(ctx context.Context, s *Session, t module.Table, ref string) (Result, error) {
	if !s.TLS.certPresent() {
		return Dunno, nil
	}
	for _, fp := range []string{s.TLS.CertFingerprint, s.TLS.PkeyFingerprint} {
		if fp == "" {
			continue
		}
		fp := fp
		res, err := e.access(ctx, s, t, ref, s.TLS.PeerCN, nameCcert, func(ctx context.Context, t module.Table) (access.Hit, bool, error) {
			return e.walker.Exact(ctx, t, fp)
		})
		if err != nil || res != Dunno {
			return res, err
		}
	}
	return Dunno, nil
}
