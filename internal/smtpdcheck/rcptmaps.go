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

	"github.com/sblinch/smtpdcheck/internal/resolve"
	"github.com/sblinch/smtpdcheck/internal/table"
)

func (e *Engine) checkSenderRcptMaps(ctx context.Context, s *Session, sender string) (Result, error) {
	if s.senderRcptmapChecked {
		return Dunno, nil
	}
	if s.warnIfReject == 0 {
		s.senderRcptmapChecked = true
	}
	return e.checkRcptMaps(ctx, s, sender, sender, nameSender)
}

func (e *Engine) checkRecipientRcptMaps(ctx context.Context, s *Session, rcpt string) (Result, error) {
	if s.recipientRcptmapChecked {
		return Dunno, nil
	}
	if s.warnIfReject == 0 {
		s.recipientRcptmapChecked = true
	}
	return e.checkRcptMaps(ctx, s, s.Sender, rcpt, nameRecipient)
}

// checkRcptMaps rejects addresses in domains delivered or relayed here
// that none of the recipient tables knows.
func (e *Engine) checkRcptMaps(ctx context.Context, s *Session, sender, addr, replyClass string) (Result, error) {
	reply := e.resolver.Resolve(ctx, sender, addr)
	if reply.Flags&resolve.FlagFail != 0 {
		return Dunno, e.dictRetry(s, addr)
	}

	// Addresses rewritten by canonical or virtual alias tables are known.
	for _, m := range []*table.Maps{e.rcptCanonicalMaps, e.canonicalMaps, e.virtualAliasMaps} {
		found, err := e.findAddr(ctx, m, reply.Recipient, reply.Class() == resolve.ClassLocal)
		if err != nil {
			return Dunno, e.tableError(s, err, m.Param, addr)
		}
		if found {
			return Dunno, nil
		}
	}

	if reply.Transport == "error" {
		def := "5.1.1"
		if replyClass == nameSender {
			def = "5.1.0"
		}
		dsn, text := dsnSplit(def, reply.Nexthop)
		code := 550
		if reply.Class() == resolve.ClassAlias {
			code = e.cfg.VirtualAliasCode
		}
		return e.checkReject(s, ClassBounce, code, dsnFix(dsn, replyClass),
			"<%s>: %s rejected: %s", addr, replyClass, text), nil
	}

	var (
		maps  *table.Maps
		code  int
		label string
	)
	switch reply.Class() {
	case resolve.ClassLocal:
		if e.localRcptMaps.Empty() || isMailerDaemon(reply.Recipient, e.cfg.DoubleBounceSender) {
			return Dunno, nil
		}
		maps, code, label = e.localRcptMaps, e.cfg.LocalRcptCode, " in local recipient table"
	case resolve.ClassVirtual:
		if e.virtualMailboxMaps.Empty() {
			return Dunno, nil
		}
		maps, code, label = e.virtualMailboxMaps, e.cfg.VirtualMailboxCode, " in virtual mailbox table"
	case resolve.ClassRelay:
		if e.relayRcptMaps.Empty() {
			return Dunno, nil
		}
		maps, code, label = e.relayRcptMaps, e.cfg.RelayRcptCode, " in relay recipient table"
	default:
		return Dunno, nil
	}

	found, err := e.findAddr(ctx, maps, reply.Recipient, reply.Class() == resolve.ClassLocal)
	if err != nil {
		return Dunno, e.tableError(s, err, maps.Param, addr)
	}
	if found {
		return Dunno, nil
	}
	if !e.cfg.ShowUnknownTableName {
		label = ""
	}
	dsn := "5.1.1"
	if replyClass == nameSender {
		dsn = "5.1.0"
	}
	return e.checkReject(s, ClassBounce, code, dsn,
		"<%s>: %s rejected: User unknown%s", addr, replyClass, label), nil
}

// findAddr looks up an address the way the delivery agents do: the full
// address, the address without extension, the bare local part for local
// domains, then the catch-all @domain.
func (e *Engine) findAddr(ctx context.Context, m *table.Maps, addr string, local bool) (bool, error) {
	if m.Empty() {
		return false, nil
	}
	addr = strings.ToLower(addr)
	keys := []string{addr}
	if indx := strings.LastIndexByte(addr, '@'); indx != -1 {
		user, domain := addr[:indx], addr[indx:]
		base := user
		if e.cfg.RecipientDelimiter != "" {
			if cut := strings.IndexAny(user, e.cfg.RecipientDelimiter); cut > 0 {
				base = user[:cut]
				keys = append(keys, base+domain)
			}
		}
		if local {
			keys = append(keys, user)
			if base != user {
				keys = append(keys, base)
			}
		}
		keys = append(keys, domain)
	}
	for _, key := range keys {
		_, ok, err := m.Lookup(ctx, key)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// isMailerDaemon reports whether the address is one of the names that
// must always be accepted locally.
func isMailerDaemon(addr, doubleBounce string) bool {
	local := addr
	if indx := strings.LastIndexByte(addr, '@'); indx != -1 {
		local = addr[:indx]
	}
	if doubleBounce == "" {
		doubleBounce = "double-bounce"
	}
	for _, name := range []string{doubleBounce, "postmaster", "MAILER-DAEMON"} {
		if strings.EqualFold(local, name) {
			return true
		}
	}
	return false
}
