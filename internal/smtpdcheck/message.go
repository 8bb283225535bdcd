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
	"errors"

	"github.com/sblinch/smtpdcheck/framework/exterrors"
	"github.com/sblinch/smtpdcheck/internal/resolve"
	"github.com/sblinch/smtpdcheck/internal/restriction"
)

// ErrBadAddress is returned by CheckAddr for addresses that cannot be
// parsed.
var ErrBadAddress = errors.New("smtpdcheck: bad address syntax")

// CheckSize refuses messages announced larger than message_size_limit.
func (e *Engine) CheckSize(s *Session, size int64) error {
	s.resetEval()
	if e.cfg.MessageSizeLimit > 0 && size > e.cfg.MessageSizeLimit {
		e.checkReject(s, ClassPolicy, 552, "5.3.4", "Message size exceeds fixed limit")
		return s.reply
	}
	return nil
}

// CheckQueue refuses new mail when the queue file system is low on space:
// below queue_minfree, or below one and a half times the message size
// limit.
func (e *Engine) CheckQueue(ctx context.Context, s *Session) error {
	if e.queue == nil {
		return nil
	}
	free, err := e.queue.FreeBytes(ctx)
	if err != nil {
		e.log.Error("cannot determine free queue space", err)
		return nil
	}
	if free > e.cfg.QueueMinFree && float64(free) >= 1.5*float64(e.cfg.MessageSizeLimit) {
		return nil
	}
	e.log.Msg("not enough free space in mail queue", "free_bytes", free,
		"queue_minfree", e.cfg.QueueMinFree, "message_size_limit", e.cfg.MessageSizeLimit)
	s.resetEval()
	e.checkReject(s, ClassResource, 452, "4.3.1", "Insufficient system storage")
	return s.reply
}

// CheckRewrite decides with local_header_rewrite_clients whether the
// headers of mail from this client are rewritten as local mail.
func (e *Engine) CheckRewrite(ctx context.Context, s *Session) (bool, error) {
	for _, r := range e.rewrite.List {
		var (
			ok  bool
			err error
		)
		switch r.Name {
		case restriction.PermitInetInterfaces:
			ok = e.isInetInterface(s.ClientAddr)
		case restriction.PermitMynetworks:
			ok, err = e.inMynetworks(ctx, s)
		case restriction.PermitSASLAuthenticated:
			ok = e.saslAuthenticated(s)
		case restriction.PermitTLSClientcerts, restriction.PermitTLSAllClientcerts:
			ok, err = e.clientCertTrusted(ctx, s, r.Name == restriction.PermitTLSAllClientcerts)
		case restriction.CheckAddressMap:
			_, ok, err = e.maps[r.Arg].Lookup(ctx, s.ClientAddr)
		default:
			if r.Kind == restriction.KindDefaultMap {
				_, ok, err = e.maps[r.Arg].Lookup(ctx, s.ClientAddr)
			}
		}
		if err != nil {
			e.log.Error("local_header_rewrite_clients lookup failed", err, "restriction", r.String())
			s.resetEval()
			if exterrors.IsTemporary(err) {
				e.checkReject(s, ClassResource, 451, "4.3.0", "Temporary lookup error")
			} else {
				e.checkReject(s, ClassSoftware, 451, "4.3.5", "Server configuration error")
			}
			return false, s.reply
		}
		if ok {
			e.log.DebugMsg("client headers rewritten as local", "client", s.namaddr(), "restriction", r.String())
			return true, nil
		}
	}
	return false, nil
}

// CheckAddr reports whether an address can be parsed and resolved.
func (e *Engine) CheckAddr(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	reply := e.resolver.Resolve(ctx, "", addr)
	if reply.Flags&resolve.FlagError != 0 {
		return ErrBadAddress
	}
	return nil
}
