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
	"time"

	"github.com/sblinch/smtpdcheck/internal/restriction"
)

// evaluate runs a restriction list. It stops at the first restriction that
// permits or rejects, after a DISCARD action, and once both a
// defer_if_permit and a defer_if_reject are pending.
//
// The returned error is an *Abort, or the context error if a sleep was
// interrupted.
func (e *Engine) evaluate(ctx context.Context, s *Session, list []restriction.Restriction, sc scope) (Result, error) {
	saved := s.recursion
	s.recursion++
	defer func() {
		s.recursion = saved
		if s.warnIfReject >= s.recursion {
			s.warnIfReject = 0
		}
	}()
	if s.recursion > maxRecursion {
		e.log.Msg("restriction lists nest too deeply, check for restriction class loops",
			"name", sc.replyName, "depth", s.recursion)
		return Dunno, e.serverError(s)
	}

	res := Dunno
	for _, r := range list {
		if s.actions.Discard {
			break
		}
		if r.Name == restriction.WarnIfReject {
			if s.warnIfReject == 0 {
				s.warnIfReject = s.recursion
			}
			continue
		}

		var err error
		res, err = e.apply(ctx, s, r, sc)
		if err != nil {
			return Dunno, err
		}
		e.log.DebugMsg("restriction evaluated", "restriction", r.String(), "name", sc.replyName, "result", res)

		if s.warnIfReject >= s.recursion {
			s.warnIfReject = 0
		}
		if res != Dunno {
			break
		}
		if s.deferIfPermit.active && s.deferIfReject.active {
			break
		}
	}
	return res, nil
}

// apply runs a single restriction.
func (e *Engine) apply(ctx context.Context, s *Session, r restriction.Restriction, sc scope) (Result, error) {
	switch r.Kind {
	case restriction.KindUnconditional:
		switch r.Name {
		case restriction.Permit:
			return e.aclPermit(ctx, s, r.Text, sc.replyClass, sc.replyName, ""), nil
		case restriction.Defer:
			return e.checkReject(s, ClassPolicy, e.cfg.DeferCode, "4.3.2",
				"<%s>: %s rejected: Try again later", sc.replyName, sc.replyClass), nil
		default:
			return e.checkReject(s, ClassPolicy, e.cfg.RejectCode, "5.7.1",
				"<%s>: %s rejected: Access denied", sc.replyName, sc.replyClass), nil
		}
	case restriction.KindPseudo:
		switch r.Name {
		case restriction.Sleep:
			return Dunno, sleep(ctx, r.Sleep)
		case restriction.DeferIfPermit:
			return e.deferIfPermit(s, true, ClassPolicy, 450, "4.7.0",
				"<%s>: %s rejected: defer_if_permit requested", sc.replyName, sc.replyClass), nil
		case restriction.DeferIfReject:
			return deferIf(&s.deferIfReject, ClassPolicy, 450, "4.7.0",
				"<%s>: %s rejected: defer_if_reject requested", sc.replyName, sc.replyClass), nil
		}
	case restriction.KindBuiltin, restriction.KindDNSList:
		return e.builtin(ctx, s, r, sc)
	case restriction.KindMap:
		return e.checkMap(ctx, s, r.Name, r.Arg, sc)
	case restriction.KindDefaultMap:
		name, ok := restriction.Lookup(sc.defMap)
		if !ok {
			e.log.Msg("specify one of (check_client_access, check_reverse_client_access, check_helo_access, "+
				"check_sender_access, check_recipient_access, check_etrn_access) before table", "table", r.Arg)
			return Dunno, e.serverError(s)
		}
		return e.checkMap(ctx, s, name, r.Arg, sc)
	case restriction.KindClass:
		prog, ok := e.classes[r.Arg]
		if !ok {
			e.log.Msg("undefined restriction class", "class", r.Arg)
			return Dunno, e.serverError(s)
		}
		return e.evaluate(ctx, s, prog.List, sc)
	case restriction.KindPolicy:
		return e.checkPolicy(ctx, s, r.Policy, sc)
	}
	e.log.Msg("unknown restriction", "restriction", r.String())
	return Dunno, e.serverError(s)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
