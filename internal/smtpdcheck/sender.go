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
	"github.com/sblinch/smtpdcheck/internal/resolve"
	"github.com/sblinch/smtpdcheck/internal/restriction"
	"github.com/sblinch/smtpdcheck/internal/verify"
)

// rejectUnverifiedAddress consults the address verification service.
// While a probe is in progress the service is polled a few times before
// the request is deferred.
func (e *Engine) rejectUnverifiedAddress(ctx context.Context, s *Session, addr, replyName, replyClass string,
	deferCode, rejectCode int, tempfail, altReason string) (Result, error) {

	dsn := "4.1.1"
	if replyClass == nameSender {
		dsn = "4.1.8"
	}
	tfAction := tempfail == tempfailDeferIfPermit

	var (
		status verify.Status
		why    string
		err    error
	)
	if e.verifier == nil {
		e.log.Msg("address verification is not configured", "address", addr)
		return e.deferIfPermit(s, tfAction, ClassPolicy, 450, dsn,
			"<%s>: %s rejected: address verification problem", replyName, replyClass), nil
	}
	for count := 1; ; count++ {
		status, why, err = e.verifier.Query(ctx, addr)
		if err != nil || status != verify.Todo || count >= e.cfg.VerifyPollCount {
			break
		}
		if err := sleep(ctx, e.cfg.VerifyPollDelay); err != nil {
			return Dunno, err
		}
	}
	if err != nil {
		e.log.Error("address verification failed", err, "address", addr)
		return e.deferIfPermit(s, tfAction, ClassPolicy, 450, dsn,
			"<%s>: %s rejected: address verification problem", replyName, replyClass), nil
	}

	code := 0
	switch status {
	case verify.Todo, verify.Defer:
		code = deferCode
	case verify.Bounce:
		code = rejectCode
	}
	if code >= 400 && altReason != "" {
		why = altReason
	}
	switch code / 100 {
	case 4:
		return e.deferIfPermit(s, tfAction, ClassPolicy, code, dsn,
			"<%s>: %s rejected: unverified address: %.250s", replyName, replyClass, why), nil
	case 5:
		return e.checkReject(s, ClassPolicy, code, dsn,
			"<%s>: %s rejected: undeliverable address: %s", replyName, replyClass, why), nil
	}
	return Dunno, nil
}

// senderLoginMismatch runs the reject_*_sender_login_mismatch family.
func (e *Engine) senderLoginMismatch(ctx context.Context, s *Session, r restriction.Restriction) (Result, error) {
	if !e.cfg.SASLEnabled {
		e.log.Msg("restriction ignored: no SASL support", "restriction", r.Text)
		return Dunno, nil
	}
	if s.Sender == "" {
		return Dunno, nil
	}
	switch r.Name {
	case restriction.RejectAuthenticatedSenderLoginMismatch:
		return e.rejectAuthSenderLoginMismatch(ctx, s, s.Sender, false)
	case restriction.RejectKnownSenderLoginMismatch:
		if s.SASLUsername != "" {
			return e.rejectAuthSenderLoginMismatch(ctx, s, s.Sender, true)
		}
		return e.rejectUnauthSenderLoginMismatch(ctx, s, s.Sender)
	case restriction.RejectUnauthenticatedSenderLoginMismatch:
		return e.rejectUnauthSenderLoginMismatch(ctx, s, s.Sender)
	default:
		if s.SASLUsername != "" {
			return e.rejectAuthSenderLoginMismatch(ctx, s, s.Sender, false)
		}
		return e.rejectUnauthSenderLoginMismatch(ctx, s, s.Sender)
	}
}

// senderOwners returns the logins that may use the sender address.
func (e *Engine) senderOwners(ctx context.Context, s *Session, sender string) (string, bool, error) {
	reply := e.resolver.Resolve(ctx, "", sender)
	if reply.Flags&resolve.FlagFail != 0 {
		return "", false, e.dictRetry(s, sender)
	}
	hit, ok, err := e.walker.Mail(ctx, e.senderLoginMaps, reply.Recipient)
	if err != nil {
		return "", false, e.tableError(s, err, "smtpd_sender_login_maps", sender)
	}
	return hit.Value, ok, nil
}

func (e *Engine) rejectAuthSenderLoginMismatch(ctx context.Context, s *Session, sender string, allowUnknown bool) (Result, error) {
	if e.senderLoginMaps.Empty() || s.SASLUsername == "" {
		return Dunno, nil
	}
	owners, found, err := e.senderOwners(ctx, s, sender)
	if err != nil {
		return Dunno, err
	}
	if !found && allowUnknown {
		return Dunno, nil
	}
	if found {
		for _, owner := range strings.FieldsFunc(owners, isListSep) {
			if strings.EqualFold(owner, s.SASLUsername) {
				return Dunno, nil
			}
		}
	}
	return e.checkReject(s, ClassPolicy, 553, "5.7.1",
		"<%s>: Sender address rejected: not owned by user %s", sender, s.SASLUsername), nil
}

func (e *Engine) rejectUnauthSenderLoginMismatch(ctx context.Context, s *Session, sender string) (Result, error) {
	if e.senderLoginMaps.Empty() || s.SASLUsername != "" {
		return Dunno, nil
	}
	_, found, err := e.senderOwners(ctx, s, sender)
	if err != nil {
		return Dunno, err
	}
	if found {
		return e.checkReject(s, ClassPolicy, 553, "5.7.1",
			"<%s>: Sender address rejected: not logged in", sender), nil
	}
	return Dunno, nil
}

// rejectRHSBLAddress checks the domain of a mail address against a
// domain list.
func (e *Engine) rejectRHSBLAddress(ctx context.Context, s *Session, list, addr, replyClass string) (Result, error) {
	domain := address.Domain(addr)
	if domain == "" || address.IsLiteral(domain) {
		return Dunno, nil
	}
	return e.rejectRBLDomain(ctx, s, list, domain, replyClass)
}

func isListSep(r rune) bool {
	return r == ',' || r == ' ' || r == '\t' || r == '\r' || r == '\n'
}
