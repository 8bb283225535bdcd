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
	"strconv"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/exterrors"
)

// Reply class names, used in reply texts.
const (
	nameClient    = "Client host"
	nameRevClient = "Unverified Client host"
	nameCcert     = "Client certificate"
	nameSASLUser  = "SASL login name"
	nameHelo      = "Helo command"
	nameSender    = "Sender address"
	nameRecipient = "Recipient address"
	nameEtrn      = "Etrn command"
	nameData      = "Data command"
	nameEOD       = "End-of-data"
)

// Protocol stages.
const (
	stageConnect = "CONNECT"
	stageHelo    = "HELO"
	stageEhlo    = "EHLO"
	stageMail    = "MAIL"
	stageRcpt    = "RCPT"
	stageEtrn    = "ETRN"
	stageData    = "DATA"
	stageEOD     = "END-OF-MESSAGE"
)

// logWhatsup writes a decision to the log.
func (e *Engine) logWhatsup(s *Session, whatsup, text string) {
	queueID := s.QueueID
	if queueID == "" {
		queueID = "NOQUEUE"
	}
	fields := []interface{}{"queue_id", queueID, "stage", s.where, "client", s.namaddr(), "text", text}
	if s.HasSender {
		fields = append(fields, "from", s.Sender)
	}
	if s.Recipient != "" {
		fields = append(fields, "to", s.Recipient)
	}
	if s.Protocol != "" {
		fields = append(fields, "proto", s.Protocol)
	}
	if s.HeloName != "" {
		fields = append(fields, "helo", s.HeloName)
	}
	e.log.Msg(whatsup, fields...)
}

// aclPermit accepts the request, logging it when the action is listed in
// smtpd_log_access_permit_actions.
func (e *Engine) aclPermit(ctx context.Context, s *Session, action, replyClass, replyName, extra string) Result {
	if s.deferIfPermit.active || !e.logPermitAction(ctx, action) {
		return OK
	}
	text := fmt.Sprintf("action=%s for %s=%s", action, replyClass, replyName)
	if extra != "" {
		text += " " + extra
	}
	e.logWhatsup(s, "permit", text)
	return OK
}

func (e *Engine) logPermitAction(ctx context.Context, action string) bool {
	for _, a := range e.cfg.LogPermitActions {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	if e.logPermitMaps == nil {
		return false
	}
	_, ok, err := e.logPermitMaps.Lookup(ctx, strings.ToLower(action))
	if err != nil {
		e.log.Error("smtpd_log_access_permit_actions lookup failed", err, "action", action)
	}
	return ok
}

// checkReject refuses the request. Within a warn_if_reject scope policy
// rejects are only logged and Dunno is returned; configuration and
// resource errors are never downgraded. The formatted reply is kept in
// the session either way.
func (e *Engine) checkReject(s *Session, class ErrorClass, code int, dsn, format string, args ...interface{}) Result {
	warn := s.warnIfReject != 0 && class != ClassSoftware && class != ClassResource
	whatsup := "reject"
	if warn {
		whatsup = "reject_warning"
	}

	text := fmt.Sprintf("%d %s %s", code, dsn, fmt.Sprintf(format, args...))
	if code < 400 || code > 599 {
		e.log.Msg("SMTP reply code configuration error", "reply", text)
		text = "450 4.7.1 Service unavailable"
	} else if !validDSN(dsn) {
		e.log.Msg("DSN detail code configuration error", "reply", text)
		text = "450 4.7.1 Service unavailable"
	}
	text = printable(truncate(text, maxReplyLen))

	if !warn && s.deferIfReject.active && text[0] == '5' {
		r := s.deferIfReject
		s.warnIfReject = 0
		s.deferIfReject.active = false
		return e.checkReject(s, r.class, r.code, r.dsn, "%s", r.reason)
	}

	b := []byte(text)
	if e.cfg.SoftBounce && b[0] == '5' {
		b[0] = '4'
	}
	b[4] = b[0]
	text = string(b)

	e.logWhatsup(s, whatsup, text)
	s.reply = parseReply(text, class)
	if warn {
		return Dunno
	}
	return Reject
}

// parseReply splits a reply built by checkReject.
func parseReply(text string, class ErrorClass) *Reply {
	r := &Reply{Class: class}
	r.Code, _ = strconv.Atoi(text[:3])
	rest := text[4:]
	dsn := rest
	if indx := strings.IndexByte(rest, ' '); indx != -1 {
		dsn, r.Message = rest[:indx], rest[indx+1:]
	}
	r.EnhancedCode, _ = exterrors.ParseEnhancedCode(dsn)
	return r
}

// deferIf arms a deferral. The first cause wins.
func deferIf(d *deferRecord, class ErrorClass, code int, dsn, format string, args ...interface{}) Result {
	if !d.active {
		*d = deferRecord{
			active: true,
			class:  class,
			code:   code,
			dsn:    dsn,
			reason: fmt.Sprintf(format, args...),
		}
	}
	return Dunno
}

// deferIfPermit either postpones a temporary failure until the request
// would otherwise be accepted, or, with a "defer" tempfail action or
// inside a warn_if_reject scope, defers right away.
func (e *Engine) deferIfPermit(s *Session, action bool, class ErrorClass, code int, dsn, format string, args ...interface{}) Result {
	if s.warnIfReject == 0 && action {
		return deferIf(&s.deferIfPermit, class, code, dsn, format, args...)
	}
	return e.checkReject(s, class, code, dsn, format, args...)
}

// foldDeferIfPermit turns an accepted request into the postponed
// deferral, if there is one.
func (e *Engine) foldDeferIfPermit(s *Session, res Result) Result {
	if res != Reject && s.deferIfPermit.active {
		d := s.deferIfPermit
		return e.checkReject(s, d.class, d.code, d.dsn, "%s", d.reason)
	}
	return res
}

// dictRetry aborts the stage after a temporary lookup failure.
func (e *Engine) dictRetry(s *Session, replyName string) error {
	e.checkReject(s, ClassData, 451, "4.3.0", "<%s>: Temporary lookup failure", replyName)
	return &Abort{Reply: s.reply}
}

// serverError aborts the stage after a configuration error.
func (e *Engine) serverError(s *Session) error {
	e.checkReject(s, ClassSoftware, 451, "4.3.5", "Server configuration error")
	return &Abort{Reply: s.reply}
}

// tableError maps a table failure to a retry or a configuration error.
func (e *Engine) tableError(s *Session, err error, table, replyName string) error {
	e.log.Error("table lookup failed", err, "table", table)
	if exterrors.IsTemporary(err) {
		return e.dictRetry(s, replyName)
	}
	return e.serverError(s)
}
