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
)

// Nested table actions and restriction classes may not go deeper.
const maxRecursion = 100

// scope is what a restriction list is evaluated against: the text quoted
// in replies, the reply class, and the access check that bare table
// references use.
type scope struct {
	replyName  string
	replyClass string
	// Name of the default access restriction, empty where bare table
	// references are not allowed.
	defMap string
}

// canDelegate reports whether a delivery-time action may be taken at the
// current stage.
func (e *Engine) canDelegate(s *Session, action, table, key string) bool {
	if s.where == stageEtrn {
		e.log.Msg("access table action is unavailable in smtpd_etrn_restrictions",
			"table", table, "key", key, "action", action)
		return false
	}
	if !s.HasSender {
		e.log.Msg("access table action is always skipped in client or helo restrictions",
			"table", table, "key", key, "action", action)
		return false
	}
	return true
}

// interpret evaluates the value found in an access table or returned by a
// policy service.
func (e *Engine) interpret(ctx context.Context, s *Session, table, value, key string, sc scope) (Result, error) {
	cmd, text := value, ""
	if indx := strings.IndexAny(value, " \t"); indx != -1 {
		cmd, text = value[:indx], strings.TrimLeft(value[indx:], " \t")
	}
	cmdLower := strings.ToLower(cmd)

	switch cmdLower {
	case "dunno":
		return Dunno, nil
	case "ok", "relay":
		return e.aclPermit(ctx, s, cmdLower, sc.replyClass, sc.replyName, "from "+table), nil
	case "reject":
		dsn, text := dsnSplit("5.7.1", text)
		if text == "" {
			text = "Access denied"
		}
		return e.checkReject(s, ClassPolicy, e.cfg.AccessMapRejectCode, dsnFix(dsn, sc.replyClass),
			"<%s>: %s rejected: %s", sc.replyName, sc.replyClass, text), nil
	case "defer":
		dsn, text := dsnSplit("4.7.1", text)
		if text == "" {
			text = "Access denied"
		}
		return e.checkReject(s, ClassPolicy, e.cfg.AccessMapDeferCode, dsnFix(dsn, sc.replyClass),
			"<%s>: %s rejected: %s", sc.replyName, sc.replyClass, text), nil
	case "defer_if_permit":
		dsn, text := dsnSplit("4.7.1", text)
		if text == "" {
			text = "Service unavailable"
		}
		return e.deferIfPermit(s, true, ClassPolicy, e.cfg.AccessMapDeferCode, dsnFix(dsn, sc.replyClass),
			"<%s>: %s rejected: %s", sc.replyName, sc.replyClass, text), nil
	case "defer_if_reject":
		dsn, text := dsnSplit("4.7.1", text)
		if text == "" {
			text = "Service unavailable"
		}
		return deferIf(&s.deferIfReject, ClassPolicy, e.cfg.AccessMapDeferCode, dsnFix(dsn, sc.replyClass),
			"<%s>: %s rejected: %s", sc.replyName, sc.replyClass, text), nil
	case "warn":
		e.logWhatsup(s, "warn", "<"+sc.replyName+">: "+sc.replyClass+" triggers WARN "+text)
		return Dunno, nil
	case "info":
		e.logWhatsup(s, "info", "<"+sc.replyName+">: "+sc.replyClass+" "+text)
		return Dunno, nil
	case "hangup":
		dsn, text := dsnSplit("4.7.0", text)
		if text == "" {
			text = "Service unavailable"
		}
		if e.checkReject(s, ClassPolicy, 421, dsnFix(dsn, sc.replyClass),
			"<%s>: %s rejected: %s", sc.replyName, sc.replyClass, text) == Dunno {
			return Dunno, nil
		}
		return Dunno, &Abort{Reply: s.reply, Hangup: true}
	case "filter":
		if !e.canDelegate(s, cmd, table, key) {
			return Dunno, nil
		}
		if text == "" {
			e.log.Msg("access table has FILTER entry without value", "table", table, "key", key)
			return Dunno, nil
		}
		if strings.IndexByte(text, ':') == -1 {
			e.log.Msg("access table FILTER action requires transport:destination", "table", table, "key", key)
			return Dunno, nil
		}
		e.logWhatsup(s, "filter", "<"+sc.replyName+">: "+sc.replyClass+" triggers FILTER "+text)
		s.actions.Filter = text
		return Dunno, nil
	case "hold":
		if !e.canDelegate(s, cmd, table, key) || s.actions.Hold {
			return Dunno, nil
		}
		if text == "" {
			text = "triggers HOLD action"
		}
		e.logWhatsup(s, "hold", "<"+sc.replyName+">: "+sc.replyClass+" "+text)
		s.actions.Hold = true
		s.actions.Reason = text
		return Dunno, nil
	case "discard":
		if !e.canDelegate(s, cmd, table, key) {
			return Dunno, nil
		}
		if text == "" {
			text = "triggers DISCARD action"
		}
		e.logWhatsup(s, "discard", "<"+sc.replyName+">: "+sc.replyClass+" "+text)
		s.actions.Discard = true
		s.actions.Reason = text
		return e.aclPermit(ctx, s, cmdLower, sc.replyClass, sc.replyName, "from "+table), nil
	case "redirect":
		if !e.canDelegate(s, cmd, table, key) {
			return Dunno, nil
		}
		if strings.IndexByte(text, '@') == -1 {
			e.log.Msg("access table REDIRECT action requires user@domain target", "table", table, "key", key)
			return Dunno, nil
		}
		e.logWhatsup(s, "redirect", "<"+sc.replyName+">: "+sc.replyClass+" triggers REDIRECT "+text)
		s.actions.Redirect = text
		return Dunno, nil
	case "bcc":
		if !e.canDelegate(s, cmd, table, key) {
			return Dunno, nil
		}
		if strings.IndexByte(text, '@') == -1 {
			e.log.Msg("access table BCC action requires user@domain target", "table", table, "key", key)
			return Dunno, nil
		}
		e.logWhatsup(s, "bcc", "<"+sc.replyName+">: "+sc.replyClass+" triggers BCC "+text)
		s.actions.BCC = append(s.actions.BCC, text)
		return Dunno, nil
	case "prepend":
		if !e.canDelegate(s, cmd, table, key) {
			return Dunno, nil
		}
		if s.where == stageEOD {
			e.log.Msg("access table action PREPEND must be used before smtpd_end_of_data_restrictions",
				"table", table, "key", key)
			return Dunno, nil
		}
		name, hvalue, ok := splitHeader(text)
		if !ok {
			e.log.Msg("access table PREPEND action requires a header", "table", table, "key", key, "text", text)
			return Dunno, nil
		}
		s.actions.Prepend.Add(name, hvalue)
		return Dunno, nil
	}

	if allDigits(value) {
		return e.aclPermit(ctx, s, cmdLower, sc.replyClass, sc.replyName, "from "+table), nil
	}

	if len(cmd) == 3 && allDigits(cmd) && (cmd[0] == '4' || cmd[0] == '5') && text != "" {
		code := int(cmd[0]-'0')*100 + int(cmd[1]-'0')*10 + int(cmd[2]-'0')
		dsn, text := dsnSplit(string(cmd[0])+".7.1", text)
		if text == "" {
			text = "Access denied"
		}
		return e.checkReject(s, ClassPolicy, code, dsnFix(dsn, sc.replyClass),
			"<%s>: %s rejected: %s", sc.replyName, sc.replyClass, text), nil
	}

	// Anything else is a restriction list of its own. It may not refer to
	// further tables.
	if strings.IndexByte(value, ':') != -1 {
		e.log.Msg("access table entry refers to a table or service, this is not supported",
			"table", table, "key", key, "value", value)
		return Dunno, e.serverError(s)
	}
	if s.recursion > maxRecursion {
		e.log.Msg("access table entry causes unreasonable recursion", "table", table, "key", key)
		return Dunno, e.serverError(s)
	}
	prog, err := e.parser.Parse(table, value)
	if err != nil {
		e.log.Error("malformed access table entry", err, "table", table, "key", key)
		return Dunno, e.serverError(s)
	}
	if len(prog.List) == 0 {
		e.log.Msg("access table entry has empty value", "table", table, "key", key)
		return OK, nil
	}
	return e.evaluate(ctx, s, prog.List, sc)
}

// splitHeader parses "Name: value".
func splitHeader(text string) (name, value string, ok bool) {
	indx := strings.IndexByte(text, ':')
	if indx <= 0 {
		return "", "", false
	}
	name = text[:indx]
	for i := 0; i < len(name); i++ {
		if name[i] <= ' ' || name[i] > '~' {
			return "", "", false
		}
	}
	return name, strings.TrimLeft(text[indx+1:], " \t"), true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
