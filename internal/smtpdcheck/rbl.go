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
	"strconv"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/address"
	"github.com/sblinch/smtpdcheck/framework/config"
	"github.com/sblinch/smtpdcheck/internal/check/dnsxl"
)

// rblListing is what a reply template can say about a listing.
type rblListing struct {
	list       string
	what       string
	replyClass string
	txt        string
}

func (e *Engine) rejectRBLAddr(ctx context.Context, s *Session, list, addr string) (Result, error) {
	res, err := e.dnsxl.LookupAddr(ctx, list, addr)
	if err != nil {
		e.log.Error("DNS list lookup failed", err, "list", list, "address", addr)
		return Dunno, nil
	}
	if res == nil {
		return Dunno, nil
	}
	return e.rblReject(ctx, s, rblListing{list: list, what: addr, replyClass: nameClient, txt: res.TXT})
}

func (e *Engine) rejectRBLDomain(ctx context.Context, s *Session, list, what, replyClass string) (Result, error) {
	res, err := e.dnsxl.LookupDomain(ctx, list, what)
	if err != nil {
		e.log.Error("DNS list lookup failed", err, "list", list, "name", what)
		return Dunno, nil
	}
	if res == nil {
		return Dunno, nil
	}
	return e.rblReject(ctx, s, rblListing{list: list, what: what, replyClass: replyClass, txt: res.TXT})
}

// dnswlApplies reports whether a whitelist may permit the request. At
// the recipient stage that needs an authorized destination.
func (e *Engine) dnswlApplies(ctx context.Context, s *Session) (bool, error) {
	if s.where != stageRcpt || s.Recipient == "" {
		return true, nil
	}
	res, err := e.permitAuthDestination(ctx, s, s.Recipient)
	return res == OK, err
}

func (e *Engine) permitDNSWLAddr(ctx context.Context, s *Session, list, addr string) (Result, error) {
	if ok, err := e.dnswlApplies(ctx, s); !ok || err != nil {
		return Dunno, err
	}
	res, err := e.dnsxl.LookupAddr(ctx, list, addr)
	if err != nil {
		e.log.Error("DNS whitelist lookup failed", err, "list", list, "address", addr)
		deferIf(&s.deferIfReject, ClassPolicy, 450, "4.7.1",
			"<%s>: %s rejected: Service unavailable", addr, nameClient)
		return Dunno, nil
	}
	if res == nil {
		return Dunno, nil
	}
	return OK, nil
}

func (e *Engine) permitRHSWL(ctx context.Context, s *Session, list, what string) (Result, error) {
	if ok, err := e.dnswlApplies(ctx, s); !ok || err != nil {
		return Dunno, err
	}
	res, err := e.dnsxl.LookupDomain(ctx, list, what)
	if err != nil {
		e.log.Error("DNS whitelist lookup failed", err, "list", list, "name", what)
		deferIf(&s.deferIfReject, ClassPolicy, 450, "4.7.1",
			"<%s>: %s rejected: Service unavailable", what, nameClient)
		return Dunno, nil
	}
	if res == nil {
		return Dunno, nil
	}
	return OK, nil
}

// rejectMapsRBL is reject_rbl_client for every domain in maps_rbl_domains.
func (e *Engine) rejectMapsRBL(ctx context.Context, s *Session) (Result, error) {
	e.mapsRBLWarn.Do(func() {
		e.log.Msg("support for restriction reject_maps_rbl will be removed; use reject_rbl_client <domain-name> instead")
	})
	for _, list := range e.cfg.MapsRBLDomains {
		res, err := e.rejectRBLAddr(ctx, s, list, s.ClientAddr)
		if err != nil || res != Dunno {
			return res, err
		}
	}
	return Dunno, nil
}

// rblReject builds the reply for a listing from rbl_reply_maps or
// default_rbl_reply.
func (e *Engine) rblReject(ctx context.Context, s *Session, l rblListing) (Result, error) {
	tmpl := e.cfg.DefaultRBLReply
	if !e.rblReplyMaps.Empty() {
		v, ok, err := e.rblReplyMaps.Lookup(ctx, l.list)
		if err != nil {
			e.log.Error("rbl_reply_maps lookup failed", err, "list", l.list)
			return Dunno, e.serverError(s)
		}
		if ok {
			tmpl = v
		}
	}

	vars := e.rblVars(s, l)
	lookup := func(name string) (string, bool) {
		v, ok := vars[name]
		if !ok || v == "" {
			return "", false
		}
		return strings.ReplaceAll(v, "$", "$$"), true
	}
	text, err := config.Expand(tmpl, lookup)
	if err != nil {
		e.log.Error("malformed RBL reply template", err, "list", l.list, "template", tmpl)
		if text, err = config.Expand(e.cfg.DefaultRBLReply, lookup); err != nil {
			text = ""
		}
	}

	if !validReplyPrefix(text) {
		e.log.Msg("RBL reply template does not start with a 4xx or 5xx code", "list", l.list, "reply", text)
		return e.checkReject(s, ClassPolicy, 450, "4.7.1", "Service unavailable"), nil
	}
	code, _ := strconv.Atoi(text[:3])
	dsn, rest := dsnSplit("4.7.1", text[4:])
	if rest == "" {
		rest = "Service unavailable"
	}
	return e.checkReject(s, ClassPolicy, code, dsnFix(dsn, l.replyClass), "%s", rest), nil
}

func validReplyPrefix(text string) bool {
	return len(text) > 4 && (text[0] == '4' || text[0] == '5') &&
		text[1] >= '0' && text[1] <= '9' && text[2] >= '0' && text[2] <= '9' && text[3] == ' '
}

// rblVars are the variables of an RBL reply template.
func (e *Engine) rblVars(s *Session, l rblListing) map[string]string {
	zone, _ := dnsxl.SplitZone(l.list)
	vars := map[string]string{
		"rbl_code":   strconv.Itoa(e.cfg.MapsRBLCode),
		"rbl_domain": zone,
		"rbl_reason": l.txt,
		"rbl_txt":    l.txt,
		"rbl_what":   l.what,
		"rbl_class":  l.replyClass,

		"client":              s.namaddr(),
		"client_address":      s.ClientAddr,
		"client_name":         s.ClientName,
		"client_port":         s.ClientPort,
		"reverse_client_name": s.ReverseName,
		"helo_name":           s.HeloName,
		"sender":              s.Sender,
		"recipient":           s.Recipient,
		"protocol":            s.Protocol,
		"sasl_method":         s.SASLMethod,
		"sasl_username":       s.SASLUsername,
		"sasl_sender":         s.SASLSender,
	}
	for _, a := range []struct{ prefix, addr string }{{"sender", s.Sender}, {"recipient", s.Recipient}} {
		if indx := strings.LastIndexByte(a.addr, '@'); indx != -1 {
			vars[a.prefix+"_name"] = a.addr[:indx]
			vars[a.prefix+"_domain"] = address.Domain(a.addr)
		} else {
			vars[a.prefix+"_name"] = a.addr
		}
	}
	return vars
}
