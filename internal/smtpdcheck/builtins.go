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
	"strings"

	"github.com/sblinch/smtpdcheck/internal/restriction"
)

// builtin runs a restriction that takes no table argument. Restrictions
// about facts the session does not have yet evaluate to Dunno.
func (e *Engine) builtin(ctx context.Context, s *Session, r restriction.Restriction, sc scope) (Result, error) {
	switch r.Name {
	// Client.
	case restriction.PermitInetInterfaces:
		if e.isInetInterface(s.ClientAddr) {
			return e.aclPermit(ctx, s, r.Text, nameClient, s.namaddr(), ""), nil
		}
		return Dunno, nil
	case restriction.PermitMynetworks:
		ok, err := e.inMynetworks(ctx, s)
		if err != nil {
			return Dunno, e.tableError(s, err, "mynetworks", s.namaddr())
		}
		if ok {
			return e.aclPermit(ctx, s, r.Text, nameClient, s.namaddr(), ""), nil
		}
		return Dunno, nil
	case restriction.RejectUnknownClientHostname:
		return e.rejectUnknownClient(s), nil
	case restriction.RejectUnknownReverseClientHostname:
		return e.rejectUnknownReverseClient(s), nil
	case restriction.RejectPlaintextSession:
		if s.TLS == nil {
			return e.checkReject(s, ClassPolicy, e.cfg.PlaintextCode, "4.7.1", "Session encryption is required"), nil
		}
		return Dunno, nil
	case restriction.PermitSASLAuthenticated:
		if e.saslAuthenticated(s) {
			return e.aclPermit(ctx, s, r.Text, nameClient, s.namaddr(), ""), nil
		}
		return Dunno, nil
	case restriction.PermitTLSClientcerts, restriction.PermitTLSAllClientcerts:
		ok, err := e.clientCertTrusted(ctx, s, r.Name == restriction.PermitTLSAllClientcerts)
		if err != nil {
			return Dunno, e.tableError(s, err, "relay_clientcerts", s.namaddr())
		}
		if ok {
			return e.aclPermit(ctx, s, r.Text, nameClient, s.namaddr(), ""), nil
		}
		return Dunno, nil
	case restriction.RejectRBLClient:
		return e.rejectRBLAddr(ctx, s, r.Arg, s.ClientAddr)
	case restriction.PermitDNSWLClient:
		res, err := e.permitDNSWLAddr(ctx, s, r.Arg, s.ClientAddr)
		if err == nil && res == OK {
			return e.aclPermit(ctx, s, r.Text, nameClient, s.namaddr(), r.Arg), nil
		}
		return res, err
	case restriction.RejectRHSBLClient:
		if !s.knownName() {
			return Dunno, nil
		}
		return e.rejectRBLDomain(ctx, s, r.Arg, s.ClientName, nameClient)
	case restriction.RejectRHSBLReverseClient:
		if !s.knownReverseName() {
			return Dunno, nil
		}
		return e.rejectRBLDomain(ctx, s, r.Arg, s.ReverseName, nameRevClient)
	case restriction.PermitRHSWLClient:
		if !s.knownName() {
			return Dunno, nil
		}
		res, err := e.permitRHSWL(ctx, s, r.Arg, s.ClientName)
		if err == nil && res == OK {
			return e.aclPermit(ctx, s, r.Text, nameClient, s.namaddr(), r.Arg), nil
		}
		return res, err
	case restriction.RejectMapsRBL:
		return e.rejectMapsRBL(ctx, s)
	case restriction.RejectUnauthPipelining:
		if s.IllegalPipelining {
			return e.checkReject(s, ClassProtocol, 503, "5.5.0",
				"<%s>: %s rejected: Improper use of SMTP command pipelining", sc.replyName, sc.replyClass), nil
		}
		return Dunno, nil

	// HELO.
	case restriction.RejectInvalidHeloHostname:
		if s.HeloName == "" {
			return Dunno, nil
		}
		if strings.HasPrefix(s.HeloName, "[") {
			return e.rejectInvalidHostaddr(s, s.HeloName, s.HeloName, nameHelo), nil
		}
		return e.rejectInvalidHostname(s, s.HeloName, s.HeloName, nameHelo), nil
	case restriction.RejectUnknownHeloHostname:
		if s.HeloName == "" {
			return Dunno, nil
		}
		if strings.HasPrefix(s.HeloName, "[") {
			return e.rejectInvalidHostaddr(s, s.HeloName, s.HeloName, nameHelo), nil
		}
		if res := e.rejectNonFQDNHostname(s, s.HeloName, s.HeloName, nameHelo); res != Dunno {
			return res, nil
		}
		return e.rejectUnknownHostname(ctx, s, s.HeloName, s.HeloName, nameHelo), nil
	case restriction.RejectNonFQDNHeloHostname:
		if s.HeloName == "" {
			return Dunno, nil
		}
		if strings.HasPrefix(s.HeloName, "[") {
			return e.rejectInvalidHostaddr(s, s.HeloName, s.HeloName, nameHelo), nil
		}
		return e.rejectNonFQDNHostname(s, s.HeloName, s.HeloName, nameHelo), nil
	case restriction.PermitNakedIPAddress:
		if s.HeloName == "" || strings.Trim(s.HeloName, "0123456789.:") != "" {
			return Dunno, nil
		}
		if e.rejectInvalidHostaddr(s, s.HeloName, s.HeloName, nameHelo) == Dunno {
			return e.aclPermit(ctx, s, r.Text, nameHelo, s.HeloName, ""), nil
		}
		return Reject, nil
	case restriction.RejectRHSBLHelo:
		if s.HeloName == "" || strings.HasPrefix(s.HeloName, "[") {
			return Dunno, nil
		}
		return e.rejectRBLDomain(ctx, s, r.Arg, s.HeloName, nameHelo)

	// Sender.
	case restriction.RejectUnknownSenderDomain:
		if s.Sender == "" {
			return Dunno, nil
		}
		return e.rejectUnknownAddress(ctx, s, s.Sender, s.Sender, nameSender)
	case restriction.RejectNonFQDNSender:
		if s.Sender == "" {
			return Dunno, nil
		}
		return e.rejectNonFQDNAddress(s, s.Sender, s.Sender, nameSender), nil
	case restriction.RejectUnverifiedSender:
		if s.Sender == "" {
			return Dunno, nil
		}
		return e.rejectUnverifiedAddress(ctx, s, s.Sender, s.Sender, nameSender,
			e.cfg.UnverifiedSenderDefer, e.cfg.UnverifiedSenderReject, e.cfg.UnverifiedSenderTf, e.cfg.UnverifiedSenderWhy)
	case restriction.RejectUnlistedSender:
		if s.Sender == "" {
			return Dunno, nil
		}
		return e.checkSenderRcptMaps(ctx, s, s.Sender)
	case restriction.RejectAuthenticatedSenderLoginMismatch, restriction.RejectKnownSenderLoginMismatch,
		restriction.RejectUnauthenticatedSenderLoginMismatch, restriction.RejectSenderLoginMismatch:
		return e.senderLoginMismatch(ctx, s, r)
	case restriction.RejectRHSBLSender:
		return e.rejectRHSBLAddress(ctx, s, r.Arg, s.Sender, nameSender)
	case restriction.RejectMultiRecipientBounce:
		limit := 0
		if s.where == stageData {
			limit = 1
		}
		if s.HasSender && s.Sender == "" && s.RecipientCount > limit {
			return e.checkReject(s, ClassPolicy, e.cfg.MultiRcptBounceCode, "5.5.3",
				"<%s>: %s rejected: Multi-recipient bounce", sc.replyName, sc.replyClass), nil
		}
		return Dunno, nil

	// Recipient.
	case restriction.PermitAuthDestination:
		if s.Recipient == "" {
			return Dunno, nil
		}
		res, err := e.permitAuthDestination(ctx, s, s.Recipient)
		if err == nil && res == OK {
			return e.aclPermit(ctx, s, r.Text, nameRecipient, s.Recipient, ""), nil
		}
		return res, err
	case restriction.RejectUnauthDestination:
		if s.Recipient == "" {
			return Dunno, nil
		}
		return e.rejectUnauthDestination(ctx, s, s.Recipient, e.cfg.RelayCode, "5.7.1")
	case restriction.DeferUnauthDestination:
		if s.Recipient == "" {
			return Dunno, nil
		}
		return e.rejectUnauthDestination(ctx, s, s.Recipient, e.cfg.RelayCode-100, "4.7.1")
	case restriction.CheckRelayDomains:
		if s.Recipient == "" {
			return Dunno, nil
		}
		res, err := e.checkRelayDomains(ctx, s, s.Recipient)
		if err == nil && res == OK {
			return e.aclPermit(ctx, s, r.Text, nameRecipient, s.Recipient, ""), nil
		}
		return res, err
	case restriction.PermitMXBackup:
		if s.Recipient == "" {
			return Dunno, nil
		}
		res, err := e.permitMXBackup(ctx, s, s.Recipient)
		if err == nil && res == OK {
			return e.aclPermit(ctx, s, r.Text, nameRecipient, s.Recipient, ""), nil
		}
		return res, err
	case restriction.RejectUnknownRecipientDomain:
		if s.Recipient == "" {
			return Dunno, nil
		}
		return e.rejectUnknownAddress(ctx, s, s.Recipient, s.Recipient, nameRecipient)
	case restriction.RejectNonFQDNRecipient:
		if s.Recipient == "" {
			return Dunno, nil
		}
		return e.rejectNonFQDNAddress(s, s.Recipient, s.Recipient, nameRecipient), nil
	case restriction.RejectUnverifiedRecipient:
		if s.Recipient == "" {
			return Dunno, nil
		}
		return e.rejectUnverifiedAddress(ctx, s, s.Recipient, s.Recipient, nameRecipient,
			e.cfg.UnverifiedRcptDefer, e.cfg.UnverifiedRcptReject, e.cfg.UnverifiedRcptTf, e.cfg.UnverifiedRcptWhy)
	case restriction.RejectUnlistedRecipient:
		if s.Recipient == "" {
			return Dunno, nil
		}
		return e.checkRecipientRcptMaps(ctx, s, s.Recipient)
	case restriction.RejectRHSBLRecipient:
		return e.rejectRHSBLAddress(ctx, s, r.Arg, s.Recipient, nameRecipient)
	}

	e.log.Msg("restriction is not available here", "restriction", r.Text, "stage", s.where)
	return Dunno, e.serverError(s)
}

func (e *Engine) isInetInterface(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, a := range e.interfaces {
		if ip.Equal(net.ParseIP(a)) {
			return true
		}
	}
	return false
}

func (e *Engine) isProxyInterface(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, a := range e.proxyInterfaces {
		if ip.Equal(net.ParseIP(a)) {
			return true
		}
	}
	return false
}

func (e *Engine) inMynetworks(ctx context.Context, s *Session) (bool, error) {
	return e.mynetworks.MatchNamAddr(ctx, s.ClientName, s.ClientAddr)
}

func (e *Engine) saslAuthenticated(s *Session) bool {
	return e.cfg.SASLEnabled && s.SASLUsername != ""
}

// clientCertTrusted reports whether the client certificate is listed in
// relay_clientcerts, or with all set, whether it was verified at all.
func (e *Engine) clientCertTrusted(ctx context.Context, s *Session, all bool) (bool, error) {
	if s.TLS == nil {
		return false, nil
	}
	if all && s.TLS.Trusted {
		return true, nil
	}
	if !s.TLS.certPresent() || e.relayClientcerts.Empty() {
		return false, nil
	}
	for _, fp := range []string{s.TLS.CertFingerprint, s.TLS.PkeyFingerprint} {
		if fp == "" {
			continue
		}
		_, ok, err := e.relayClientcerts.Lookup(ctx, fp)
		if err != nil {
			return false, err
		}
		if ok {
			e.log.DebugMsg("relay_clientcerts match", "fingerprint", fp, "subject", s.TLS.PeerCN)
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) rejectUnknownReverseClient(s *Session) Result {
	if s.ReverseNameStatus == PeerOK {
		return Dunno
	}
	code := 450
	if s.ReverseNameStatus == PeerPerm {
		code = e.cfg.UnknownClientCode
	}
	return e.checkReject(s, ClassPolicy, code, "4.7.1",
		"Client host rejected: cannot find your reverse hostname, [%s]", s.ClientAddr)
}

func (e *Engine) rejectUnknownClient(s *Session) Result {
	if s.NameStatus == PeerOK {
		return Dunno
	}
	code := 450
	if s.NameStatus >= PeerPerm {
		code = e.cfg.UnknownClientCode
	}
	return e.checkReject(s, ClassPolicy, code, "4.7.1",
		"Client host rejected: cannot find your hostname, [%s]", s.ClientAddr)
}
