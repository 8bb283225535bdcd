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
	"strconv"
	"strings"

	"github.com/sblinch/smtpdcheck/internal/policy"
)

// SessionFromRequest rebuilds a session from the attributes of a policy
// delegation request.
func SessionFromRequest(req policy.Request) *Session {
	s := NewSession(req.Get("client_name"), req.Get("client_address"))
	s.ClientPort = req.Get("client_port")
	if rev := req.Get("reverse_client_name"); rev != "" {
		s.ReverseName = rev
	}
	if s.ClientName == "unknown" {
		s.NameStatus = PeerPerm
	}
	if s.ReverseName == "unknown" {
		s.ReverseNameStatus = PeerPerm
	}
	if proto := req.Get("protocol_name"); proto != "" {
		s.Protocol = proto
	}
	if inst := req.Get("instance"); inst != "" {
		s.Instance = inst
	}
	s.HeloName = req.Get("helo_name")
	s.Recipient = req.Get("recipient")
	s.EtrnDomain = req.Get("etrn_domain")
	s.QueueID = req.Get("queue_id")
	s.SASLMethod = req.Get("sasl_method")
	s.SASLUsername = req.Get("sasl_username")
	s.SASLSender = req.Get("sasl_sender")
	s.RecipientCount, _ = strconv.Atoi(req.Get("recipient_count"))
	s.MessageSize, _ = strconv.ParseInt(req.Get("size"), 10, 64)

	if cn := req.Get("ccert_subject"); cn != "" || req.Get("ccert_fingerprint") != "" {
		s.TLS = &TLSInfo{
			Protocol:        req.Get("encryption_protocol"),
			Cipher:          req.Get("encryption_cipher"),
			PeerCN:          cn,
			IssuerCN:        req.Get("ccert_issuer"),
			CertFingerprint: req.Get("ccert_fingerprint"),
			PkeyFingerprint: req.Get("ccert_pubkey_fingerprint"),
		}
		s.TLS.KeySize, _ = strconv.Atoi(req.Get("encryption_keysize"))
	}
	return s
}

// ServePolicy answers a policy delegation request by running the
// restrictions of the stage named in protocol_state. It makes the Engine
// usable as a policy.Handler.
func (e *Engine) ServePolicy(ctx context.Context, req policy.Request) string {
	s := SessionFromRequest(req)
	sender := req.Get("sender")
	helo := s.HeloName

	var err error
	switch state := strings.ToUpper(req.Get("protocol_state")); state {
	case stageConnect:
		s.HeloName = ""
		err = e.CheckClient(ctx, s)
	case stageHelo, stageEhlo:
		s.HeloName = ""
		err = e.CheckHelo(ctx, s, helo)
	case stageMail:
		err = e.CheckMail(ctx, s, sender)
	case stageRcpt, "VRFY":
		rcpt := s.Recipient
		s.Recipient = ""
		s.HasSender, s.Sender = true, sender
		err = e.CheckRcpt(ctx, s, rcpt)
	case stageEtrn:
		err = e.CheckEtrn(ctx, s, s.EtrnDomain)
	case stageData, "END-OF-MESSAGE":
		s.HasSender, s.Sender = true, sender
		if state == stageData {
			err = e.CheckData(ctx, s)
		} else {
			err = e.CheckEOD(ctx, s)
		}
	default:
		e.log.Msg("policy request for unsupported protocol state", "state", req.Get("protocol_state"))
		return "DUNNO"
	}
	return policyAction(err)
}

// policyAction turns a stage result into a policy reply: DUNNO lets the
// MTA carry on, anything else is the SMTP reply to send.
func policyAction(err error) string {
	if err == nil {
		return "DUNNO"
	}
	var reply *Reply
	if errors.As(err, &reply) {
		return reply.Error()
	}
	return "451 4.3.5 Server configuration problem"
}
