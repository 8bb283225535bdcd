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
	"testing"

	"github.com/sblinch/smtpdcheck/internal/policy"
)

func policyReq(attrs ...string) policy.Request {
	req := policy.Request{{Name: "request", Value: "smtpd_access_policy"}}
	for i := 0; i+1 < len(attrs); i += 2 {
		req.Add(attrs[i], attrs[i+1])
	}
	return req
}

func TestServePolicy(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_delay_reject":           "no",
		"smtpd_helo_restrictions":      "reject_invalid_helo_hostname",
		"smtpd_recipient_restrictions": "check_recipient_access inline:{ {bob@example.org = REJECT no thanks} }",
		"smtpd_data_restrictions":      "reject_multi_recipient_bounce",
	}, nil)

	client := []string{
		"client_name", "client.example.net",
		"client_address", "203.0.113.5",
		"helo_name", "client.example.net",
	}
	with := func(attrs ...string) policy.Request {
		return policyReq(append(append([]string(nil), client...), attrs...)...)
	}

	tests := []struct {
		name string
		req  policy.Request
		want string
	}{
		{name: "connect", req: with("protocol_state", "CONNECT"), want: "DUNNO"},
		{
			name: "bad helo",
			req: policyReq("client_name", "client.example.net", "client_address", "203.0.113.5",
				"protocol_state", "EHLO", "helo_name", "bad..example"),
			want: "501 5.5.2 <bad..example>: Helo command rejected: Invalid name",
		},
		{
			name: "local recipient",
			req:  with("protocol_state", "RCPT", "sender", "sender@remote.example", "recipient", "alice@example.org"),
			want: "DUNNO",
		},
		{
			name: "access map",
			req:  with("protocol_state", "RCPT", "sender", "sender@remote.example", "recipient", "bob@example.org"),
			want: "554 5.7.1 <bob@example.org>: Recipient address rejected: no thanks",
		},
		{
			name: "relay",
			req:  with("protocol_state", "RCPT", "sender", "sender@remote.example", "recipient", "bob@remote.example"),
			want: "454 4.7.1 <bob@remote.example>: Relay access denied",
		},
		{
			name: "bounce to many",
			req:  with("protocol_state", "DATA", "sender", "", "recipient_count", "2"),
			want: "550 5.5.3 <DATA>: Data command rejected: Multi-recipient bounce",
		},
		{name: "unknown state", req: with("protocol_state", "STARTTLS"), want: "DUNNO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ServePolicy(context.Background(), tt.req); got != tt.want {
				t.Errorf("ServePolicy() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionFromRequest(t *testing.T) {
	s := SessionFromRequest(policyReq(
		"client_name", "unknown",
		"reverse_client_name", "rev.example.net",
		"client_address", "203.0.113.5",
		"protocol_name", "ESMTP",
		"instance", "123.456.7",
		"sasl_username", "alice",
		"size", "12345",
		"ccert_fingerprint", "AA:BB",
		"ccert_subject", "client.example.net",
	))
	if s.ClientName != "unknown" || s.NameStatus != PeerPerm {
		t.Errorf("client name = %q (%v)", s.ClientName, s.NameStatus)
	}
	if s.ReverseName != "rev.example.net" || s.ReverseNameStatus != PeerOK {
		t.Errorf("reverse name = %q (%v)", s.ReverseName, s.ReverseNameStatus)
	}
	if s.Protocol != "ESMTP" || s.Instance != "123.456.7" || s.SASLUsername != "alice" || s.MessageSize != 12345 {
		t.Errorf("session = %+v", s)
	}
	if s.TLS == nil || s.TLS.CertFingerprint != "AA:BB" || s.TLS.PeerCN != "client.example.net" {
		t.Errorf("TLS = %+v", s.TLS)
	}
}
