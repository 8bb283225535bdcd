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
	"net"
	"testing"

	"github.com/foxcpp/go-mockdns"
)

func TestCheckRcpt_RelayControl(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_sasl_auth_enable": "yes",
	}, nil)

	tests := []struct {
		name   string
		client string
		login  string
		rcpt   string
		code   int
		msg    string
	}{
		{name: "local recipient", client: "203.0.113.5", rcpt: "alice@example.org"},
		{name: "local recipient, myhostname", client: "203.0.113.5", rcpt: "alice@mail.example.org"},
		{name: "mynetworks", client: "127.0.0.1", rcpt: "bob@remote.example"},
		{name: "authenticated", client: "203.0.113.5", login: "alice", rcpt: "bob@remote.example"},
		{
			name:   "open relay attempt",
			client: "203.0.113.5",
			rcpt:   "bob@remote.example",
			code:   454,
			msg:    "<bob@remote.example>: Relay access denied",
		},
		{
			name:   "source routed",
			client: "203.0.113.5",
			rcpt:   "bob%remote.example@example.org",
			code:   454,
			msg:    "<bob%remote.example@example.org>: Relay access denied",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("client.example.net", tt.client)
			s.SASLUsername = tt.login
			if err := e.CheckMail(context.Background(), s, "sender@remote.example"); err != nil {
				t.Fatal(err)
			}
			err := e.CheckRcpt(context.Background(), s, tt.rcpt)
			checkReply(t, err, tt.code, "4.7.1", tt.msg)
			if tt.code == 0 && s.Recipient != tt.rcpt {
				t.Errorf("accepted recipient not recorded: %q", s.Recipient)
			}
			if tt.code != 0 && s.Recipient != "" {
				t.Errorf("rejected recipient recorded: %q", s.Recipient)
			}
		})
	}
}

func TestCheckRcpt_Postmaster(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_recipient_restrictions": "reject",
	}, nil)
	s := remoteSession()
	checkReply(t, e.CheckRcpt(context.Background(), s, "postmaster"), 0, "", "")
	checkReply(t, e.CheckRcpt(context.Background(), s, "Postmaster"), 0, "", "")
}

func TestCheckClient_DelayReject(t *testing.T) {
	params := map[string]string{
		"smtpd_client_restrictions": "check_client_access inline:{203.0.113.5=REJECT}",
	}

	t.Run("delayed", func(t *testing.T) {
		e, _ := testEngine(t, params, nil)
		s := remoteSession()
		ctx := context.Background()
		checkReply(t, e.CheckClient(ctx, s), 0, "", "")
		checkReply(t, e.CheckHelo(ctx, s, "client.example.net"), 0, "", "")
		checkReply(t, e.CheckMail(ctx, s, "sender@remote.example"), 0, "", "")
		checkReply(t, e.CheckRcpt(ctx, s, "alice@example.org"), 554, "5.7.1",
			"<client.example.net[203.0.113.5]>: Client host rejected: Access denied")
	})
	t.Run("immediate", func(t *testing.T) {
		e, _ := testEngine(t, map[string]string{
			"smtpd_delay_reject":        "no",
			"smtpd_client_restrictions": params["smtpd_client_restrictions"],
		}, nil)
		checkReply(t, e.CheckClient(context.Background(), remoteSession()), 554, "5.7.1",
			"<client.example.net[203.0.113.5]>: Client host rejected: Access denied")
	})
}

func TestCheckHelo(t *testing.T) {
	zones := map[string]mockdns.Zone{
		"client.example.net.": {A: []string{"203.0.113.5"}},
		"mx-only.example.":    {MX: []net.MX{{Host: "mx.example.net.", Pref: 10}}},
		"temp.example.": {
			Err: &net.DNSError{Err: "server failure", IsTemporary: true},
		},
	}
	e, _ := testEngine(t, map[string]string{
		"smtpd_delay_reject":      "no",
		"smtpd_helo_restrictions": "reject_invalid_helo_hostname, reject_non_fqdn_helo_hostname, reject_unknown_helo_hostname",
	}, zones)

	tests := []struct {
		helo string
		code int
		dsn  string
		msg  string
	}{
		{helo: "client.example.net"},
		{helo: "mx-only.example"},
		{helo: "[203.0.113.5]"},
		// Deferred until the request would be accepted.
		{helo: "temp.example"},
		{helo: "bad..example", code: 501, dsn: "5.5.2", msg: "<bad..example>: Helo command rejected: Invalid name"},
		{helo: "[256.1.1.1]", code: 501, dsn: "5.5.2", msg: "<[256.1.1.1]>: Helo command rejected: invalid ip address"},
		{helo: "localhost", code: 504, dsn: "5.5.2", msg: "<localhost>: Helo command rejected: need fully-qualified hostname"},
		{helo: "nx.example", code: 450, dsn: "4.7.1", msg: "<nx.example>: Helo command rejected: Host not found"},
	}
	for _, tt := range tests {
		t.Run(tt.helo, func(t *testing.T) {
			s := remoteSession()
			err := e.CheckHelo(context.Background(), s, tt.helo)
			checkReply(t, err, tt.code, tt.dsn, tt.msg)
			if tt.code == 0 && s.HeloName != tt.helo {
				t.Errorf("HELO name not recorded: %q", s.HeloName)
			}
			if tt.code != 0 && s.HeloName != "" {
				t.Errorf("rejected HELO name recorded: %q", s.HeloName)
			}
		})
	}
}

func TestDeferIfPermit(t *testing.T) {
	zones := map[string]mockdns.Zone{
		"temp.example.": {
			Err: &net.DNSError{Err: "server failure", IsTemporary: true},
		},
	}
	e, _ := testEngine(t, map[string]string{
		"smtpd_helo_restrictions": "reject_unknown_helo_hostname",
	}, zones)

	newSession := func(t *testing.T) *Session {
		s := remoteSession()
		ctx := context.Background()
		if err := e.CheckHelo(ctx, s, "temp.example"); err != nil {
			t.Fatal(err)
		}
		if err := e.CheckMail(ctx, s, "sender@remote.example"); err != nil {
			t.Fatal(err)
		}
		return s
	}

	t.Run("accepted request is deferred", func(t *testing.T) {
		s := newSession(t)
		checkReply(t, e.CheckRcpt(context.Background(), s, "alice@example.org"), 450, "4.7.1",
			"<temp.example>: Helo command rejected: Host not found")
	})
	t.Run("rejection wins", func(t *testing.T) {
		s := newSession(t)
		checkReply(t, e.CheckRcpt(context.Background(), s, "bob@remote.example"), 454, "4.7.1",
			"<bob@remote.example>: Relay access denied")
	})
	t.Run("tempfail action defer", func(t *testing.T) {
		e, _ := testEngine(t, map[string]string{
			"smtpd_delay_reject":                    "no",
			"smtpd_helo_restrictions":               "reject_unknown_helo_hostname",
			"unknown_helo_hostname_tempfail_action": "defer",
		}, zones)
		checkReply(t, e.CheckHelo(context.Background(), remoteSession(), "temp.example"), 450, "4.7.1",
			"<temp.example>: Helo command rejected: Host not found")
	})
}

func TestDeferIfReject(t *testing.T) {
	tests := []struct {
		restrictions string
		code         int
		dsn          string
		msg          string
	}{
		{
			restrictions: "defer_if_reject, reject",
			code:         450, dsn: "4.7.0",
			msg: "<alice@example.org>: Recipient address rejected: defer_if_reject requested",
		},
		{
			restrictions: "defer_if_reject, permit",
		},
		{
			restrictions: "defer_if_permit, permit",
			code:         450, dsn: "4.7.0",
			msg: "<alice@example.org>: Recipient address rejected: defer_if_permit requested",
		},
		{
			restrictions: "defer_if_permit, reject",
			code:         554, dsn: "5.7.1",
			msg: "<alice@example.org>: Recipient address rejected: Access denied",
		},
		{
			restrictions: "defer",
			code:         450, dsn: "4.3.2",
			msg: "<alice@example.org>: Recipient address rejected: Try again later",
		},
	}
	for _, tt := range tests {
		t.Run(tt.restrictions, func(t *testing.T) {
			e, _ := testEngine(t, map[string]string{
				"smtpd_recipient_restrictions": tt.restrictions,
			}, nil)
			s := remoteSession()
			if err := e.CheckMail(context.Background(), s, "sender@remote.example"); err != nil {
				t.Fatal(err)
			}
			checkReply(t, e.CheckRcpt(context.Background(), s, "alice@example.org"), tt.code, tt.dsn, tt.msg)
		})
	}
}

func TestWarnIfReject(t *testing.T) {
	e, logs := testEngine(t, map[string]string{
		"smtpd_delay_reject":        "no",
		"smtpd_client_restrictions": "warn_if_reject, reject_unknown_client_hostname, reject_unknown_reverse_client_hostname",
	}, nil)

	s := NewSession("", "203.0.113.5")
	s.NameStatus = PeerPerm
	s.ReverseNameStatus = PeerOK
	checkReply(t, e.CheckClient(context.Background(), s), 0, "", "")
	if n := logs.FilterMessage("reject_warning").Len(); n != 1 {
		t.Errorf("%d reject_warning entries logged, want 1", n)
	}

	// The scope covers only the next restriction.
	s.ReverseNameStatus = PeerTemp
	checkReply(t, e.CheckClient(context.Background(), s), 450, "4.7.1",
		"Client host rejected: cannot find your reverse hostname, [203.0.113.5]")
}

func TestSoftBounce(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"soft_bounce":                  "yes",
		"smtpd_recipient_restrictions": "reject",
	}, nil)
	s := remoteSession()
	if err := e.CheckMail(context.Background(), s, "sender@remote.example"); err != nil {
		t.Fatal(err)
	}
	checkReply(t, e.CheckRcpt(context.Background(), s, "alice@example.org"), 454, "4.7.1",
		"<alice@example.org>: Recipient address rejected: Access denied")
}

func TestCheckMail_RejectKeepsOldSender(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_delay_reject":           "no",
		"smtpd_sender_restrictions":    "check_sender_access inline:{spammer@remote.example=REJECT}",
		"smtpd_recipient_restrictions": "",
	}, nil)
	s := remoteSession()
	err := e.CheckMail(context.Background(), s, "spammer@remote.example")
	checkReply(t, err, 554, "5.7.1", "<spammer@remote.example>: Sender address rejected: Access denied")
	if s.HasSender || s.Sender != "" {
		t.Errorf("rejected sender recorded: %v %q", s.HasSender, s.Sender)
	}
	checkReply(t, e.CheckMail(context.Background(), s, ""), 0, "", "")
	if !s.HasSender || s.Sender != "" {
		t.Errorf("null sender not recorded: %v %q", s.HasSender, s.Sender)
	}
}

func TestRejectUnlistedRecipient(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"local_recipient_maps": "inline:{alice=1, bob=1}",
		"recipient_delimiter":  "+",
	}, nil)

	tests := []struct {
		rcpt string
		code int
	}{
		{rcpt: "alice@example.org"},
		{rcpt: "bob+lists@example.org"},
		{rcpt: "postmaster@example.org"},
		{rcpt: "MAILER-DAEMON@example.org"},
		{rcpt: "carol@example.org", code: 550},
	}
	for _, tt := range tests {
		t.Run(tt.rcpt, func(t *testing.T) {
			s := remoteSession()
			if err := e.CheckMail(context.Background(), s, "sender@remote.example"); err != nil {
				t.Fatal(err)
			}
			checkReply(t, e.CheckRcpt(context.Background(), s, tt.rcpt), tt.code, "5.1.1",
				"<"+tt.rcpt+">: Recipient address rejected: User unknown in local recipient table")
		})
	}

	t.Run("table name hidden", func(t *testing.T) {
		e, _ := testEngine(t, map[string]string{
			"local_recipient_maps":         "inline:{alice=1}",
			"show_user_unknown_table_name": "no",
		}, nil)
		s := remoteSession()
		if err := e.CheckMail(context.Background(), s, "sender@remote.example"); err != nil {
			t.Fatal(err)
		}
		checkReply(t, e.CheckRcpt(context.Background(), s, "carol@example.org"), 550, "5.1.1",
			"<carol@example.org>: Recipient address rejected: User unknown")
	})
}

func TestCheckEtrn(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_etrn_restrictions": "check_etrn_access inline:{{blocked.example = REJECT not here}}, permit_mynetworks, reject",
	}, nil)

	s := remoteSession()
	checkReply(t, e.CheckEtrn(context.Background(), s, "blocked.example"), 554, "5.7.1",
		"<blocked.example>: Etrn command rejected: not here")
	if s.EtrnDomain != "" {
		t.Errorf("ETRN domain kept: %q", s.EtrnDomain)
	}
	checkReply(t, e.CheckEtrn(context.Background(), s, "other.example"), 554, "5.7.1",
		"<other.example>: Etrn command rejected: Access denied")
	checkReply(t, e.CheckEtrn(context.Background(), NewSession("localhost", "127.0.0.1"), "other.example"), 0, "", "")
}

func TestCheckData(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_data_restrictions": "reject_multi_recipient_bounce",
	}, nil)

	s := remoteSession()
	if err := e.CheckMail(context.Background(), s, ""); err != nil {
		t.Fatal(err)
	}
	s.RecipientCount = 1
	checkReply(t, e.CheckData(context.Background(), s), 0, "", "")

	s.RecipientCount = 2
	checkReply(t, e.CheckData(context.Background(), s), 550, "5.5.3",
		"<DATA>: Data command rejected: Multi-recipient bounce")
}

func TestCheckEOD_HidesRecipient(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_end_of_data_restrictions": "check_recipient_access inline:{alice@example.org=REJECT}",
	}, nil)

	s := remoteSession()
	if err := e.CheckMail(context.Background(), s, "sender@remote.example"); err != nil {
		t.Fatal(err)
	}
	if err := e.CheckRcpt(context.Background(), s, "alice@example.org"); err != nil {
		t.Fatal(err)
	}
	s.RecipientCount = 1
	checkReply(t, e.CheckEOD(context.Background(), s), 554, "5.7.1",
		"<alice@example.org>: Recipient address rejected: Access denied")

	s.RecipientCount = 2
	checkReply(t, e.CheckEOD(context.Background(), s), 0, "", "")
	if s.Recipient != "alice@example.org" {
		t.Errorf("recipient not restored: %q", s.Recipient)
	}
}

func TestSenderLoginMismatch(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_delay_reject":        "no",
		"smtpd_sasl_auth_enable":    "yes",
		"smtpd_sender_login_maps":   "inline:{alice@example.org=alice, {shared@example.org = alice bob}}",
		"smtpd_sender_restrictions": "reject_sender_login_mismatch",
	}, nil)

	tests := []struct {
		login  string
		sender string
		msg    string
	}{
		{login: "alice", sender: "alice@example.org"},
		{login: "bob", sender: "shared@example.org"},
		{login: "", sender: "stranger@remote.example"},
		{login: "", sender: ""},
		{login: "bob", sender: "alice@example.org", msg: "<alice@example.org>: Sender address rejected: not owned by user bob"},
		{login: "bob", sender: "stranger@remote.example", msg: "<stranger@remote.example>: Sender address rejected: not owned by user bob"},
		{login: "", sender: "alice@example.org", msg: "<alice@example.org>: Sender address rejected: not logged in"},
	}
	for _, tt := range tests {
		t.Run(tt.login+"/"+tt.sender, func(t *testing.T) {
			s := remoteSession()
			s.SASLUsername = tt.login
			err := e.CheckMail(context.Background(), s, tt.sender)
			if tt.msg == "" {
				checkReply(t, err, 0, "", "")
				return
			}
			checkReply(t, err, 553, "5.7.1", tt.msg)
		})
	}
}

func TestHangup(t *testing.T) {
	e, _ := testEngine(t, map[string]string{
		"smtpd_delay_reject":        "no",
		"smtpd_client_restrictions": "check_client_access inline:{{203.0.113.5 = HANGUP go away}}",
	}, nil)

	err := e.CheckClient(context.Background(), remoteSession())
	var abort *Abort
	if !errors.As(err, &abort) || !abort.Hangup {
		t.Fatalf("CheckClient() = %v, want hangup", err)
	}
	checkReply(t, err, 421, "4.7.0", "<client.example.net[203.0.113.5]>: Client host rejected: go away")
}
