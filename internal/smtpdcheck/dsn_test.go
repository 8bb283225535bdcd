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
	"testing"
)

func TestDSNSplit(t *testing.T) {
	tests := []struct {
		text string
		dsn  string
		rest string
	}{
		{"5.1.1 User unknown", "5.1.1", "User unknown"},
		{"  4.2.0\tmailbox busy", "4.2.0", "mailbox busy"},
		{"5.1.10", "5.1.10", ""},
		{"User unknown", "5.7.1", "User unknown"},
		{"5.1 User unknown", "5.7.1", "5.1 User unknown"},
		{"", "5.7.1", ""},
	}
	for _, tt := range tests {
		dsn, rest := dsnSplit("5.7.1", tt.text)
		if dsn != tt.dsn || rest != tt.rest {
			t.Errorf("dsnSplit(%q) = %q, %q; want %q, %q", tt.text, dsn, rest, tt.dsn, tt.rest)
		}
	}
}

func TestDSNFix(t *testing.T) {
	tests := []struct {
		dsn   string
		class string
		want  string
	}{
		{"5.1.1", nameSender, "5.1.8"},
		{"5.1.3", nameSender, "5.1.7"},
		{"5.1.5", nameSender, "5.1.0"},
		{"5.1.8", nameSender, "5.1.8"},
		{"5.1.7", nameRecipient, "5.1.3"},
		{"5.1.8", nameRecipient, "5.1.2"},
		{"5.1.1", nameRecipient, "5.1.1"},
		{"5.1.1", nameClient, "5.7.1"},
		{"4.1.8", nameHelo, "4.7.1"},
		{"5.7.1", nameSender, "5.7.1"},
		{"4.3.5", nameClient, "4.3.5"},
		{"bogus", nameClient, "bogus"},
	}
	for _, tt := range tests {
		if got := dsnFix(tt.dsn, tt.class); got != tt.want {
			t.Errorf("dsnFix(%q, %q) = %q, want %q", tt.dsn, tt.class, got, tt.want)
		}
	}
}

func TestReplyText(t *testing.T) {
	if got := printable("bad\x01text\xff"); got != "bad text " {
		t.Errorf("printable() = %q", got)
	}
	long := strings.Repeat("x", 600)
	if got := truncate(long, maxReplyLen); len(got) != maxReplyLen {
		t.Errorf("truncate() kept %d bytes", len(got))
	}
	if got := truncate("short", maxReplyLen); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
}

func TestCheckReject_BadCodes(t *testing.T) {
	e, logs := testEngine(t, map[string]string{
		"smtpd_delay_reject":        "no",
		"smtpd_client_restrictions": "reject",
		"reject_code":               "250",
	}, nil)
	checkReply(t, e.CheckClient(context.Background(), remoteSession()), 450, "4.7.1", "Service unavailable")
	if logs.FilterMessage("SMTP reply code configuration error").Len() != 1 {
		t.Errorf("bad reply code not logged")
	}
}
