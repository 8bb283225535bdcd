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
	"testing"

	"github.com/foxcpp/go-mockdns"
)

var mxZones = map[string]mockdns.Zone{
	"backup.example.": {MX: []net.MX{
		{Host: "primary.example.net.", Pref: 10},
		{Host: "mail.example.org.", Pref: 20},
	}},
	"primary-here.example.": {MX: []net.MX{
		{Host: "mail.example.org.", Pref: 10},
	}},
	"elsewhere.example.": {MX: []net.MX{
		{Host: "primary.example.net.", Pref: 10},
		{Host: "other.example.net.", Pref: 20},
	}},
	"tempmx.example.": {
		Err: &net.DNSError{Err: "server failure", IsTemporary: true},
	},
	"primary.example.net.": {A: []string{"198.51.100.10"}},
	"other.example.net.":   {A: []string{"198.51.100.11"}},
}

func TestPermitMXBackup(t *testing.T) {
	tests := []struct {
		rcpt     string
		networks string
		code     int
		dsn      string
		msg      string
	}{
		{rcpt: "user@backup.example"},
		{rcpt: "user@backup.example", networks: "198.51.100.0/24"},
		{
			rcpt: "user@backup.example", networks: "192.0.2.0/24",
			code: 554, dsn: "5.7.1", msg: "<user@backup.example>: Relay access denied",
		},
		{
			rcpt: "user@primary-here.example",
			code: 554, dsn: "5.7.1", msg: "<user@primary-here.example>: Relay access denied",
		},
		{
			rcpt: "user@elsewhere.example",
			code: 554, dsn: "5.7.1", msg: "<user@elsewhere.example>: Relay access denied",
		},
		{
			rcpt: "user@tempmx.example",
			code: 450, dsn: "4.4.4",
			msg: "<user@tempmx.example>: Recipient address rejected: Unable to look up mail exchanger information",
		},
	}
	for _, tt := range tests {
		t.Run(tt.rcpt+"/"+tt.networks, func(t *testing.T) {
			e, _ := testEngine(t, map[string]string{
				"smtpd_relay_restrictions":  "permit_mx_backup, reject_unauth_destination",
				"permit_mx_backup_networks": tt.networks,
			}, mxZones)
			s := remoteSession()
			if err := e.CheckMail(context.Background(), s, "sender@remote.example"); err != nil {
				t.Fatal(err)
			}
			checkReply(t, e.CheckRcpt(context.Background(), s, tt.rcpt), tt.code, tt.dsn, tt.msg)
		})
	}
}

func TestCheckRelayDomains(t *testing.T) {
	e, logs := testEngine(t, map[string]string{
		"relay_domains":            "partner.example",
		"smtpd_relay_restrictions": "check_relay_domains",
	}, nil)

	tests := []struct {
		client string
		rcpt   string
		reject bool
	}{
		{client: "client.example.net", rcpt: "user@partner.example"},
		{client: "client.example.net", rcpt: "user@example.org"},
		{client: "mx.partner.example", rcpt: "user@remote.example"},
		{client: "client.example.net", rcpt: "user@remote.example", reject: true},
	}
	for _, tt := range tests {
		s := NewSession(tt.client, "203.0.113.5")
		if err := e.CheckMail(context.Background(), s, "sender@remote.example"); err != nil {
			t.Fatal(err)
		}
		err := e.CheckRcpt(context.Background(), s, tt.rcpt)
		if !tt.reject {
			checkReply(t, err, 0, "", "")
			continue
		}
		checkReply(t, err, 554, "5.7.1", "<"+tt.client+"[203.0.113.5]>: Client host rejected: Relay access denied")
	}
	if n := logs.FilterMessageSnippet("check_relay_domains will be removed").Len(); n != 1 {
		t.Errorf("deprecation logged %d times, want 1", n)
	}
}
