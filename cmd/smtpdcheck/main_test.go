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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testMainCf = `myhostname = mail.example.org
mydestination = $myhostname, example.org
mynetworks = 127.0.0.0/8
inet_interfaces = 192.0.2.25
smtpd_relay_restrictions =
    permit_mynetworks,
    defer_unauth_destination
`

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.cf")
	if err := os.WriteFile(path, []byte(testMainCf), 0o600); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"smtpdcheck", "-c", path}, args...))
	return out.String(), err
}

func TestCheck(t *testing.T) {
	out, err := runApp(t, "check",
		"--client-addr", "203.0.113.5", "--client-name", "client.example.net",
		"--sender", "sender@remote.example",
		"--rcpt", "alice@example.org", "--rcpt", "bob@remote.example")
	if err != nil {
		t.Fatal(err)
	}
	want := `CONNECT: OK
MAIL: OK
RCPT alice@example.org: OK
RCPT bob@remote.example: 454 4.7.1 <bob@remote.example>: Relay access denied
DATA: OK
END-OF-MESSAGE: OK
`
	if out != want {
		t.Errorf("check output:\n%s\nwant:\n%s", out, want)
	}
}

func TestCheck_Override(t *testing.T) {
	out, err := runApp(t,
		"-o", "smtpd_recipient_restrictions = check_recipient_access inline:{alice@example.org=OK}, reject",
		"check", "--client-addr", "203.0.113.5", "--client-name", "client.example.net",
		"--sender", "sender@remote.example",
		"--rcpt", "alice@example.org", "--rcpt", "carol@example.org")
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{
		"RCPT alice@example.org: OK\n",
		"RCPT carol@example.org: 554 5.7.1 <carol@example.org>: Recipient address rejected: Access denied\n",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("output lacks %q:\n%s", line, out)
		}
	}
}

func TestCheck_Etrn(t *testing.T) {
	out, err := runApp(t, "-o", "smtpd_etrn_restrictions=reject",
		"check", "--client-addr", "203.0.113.5", "--etrn", "example.org")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out, "ETRN: 554 5.7.1 <example.org>: Etrn command rejected: Access denied\n") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestClasses(t *testing.T) {
	out, err := runApp(t, "-o", "smtpd_restriction_classes=strict", "-o", "strict=reject_unauth_pipelining, reject",
		"classes")
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{
		"smtpd_relay_restrictions = permit_mynetworks, defer_unauth_destination\n",
		"strict = reject_unauth_pipelining, reject\n",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("output lacks %q:\n%s", line, out)
		}
	}
}

func TestConfigErrors(t *testing.T) {
	if _, err := runApp(t, "-o", "broken", "classes"); err == nil {
		t.Error("override without '=' accepted")
	}
	if _, err := runApp(t, "-o", "smtpd_client_restrictions=no_such_restriction", "classes"); err == nil {
		t.Error("unknown restriction accepted")
	}
}
