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

package table

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sblinch/smtpdcheck/framework/module"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFile(t *testing.T) {
	path := writeTemp(t, "access", `# access table
example.org      OK
Spammer.Example  REJECT
    we do not talk to you
192.0.2          DUNNO
`)
	tbl, err := Open("hash:" + path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	tests := []struct {
		key       string
		want      string
		wantFound bool
	}{
		{"example.org", "OK", true},
		{"EXAMPLE.ORG", "OK", true},
		{"spammer.example", "REJECT we do not talk to you", true},
		{"192.0.2", "DUNNO", true},
		{"example.net", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, found, err := tbl.Lookup(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if found != tt.wantFound || got != tt.want {
				t.Errorf("Lookup() got = %q, %v, want %q, %v", got, found, tt.want, tt.wantFound)
			}
		})
	}
}

func TestFile_ContinuationWithoutEntry(t *testing.T) {
	path := writeTemp(t, "bad", "  orphan\n")
	if _, err := Open("texthash:" + path); err == nil {
		t.Errorf("Open() accepted a continuation line without an entry")
	}
}

func TestInline(t *testing.T) {
	tbl, err := Open("inline:{ example.org=OK, { spam.example = REJECT no spam please } }")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	v, ok, _ := tbl.Lookup(context.Background(), "Spam.Example")
	if !ok || v != "REJECT no spam please" {
		t.Errorf("Lookup() got = %q, %v", v, ok)
	}
	v, ok, _ = tbl.Lookup(context.Background(), "example.org")
	if !ok || v != "OK" {
		t.Errorf("Lookup() got = %q, %v", v, ok)
	}

	if _, err := Open("inline:example.org=OK"); err == nil {
		t.Errorf("Open() accepted an inline table without braces")
	}
}

func TestStatic(t *testing.T) {
	tbl, err := Open("static:{REJECT go away}")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	v, ok, _ := tbl.Lookup(context.Background(), "anything")
	if !ok || v != "REJECT go away" {
		t.Errorf("Lookup() got = %q, %v", v, ok)
	}
}

func TestRegexp(t *testing.T) {
	path := writeTemp(t, "regexp", `# header checks
/^(.*)@example\.org$/    REDIRECT $1@example.net
/^CaseSensitive$/i       OK
!/\.example$/            DUNNO
if /^mail\./
/\.spam\.example$/       REJECT
endif
/\.example$/             HOLD
`)
	tbl, err := Open("regexp:" + path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !module.IsPattern(tbl) {
		t.Errorf("IsPattern() = false for a regexp table")
	}

	tests := []struct {
		key       string
		want      string
		wantFound bool
	}{
		{"User@Example.org", "REDIRECT User@example.net", true},
		{"CaseSensitive", "OK", true},
		{"casesensitive", "DUNNO", true},
		{"mail.spam.example", "REJECT", true},
		{"www.spam.example", "HOLD", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, found, err := tbl.Lookup(context.Background(), tt.key)
			if err != nil {
				t.Fatalf("Lookup() error = %v", err)
			}
			if found != tt.wantFound || got != tt.want {
				t.Errorf("Lookup() got = %q, %v, want %q, %v", got, found, tt.want, tt.wantFound)
			}
		})
	}
}

func TestRegexp_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing-endif", "if /a/\n/b/ OK\n"},
		{"stray-endif", "endif\n"},
		{"missing-result", "/a/\n"},
		{"unterminated", "/abc OK\n"},
		{"bad-flag", "/a/q OK\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, "regexp", tt.content)
			if _, err := Open("regexp:" + path); err == nil {
				t.Errorf("Open() error = nil, want error")
			}
		})
	}
}

func TestCIDR(t *testing.T) {
	path := writeTemp(t, "cidr", `192.0.2.0/24      REJECT
[2001:db8::]/32   DUNNO
!198.51.100.0/24  OK
`)
	tbl, err := Open("cidr:" + path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"192.0.2.77", "REJECT"},
		{"203.0.113.1", "OK"},
		{"2001:db8::25", "DUNNO"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, found, _ := tbl.Lookup(context.Background(), tt.key)
			if !found || got != tt.want {
				t.Errorf("Lookup() got = %q, %v, want %q", got, found, tt.want)
			}
		})
	}
	if _, found, _ := tbl.Lookup(context.Background(), "198.51.100.3"); found {
		t.Errorf("Lookup() matched an address excluded by a negated block")
	}

	path = writeTemp(t, "cidr", "192.0.2.1/24 REJECT\n")
	if _, err := Open("cidr:" + path); err == nil {
		t.Errorf("Open() accepted host bits in a CIDR block")
	}
}

func TestMemory(t *testing.T) {
	tbl, err := Open("memory:verify")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	mt := tbl.(module.MutableTable)
	if err := mt.SetKey("User@Example.org", "ok"); err != nil {
		t.Fatal(err)
	}

	same, _ := Open("memory:verify")
	if v, ok, _ := same.Lookup(context.Background(), "user@example.org"); !ok || v != "ok" {
		t.Errorf("Lookup() on a second instance got = %q, %v", v, ok)
	}
	keys, _ := mt.Keys()
	if len(keys) != 1 || keys[0] != "user@example.org" {
		t.Errorf("Keys() got = %v", keys)
	}
	if err := mt.RemoveKey("user@example.org"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := mt.Lookup(context.Background(), "user@example.org"); ok {
		t.Errorf("Lookup() found a removed key")
	}
}

func TestMaps(t *testing.T) {
	path := writeTemp(t, "regexp", "/example/ REJECT pattern\n")
	m, err := OpenMaps("smtpd_sender_login_maps", "inline:{ a@example.org=alice }, regexp:"+path)
	if err != nil {
		t.Fatalf("OpenMaps() error = %v", err)
	}
	ctx := context.Background()

	if v, ok, _ := m.Lookup(ctx, "a@example.org"); !ok || v != "alice" {
		t.Errorf("Lookup() got = %q, %v, want first table to win", v, ok)
	}
	if v, ok, _ := m.Lookup(ctx, "example.org"); !ok || v != "REJECT pattern" {
		t.Errorf("Lookup() got = %q, %v, want regexp match", v, ok)
	}
	if _, ok, _ := m.LookupPartial(ctx, "example.org"); ok {
		t.Errorf("LookupPartial() consulted a pattern table")
	}

	var nilMaps *Maps
	if !nilMaps.Empty() {
		t.Errorf("Empty() = false for nil maps")
	}
	if _, ok, err := nilMaps.Lookup(ctx, "x"); ok || err != nil {
		t.Errorf("Lookup() on nil maps got = %v, %v", ok, err)
	}

	if _, err := OpenMaps("relay_recipient_maps", "nosuchtype:/x"); err == nil {
		t.Errorf("OpenMaps() accepted an unknown table type")
	}
}
