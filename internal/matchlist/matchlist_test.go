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

package matchlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestList_MatchDomain(t *testing.T) {
	tests := []struct {
		name        string
		list        string
		parentMatch bool
		domain      string
		want        bool
	}{
		{"exact", "example.org", false, "example.org", true},
		{"exact-case", "Example.ORG", false, "example.org.", true},
		{"sub-without-parent", "example.org", false, "mail.example.org", false},
		{"sub-with-parent", "example.org", true, "mail.example.org", true},
		{"dot-pattern", ".example.org", false, "mail.example.org", true},
		{"dot-pattern-self", ".example.org", false, "example.org", false},
		{"negated", "!mail.example.org, .example.org", false, "mail.example.org", false},
		{"negated-other", "!mail.example.org, .example.org", false, "www.example.org", true},
		{"table", "inline:{example.org=x}", false, "example.org", true},
		{"table-parent-dot", "inline:{.example.org=x}", false, "a.b.example.org", true},
		{"table-parent-style", "inline:{example.org=x}", true, "a.b.example.org", true},
		{"table-no-parent-style", "inline:{example.org=x}", false, "a.b.example.org", false},
		{"empty", "", false, "example.org", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New("relay_domains", tt.list, tt.parentMatch)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			got, err := l.MatchDomain(context.Background(), tt.domain)
			if err != nil {
				t.Fatalf("MatchDomain() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("MatchDomain() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestList_MatchAddr(t *testing.T) {
	l, err := New("mynetworks", "127.0.0.0/8, [::1]/128, !192.0.2.7, 192.0.2.0/24, 2001:db8::25", false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"192.0.2.1", true},
		{"192.0.2.7", false},
		{"2001:db8::25", true},
		{"198.51.100.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := l.MatchAddr(context.Background(), tt.addr)
			if err != nil {
				t.Fatalf("MatchAddr() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("MatchAddr() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestList_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relays")
	if err := os.WriteFile(path, []byte("# relays\nexample.org\n192.0.2.0/24\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	l, err := New("permit_mx_backup_networks", path+", example.net", false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if ok, _ := l.MatchNamAddr(ctx, "example.org", ""); !ok {
		t.Errorf("MatchNamAddr() did not match a name from the file")
	}
	if ok, _ := l.MatchNamAddr(ctx, "unknown", "192.0.2.9"); !ok {
		t.Errorf("MatchNamAddr() did not match an address from the file")
	}
	if ok, _ := l.MatchNamAddr(ctx, "example.net", ""); !ok {
		t.Errorf("MatchNamAddr() did not match an inline pattern after the file")
	}

	if _, err := New("mynetworks", "192.0.2.1/24", false); err == nil {
		t.Errorf("New() accepted host bits in a network block")
	}
	if _, err := New("mynetworks", "!"+path, false); err == nil {
		t.Errorf("New() accepted a negated file")
	}
}
