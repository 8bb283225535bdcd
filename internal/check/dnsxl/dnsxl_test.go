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

package dnsxl

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/foxcpp/go-mockdns"
	"github.com/sblinch/smtpdcheck/framework/dns"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
)

type countingResolver struct {
	dns.StatusResolver

	mu     sync.Mutex
	aCalls map[string]int
}

func (c *countingResolver) LookupA(ctx context.Context, name string) ([]net.IP, dns.Status, error) {
	c.mu.Lock()
	c.aCalls[name]++
	c.mu.Unlock()
	return c.StatusResolver.LookupA(ctx, name)
}

func testClient(t *testing.T) (*Client, *countingResolver) {
	zones := map[string]mockdns.Zone{
		"2.0.0.127.bl.example.": {
			A:   []string{"127.0.0.2"},
			TXT: []string{"listed", "see https://bl.example/2"},
		},
		"5.0.0.127.bl.example.": {
			A: []string{"127.0.0.5"},
		},
		"spam.example.rhsbl.example.": {
			A: []string{"127.0.0.2"},
		},
		"example.co.uk.rhsbl.example.": {
			A: []string{"127.0.0.2"},
		},
		"1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.bl.example.": {
			A: []string{"127.0.0.2"},
		},
		"3.0.0.127.bl.example.": {
			Err: &net.DNSError{Err: "server failure", IsTemporary: true},
		},
	}
	r := &countingResolver{
		StatusResolver: dns.NetResolver{R: &mockdns.Resolver{Zones: zones}},
		aCalls:         make(map[string]int),
	}
	return New(r, 100), r
}

func TestReverseAddr(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{"192.0.2.1", "1.2.0.192.", false},
		{"2001:db8::1", "1.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.0.8.b.d.0.1.0.0.2.", false},
		{"192.0.2", "", true},
		{"mail.example.org", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := ReverseAddr(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReverseAddr() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ReverseAddr() got = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePattern(t *testing.T) {
	tests := []struct {
		pattern string
		ip      string
		want    bool
		wantErr bool
	}{
		{"127.0.0.2", "127.0.0.2", true, false},
		{"127.0.0.2", "127.0.0.3", false, false},
		{"127.0.0.[2..4]", "127.0.0.3", true, false},
		{"127.0.0.[2..4]", "127.0.0.5", false, false},
		{"127.0.0.[2;5..6]", "127.0.0.6", true, false},
		{"127.0.0.[2;5..6]", "127.0.0.4", false, false},
		{"127.0.0.2;127.0.0.3", "127.0.0.3", true, false},
		{"127.0.[0..1].[2..4]", "127.0.1.2", true, false},
		{"127.0.0", "", false, true},
		{"127.0.0.[4..2]", "", false, true},
		{"127.0.0.256", "", false, true},
		{"127.0.0.[2", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.ip, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePattern() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := p.Match(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("Match() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJoinTXT(t *testing.T) {
	if got := joinTXT([]string{"a", "b", "c"}); got != "a / b / c" {
		t.Errorf("joinTXT() got = %q", got)
	}
	long := strings.Repeat("x", 400)
	got := joinTXT([]string{long, long})
	if len(got) != txtLimit {
		t.Errorf("joinTXT() length = %d, want %d", len(got), txtLimit)
	}
	if !strings.HasPrefix(got, long+" / ") {
		t.Errorf("joinTXT() did not separate records")
	}
}

func TestClient_LookupAddr(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		list      string
		addr      string
		wantHit   bool
		wantTXT   string
		wantRetry bool
	}{
		{"listed", "bl.example", "127.0.0.2", true, "listed / see https://bl.example/2", false},
		{"not-listed", "bl.example", "127.0.0.4", false, "", false},
		{"pattern-match", "bl.example=127.0.0.[2..4]", "127.0.0.2", true, "listed / see https://bl.example/2", false},
		{"pattern-mismatch", "bl.example=127.0.0.[2..4]", "127.0.0.5", false, "", false},
		{"ipv6", "bl.example", "2001:db8::1", true, "", false},
		{"soft", "bl.example", "127.0.0.3", false, "", true},
		{"malformed", "bl.example", "unknown", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.LookupAddr(ctx, tt.list, tt.addr)
			if tt.wantRetry {
				if err == nil || !exterrors.IsTemporary(err) {
					t.Fatalf("LookupAddr() error = %v, want temporary error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LookupAddr() error = %v", err)
			}
			if (res != nil) != tt.wantHit {
				t.Fatalf("LookupAddr() got = %+v, want hit %v", res, tt.wantHit)
			}
			if res != nil && res.TXT != tt.wantTXT {
				t.Errorf("LookupAddr() TXT = %q, want %q", res.TXT, tt.wantTXT)
			}
		})
	}
}

func TestClient_LookupDomain(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	tests := []struct {
		what    string
		wantHit bool
	}{
		{"spam.example", true},
		{"user@spam.example", true},
		{"user@[192.0.2.1]", false},
		{"host.123", false},
		{"bad..name", false},
		{"clean.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.what, func(t *testing.T) {
			res, err := c.LookupDomain(ctx, "rhsbl.example", tt.what)
			if err != nil {
				t.Fatal(err)
			}
			if (res != nil) != tt.wantHit {
				t.Errorf("LookupDomain() got = %+v, want hit %v", res, tt.wantHit)
			}
		})
	}
}

func TestClient_RegisteredDomain(t *testing.T) {
	c, r := testClient(t)
	c.RegisteredDomain = true
	res, err := c.LookupDomain(context.Background(), "rhsbl.example", "user@mail.host.example.co.uk")
	if err != nil || res == nil {
		t.Fatalf("LookupDomain() got = %+v, error = %v, want a hit on the registered domain", res, err)
	}
	if r.aCalls["example.co.uk.rhsbl.example"] != 1 {
		t.Errorf("queries = %v", r.aCalls)
	}
}

func TestClient_Cached(t *testing.T) {
	c, r := testClient(t)
	ctx := context.Background()

	first, err := c.LookupAddr(ctx, "bl.example", "127.0.0.2")
	if err != nil || first == nil {
		t.Fatalf("LookupAddr() got = %v, error = %v", first, err)
	}
	second, err := c.LookupAddr(ctx, "bl.example=127.0.0.2", "127.0.0.2")
	if err != nil || second == nil {
		t.Fatalf("LookupAddr() got = %v, error = %v", second, err)
	}
	if first != second {
		t.Errorf("second lookup returned a different result object")
	}
	if n := r.aCalls["2.0.0.127.bl.example"]; n != 1 {
		t.Errorf("DNS queried %d times, want 1", n)
	}

	// Negative answers are cached too.
	for i := 0; i < 2; i++ {
		if res, _ := c.LookupAddr(ctx, "bl.example", "127.0.0.9"); res != nil {
			t.Fatalf("LookupAddr() got = %+v, want no listing", res)
		}
	}
	if n := r.aCalls["9.0.0.127.bl.example"]; n != 1 {
		t.Errorf("DNS queried %d times for an unlisted address, want 1", n)
	}

	// Soft failures are not.
	for i := 0; i < 2; i++ {
		if _, err := c.LookupAddr(ctx, "bl.example", "127.0.0.3"); err == nil {
			t.Fatal("LookupAddr() error = nil, want a temporary error")
		}
	}
	if n := r.aCalls["3.0.0.127.bl.example"]; n != 2 {
		t.Errorf("DNS queried %d times after a soft failure, want 2", n)
	}

	c.Flush()
	if _, err := c.LookupAddr(ctx, "bl.example", "127.0.0.2"); err != nil {
		t.Fatal(err)
	}
	if n := r.aCalls["2.0.0.127.bl.example"]; n != 2 {
		t.Errorf("DNS queried %d times after Flush, want 2", n)
	}
}
