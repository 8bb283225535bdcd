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

package dns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/foxcpp/go-mockdns"
)

var testZones = map[string]mockdns.Zone{
	"example.org.": {
		A:   []string{"192.0.2.1"},
		MX:  []net.MX{{Host: "mx.example.org.", Pref: 10}},
		TXT: []string{"v=spf1 -all"},
	},
	"mx.example.org.": {
		A:    []string{"192.0.2.25"},
		AAAA: []string{"2001:db8::25"},
	},
	"nomail.example.org.": {
		A:  []string{"192.0.2.2"},
		MX: []net.MX{{Host: ".", Pref: 0}},
	},
	"broken.example.org.": {
		Err: &net.DNSError{Err: "i/o timeout", IsTimeout: true, IsTemporary: true},
	},
}

func TestExtResolver(t *testing.T) {
	srv, err := mockdns.NewServer(testZones, false)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	r := NewExtResolverFor(2*time.Second, srv.LocalAddr().String())
	ctx := context.Background()

	ips, status, err := r.LookupA(ctx, "example.org")
	if err != nil || status != StatusOK {
		t.Fatalf("LookupA() status = %v, error = %v", status, err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("192.0.2.1")) {
		t.Errorf("LookupA() got = %v", ips)
	}

	_, status, err = r.LookupA(ctx, "missing.example.org")
	if err != nil || status != StatusNotFound {
		t.Errorf("LookupA(missing) status = %v, error = %v, want NOTFOUND", status, err)
	}

	_, status, err = r.LookupTXT(ctx, "mx.example.org")
	if err != nil || status != StatusNoData {
		t.Errorf("LookupTXT(no records) status = %v, error = %v, want NODATA", status, err)
	}

	mxs, status, err := r.LookupMX(ctx, "example.org")
	if err != nil || status != StatusOK {
		t.Fatalf("LookupMX() status = %v, error = %v", status, err)
	}
	if len(mxs) != 1 || mxs[0].Host != "mx.example.org." || mxs[0].Pref != 10 {
		t.Errorf("LookupMX() got = %+v", mxs)
	}

	ips, status, _ = r.LookupIP(ctx, "mx.example.org")
	if status != StatusOK || len(ips) != 2 {
		t.Errorf("LookupIP() status = %v, got = %v, want both families", status, ips)
	}

	txts, status, _ := r.LookupTXT(ctx, "example.org")
	if status != StatusOK || len(txts) != 1 || txts[0] != "v=spf1 -all" {
		t.Errorf("LookupTXT() status = %v, got = %v", status, txts)
	}
}

func TestNetResolver(t *testing.T) {
	r := NetResolver{R: &mockdns.Resolver{Zones: testZones}}
	ctx := context.Background()

	tests := []struct {
		name       string
		lookup     func() Status
		wantStatus Status
	}{
		{"a-ok", func() Status { _, s, _ := r.LookupA(ctx, "example.org"); return s }, StatusOK},
		{"a-missing", func() Status { _, s, _ := r.LookupA(ctx, "missing.example.org"); return s }, StatusNotFound},
		{"a-temporary", func() Status { _, s, _ := r.LookupA(ctx, "broken.example.org"); return s }, StatusRetry},
		{"mx-ok", func() Status { _, s, _ := r.LookupMX(ctx, "example.org"); return s }, StatusOK},
		{"mx-null", func() Status { _, s, _ := r.LookupMX(ctx, "nomail.example.org"); return s }, StatusNullMX},
		{"mx-temporary", func() Status { _, s, _ := r.LookupMX(ctx, "broken.example.org"); return s }, StatusRetry},
		{"txt-ok", func() Status { _, s, _ := r.LookupTXT(ctx, "example.org"); return s }, StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lookup(); got != tt.wantStatus {
				t.Errorf("lookup status got = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestMergeIP(t *testing.T) {
	v4 := []net.IP{net.ParseIP("192.0.2.1")}
	tests := []struct {
		name     string
		v4Status Status
		v6Status Status
		want     Status
	}{
		{"v4-only", StatusOK, StatusNoData, StatusOK},
		{"v6-retry-v4-ok", StatusOK, StatusRetry, StatusOK},
		{"v4-retry", StatusRetry, StatusNoData, StatusRetry},
		{"both-missing", StatusNotFound, StatusNotFound, StatusNotFound},
		{"nodata", StatusNoData, StatusNoData, StatusNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ips []net.IP
			if tt.v4Status == StatusOK {
				ips = v4
			}
			_, got, _ := mergeIP(ips, tt.v4Status, nil, nil, tt.v6Status, nil)
			if got != tt.want {
				t.Errorf("mergeIP() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForLookup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Example.ORG.", "example.org"},
		{"例え.テスト", "xn--r8jz45g.xn--zckzah"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ForLookup(tt.in)
			if err != nil {
				t.Fatalf("ForLookup() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ForLookup() got = %v, want %v", got, tt.want)
			}
		})
	}
}
