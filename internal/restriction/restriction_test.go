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

package restriction

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		text string
		want Name
		ok   bool
	}{
		{"permit", Permit, true},
		{"PERMIT_MYNETWORKS", PermitMynetworks, true},
		{"reject_unknown_client", RejectUnknownClientHostname, true},
		{"reject_rbl", RejectRBLClient, true},
		{"check_recipient_maps", RejectUnlistedRecipient, true},
		{"reject_unknown_address", RejectUnknownSenderDomain, true},
		{"permit_everyone", Invalid, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := Lookup(tt.text)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Lookup() got = %v, %v, want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNames_Complete(t *testing.T) {
	for n := Permit; n <= CheckAddressMap; n++ {
		if n.Kind() == KindInvalid {
			t.Errorf("name %d has no table entry", n)
		}
		if got, ok := Lookup(n.String()); !ok || got != n {
			t.Errorf("Lookup(%q) got = %v, %v", n.String(), got, ok)
		}
	}
}

func TestParser_Parse(t *testing.T) {
	p := Parser{Classes: map[string]bool{"strict": true}}
	prog, err := p.Parse("smtpd_recipient_restrictions",
		"permit_mynetworks, check_client_access hash:/etc/access,\n"+
			"  reject_rbl_client zen.example=127.0.0.[2..11] sleep 5 strict inline:{ a=OK } reject_unauth_destination")
	if err != nil {
		t.Fatal(err)
	}

	want := []Restriction{
		{Kind: KindBuiltin, Name: PermitMynetworks, Text: "permit_mynetworks"},
		{Kind: KindMap, Name: CheckClientAccess, Text: "check_client_access", Arg: "hash:/etc/access"},
		{Kind: KindDNSList, Name: RejectRBLClient, Text: "reject_rbl_client", Arg: "zen.example=127.0.0.[2..11]"},
		{Kind: KindPseudo, Name: Sleep, Text: "sleep", Sleep: 5 * time.Second},
		{Kind: KindClass, Text: "strict", Arg: "strict"},
		{Kind: KindDefaultMap, Text: "inline:{ a=OK }", Arg: "inline:{ a=OK }"},
		{Kind: KindBuiltin, Name: RejectUnauthDestination, Text: "reject_unauth_destination"},
	}
	if !reflect.DeepEqual(prog.List, want) {
		t.Errorf("Parse() got:\n%+v\nwant:\n%+v", prog.List, want)
	}
	if len(prog.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", prog.Warnings)
	}
}

func TestParser_ParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"unknown", "permit_everyone"},
		{"map-missing-arg", "check_client_access"},
		{"map-bad-arg", "check_client_access reject"},
		{"dnsxl-missing-arg", "reject_rbl_client"},
		{"dnsxl-bad-pattern", "reject_rbl_client bl.example=127.0.0.[x]"},
		{"sleep-not-number", "sleep ten"},
		{"policy-missing", "check_policy_service"},
		{"policy-no-colon", "check_policy_service localhost"},
		{"policy-unknown-attr", "check_policy_service { inet:127.0.0.1:1, colour=blue }"},
		{"policy-bad-timeout", "check_policy_service { inet:127.0.0.1:1, timeout=soon }"},
		{"unbalanced", "check_policy_service { inet:127.0.0.1:1"},
		{"address-map", "check_address_map hash:/etc/rewrite"},
		{"undeclared-class", "strict"},
	}
	p := Parser{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse("test_restrictions", tt.value)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Parse() error = %v, want ConfigError", err)
			}
			if cfgErr.Param != "test_restrictions" {
				t.Errorf("ConfigError.Param = %q", cfgErr.Param)
			}
		})
	}
}

func TestParser_Policy(t *testing.T) {
	p := Parser{PolicyDefaults: PolicyRef{
		DefaultAction: "451 4.3.5 Server configuration problem",
		Timeout:       100 * time.Second,
		MaxIdle:       300 * time.Second,
		MaxTTL:        1000 * time.Second,
		TryLimit:      2,
		RetryDelay:    time.Second,
	}}

	tests := []struct {
		name  string
		value string
		want  PolicyRef
	}{
		{
			"plain",
			"check_policy_service unix:private/policy",
			PolicyRef{
				Endpoint:      "unix:private/policy",
				DefaultAction: "451 4.3.5 Server configuration problem",
				Timeout:       100 * time.Second, MaxIdle: 300 * time.Second, MaxTTL: 1000 * time.Second,
				TryLimit: 2, RetryDelay: time.Second,
			},
		},
		{
			"inside-braces",
			"check_policy_service { inet:127.0.0.1:9998, timeout=10s, default_action=DUNNO, policy_context=submission }",
			PolicyRef{
				Endpoint:      "inet:127.0.0.1:9998",
				DefaultAction: "DUNNO",
				Context:       "submission",
				Timeout:       10 * time.Second, MaxIdle: 300 * time.Second, MaxTTL: 1000 * time.Second,
				TryLimit: 2, RetryDelay: time.Second,
			},
		},
		{
			"options-first",
			"check_policy_service { try_limit = 5, max_idle = 1m, retry_delay = 2s } inet:127.0.0.1:9998",
			PolicyRef{
				Endpoint:      "inet:127.0.0.1:9998",
				DefaultAction: "451 4.3.5 Server configuration problem",
				Timeout:       100 * time.Second, MaxIdle: time.Minute, MaxTTL: 1000 * time.Second,
				TryLimit: 5, RetryDelay: 2 * time.Second,
			},
		},
		{
			"braced-default-action",
			"check_policy_service { inet:127.0.0.1:9998, default_action = { 450 4.7.1 try later } }",
			PolicyRef{
				Endpoint:      "inet:127.0.0.1:9998",
				DefaultAction: "450 4.7.1 try later",
				Timeout:       100 * time.Second, MaxIdle: 300 * time.Second, MaxTTL: 1000 * time.Second,
				TryLimit: 2, RetryDelay: time.Second,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := p.Parse("smtpd_recipient_restrictions", tt.value)
			if err != nil {
				t.Fatal(err)
			}
			if len(prog.List) != 1 || prog.List[0].Kind != KindPolicy {
				t.Fatalf("Parse() got = %+v", prog.List)
			}
			if got := *prog.List[0].Policy; got != tt.want {
				t.Errorf("PolicyRef got:\n%+v\nwant:\n%+v", got, tt.want)
			}
		})
	}
}

func TestParser_Warnings(t *testing.T) {
	p := Parser{}
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"last-permit", "permit_mynetworks, permit", nil},
		{"after-reject", "reject, permit_mynetworks", []string{"restriction `permit_mynetworks' after `reject' is ignored"}},
		{"after-relay-domains", "check_relay_domains, reject", []string{"restriction `reject' after `check_relay_domains' is ignored"}},
		{"warn-scope", "warn_if_reject, reject, permit", nil},
		{"naked-ip", "permit_naked_ip_address", []string{"permit_naked_ip_address is deprecated"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := p.Parse("test_restrictions", tt.value)
			if err != nil {
				t.Fatal(err)
			}
			if len(prog.Warnings) != len(tt.want) {
				t.Fatalf("Warnings got = %v, want %v", prog.Warnings, tt.want)
			}
			for i, w := range tt.want {
				if !strings.Contains(prog.Warnings[i], w) {
					t.Errorf("warning %d = %q, want it to contain %q", i, prog.Warnings[i], w)
				}
			}
		})
	}
}

func TestProgram_String(t *testing.T) {
	p := Parser{}
	value := "permit_mynetworks, check_sender_access hash:/etc/senders, sleep 2, reject_rhsbl_sender dbl.example, hash:/etc/acl, check_policy_service inet:127.0.0.1:9998"
	prog, err := p.Parse("test_restrictions", value)
	if err != nil {
		t.Fatal(err)
	}
	if got := prog.String(); got != value {
		t.Errorf("String() got = %q, want %q", got, value)
	}
}

func TestHasRequired(t *testing.T) {
	p := Parser{Classes: map[string]bool{"outer": true, "inner": true, "loop": true}}
	parse := func(value string) *Program {
		t.Helper()
		prog, err := p.Parse("test", value)
		if err != nil {
			t.Fatal(err)
		}
		return prog
	}
	classes := map[string]*Program{
		"outer": parse("permit_mynetworks, inner"),
		"inner": parse("reject_unauth_destination"),
		"loop":  parse("loop, permit_sasl_authenticated"),
	}

	tests := []struct {
		value string
		want  bool
	}{
		{"permit_mynetworks, reject_unauth_destination", true},
		{"permit_mynetworks, defer_if_permit", true},
		{"permit_mynetworks, check_relay_domains", true},
		{"permit_mynetworks, permit", false},
		{"warn_if_reject, reject_unauth_destination", false},
		{"warn_if_reject reject_unauth_destination, reject", true},
		{"outer", true},
		{"loop", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := HasRequired(parse(tt.value), classes); got != tt.want {
				t.Errorf("HasRequired() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRewrite(t *testing.T) {
	prog, err := ParseRewrite("local_header_rewrite_clients",
		"permit_inet_interfaces, permit_sasl_authenticated, check_address_map hash:/etc/rw, bogus, static:all")
	if err != nil {
		t.Fatal(err)
	}
	names := []Name{PermitInetInterfaces, PermitSASLAuthenticated, CheckAddressMap, Invalid}
	if len(prog.List) != len(names) {
		t.Fatalf("ParseRewrite() got = %+v", prog.List)
	}
	for i, n := range names {
		if prog.List[i].Name != n {
			t.Errorf("element %d = %v, want %v", i, prog.List[i].Name, n)
		}
	}
	if prog.List[2].Arg != "hash:/etc/rw" || prog.List[3].Kind != KindDefaultMap {
		t.Errorf("ParseRewrite() arguments got = %+v", prog.List)
	}
	if len(prog.Warnings) != 1 || !strings.Contains(prog.Warnings[0], "bogus") {
		t.Errorf("Warnings got = %v", prog.Warnings)
	}

	if _, err := ParseRewrite("local_header_rewrite_clients", "check_address_map"); err == nil {
		t.Error("ParseRewrite() accepted check_address_map without a table")
	}
}
