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

package config

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

const testMainCf = `# test configuration
myhostname = mx.example.org
mydomain = example.org
mydestination = $myhostname, localhost.$mydomain
smtpd_recipient_restrictions =
    permit_mynetworks,
    reject_unauth_destination
soft_bounce = yes
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(testMainCf))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got, ok, err := p.Get("mydestination")
	if err != nil || !ok {
		t.Fatalf("Get() ok = %v, error = %v", ok, err)
	}
	if want := "mx.example.org, localhost.example.org"; got != want {
		t.Errorf("Get() got = %q, want %q", got, want)
	}

	got, _, _ = p.Get("smtpd_recipient_restrictions")
	if want := "permit_mynetworks, reject_unauth_destination"; got != want {
		t.Errorf("Get() continuation got = %q, want %q", got, want)
	}
}

func TestExpand(t *testing.T) {
	vars := map[string]string{
		"a":     "1",
		"b":     "$a$a",
		"empty": "",
		"loop":  "$loop",
	}
	lookup := func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "plain", false},
		{"$a", "1", false},
		{"${a}x", "1x", false},
		{"$(a)x", "1x", false},
		{"$b", "11", false},
		{"$undefined.", ".", false},
		{"${a?yes}", "yes", false},
		{"${empty?yes}", "", false},
		{"${empty:no}", "no", false},
		{"${a:no}", "", false},
		{"x${a?; $b}", "x; 11", false},
		{"$$a", "$a", false},
		{"${a", "", true},
		{"$loop", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Expand(tt.in, lookup)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("Expand() got = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := Expand("$loop", lookup); !errors.Is(err, ErrExpandLoop) {
		t.Errorf("Expand() loop error = %v, want ErrExpandLoop", err)
	}
}

func TestMap_Process(t *testing.T) {
	p, err := Parse([]byte(testMainCf))
	if err != nil {
		t.Fatal(err)
	}

	var (
		softBounce  bool
		delayReject bool
		code        int
		dests       []string
		action      string
		tfAction    string
		delay       time.Duration
	)
	m := NewMap(p)
	m.Bool("soft_bounce", false, &softBounce)
	m.Bool("smtpd_delay_reject", true, &delayReject)
	m.Int("reject_code", 554, &code)
	m.StringList("mydestination", "$myhostname", &dests)
	m.Enum("reject_tempfail_action", []string{"defer", "defer_if_permit"}, "defer_if_permit", &action)
	m.String("unknown_address_tempfail_action", "$reject_tempfail_action", &tfAction)
	m.Duration("address_verify_poll_delay", "3s", &delay)
	if err := m.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if !softBounce || !delayReject || code != 554 {
		t.Errorf("Process() soft_bounce = %v, smtpd_delay_reject = %v, reject_code = %v", softBounce, delayReject, code)
	}
	if want := []string{"mx.example.org", "localhost.example.org"}; !reflect.DeepEqual(dests, want) {
		t.Errorf("Process() mydestination = %v, want %v", dests, want)
	}
	if action != "defer_if_permit" || tfAction != "defer_if_permit" {
		t.Errorf("Process() tempfail actions = %q, %q", action, tfAction)
	}
	if delay != 3*time.Second {
		t.Errorf("Process() delay = %v, want 3s", delay)
	}
}

func TestMap_ProcessError(t *testing.T) {
	var code int
	m := NewMap(NewParams(map[string]string{"reject_code": "five"}))
	m.Int("reject_code", 554, &code)
	if err := m.Process(); err == nil {
		t.Fatalf("Process() accepted a non-numeric value")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"100", 100 * time.Second, false},
		{"100s", 100 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDuration() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseDuration() got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitGroups(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"permit_mynetworks, reject", []string{"permit_mynetworks", "reject"}, false},
		{"check_policy_service { inet:127.0.0.1:9998, timeout=10s }", []string{"check_policy_service", "{ inet:127.0.0.1:9998, timeout=10s }"}, false},
		{"inline:{a=b, {c = d e}}", []string{"inline:{a=b, {c = d e}}"}, false},
		{"{a}b", nil, true},
		{"{a, {b c}}", []string{"{a, {b c}}"}, false},
		{"{a", nil, true},
		{"a}", nil, true},
		{"", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SplitGroups(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitGroups() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitGroups() got = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitNameValue(t *testing.T) {
	name, value, err := SplitNameValue(" timeout = { 10s } ")
	if err != nil {
		t.Fatalf("SplitNameValue() error = %v", err)
	}
	if name != "timeout" || value != "10s" {
		t.Errorf("SplitNameValue() got = %q, %q", name, value)
	}
	if _, _, err := SplitNameValue("timeout"); err == nil {
		t.Errorf("SplitNameValue() accepted a value without '='")
	}
}
