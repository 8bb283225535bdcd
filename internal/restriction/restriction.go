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

// Package restriction parses restriction lists such as
// smtpd_recipient_restrictions into programs that the evaluator runs.
//
// A list is a sequence of tokens separated by commas or whitespace. Each
// token is a restriction name, a restriction name with its argument
// (reject_rbl_client zen.example, check_client_access hash:/etc/access),
// a bare table reference or the name of a restriction class. Brace groups
// keep text with separators together:
//
//	check_policy_service { inet:127.0.0.1:9998, timeout=10s, default_action=DUNNO }
package restriction

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sblinch/smtpdcheck/framework/config"
	"github.com/sblinch/smtpdcheck/framework/module"
	"github.com/sblinch/smtpdcheck/internal/check/dnsxl"
)

// ConfigError is a malformed restriction list. It is fatal at startup.
type ConfigError struct {
	Param string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Param == "" {
		return e.Msg
	}
	return e.Param + ": " + e.Msg
}

func configErr(param, format string, args ...interface{}) error {
	return &ConfigError{Param: param, Msg: fmt.Sprintf(format, args...)}
}

// Restriction is a single compiled list element.
type Restriction struct {
	Kind Kind
	Name Name
	// Text is the token as written in the configuration.
	Text string
	// Arg is the table reference, list domain or class name.
	Arg string

	Sleep  time.Duration
	Policy *PolicyRef
}

func (r Restriction) String() string {
	switch {
	case r.Kind == KindDefaultMap || r.Kind == KindClass:
		return r.Arg
	case r.Kind == KindPolicy:
		return r.Text + " " + r.Policy.Endpoint
	case r.Name == Sleep:
		return fmt.Sprintf("%s %d", r.Text, int(r.Sleep/time.Second))
	case r.Arg != "":
		return r.Text + " " + r.Arg
	}
	return r.Text
}

// Program is a parsed restriction list.
type Program struct {
	Param string
	List  []Restriction
	// Warnings about ineffective elements, logged once at startup.
	Warnings []string
}

func (p *Program) String() string {
	parts := make([]string, 0, len(p.List))
	for _, r := range p.List {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}

// PolicyRef describes a check_policy_service element. Unset fields take
// the smtpd_policy_service_* defaults.
type PolicyRef struct {
	Endpoint      string
	DefaultAction string
	Context       string
	Timeout       time.Duration
	MaxIdle       time.Duration
	MaxTTL        time.Duration
	TryLimit      int
	RetryDelay    time.Duration
}

// Parser compiles restriction lists.
type Parser struct {
	// Classes lists the names declared in smtpd_restriction_classes.
	Classes map[string]bool
	// PolicyDefaults fill in PolicyRef fields not given per entry.
	PolicyDefaults PolicyRef
}

// Parse compiles the value of the named parameter.
func (p *Parser) Parse(param, value string) (*Program, error) {
	tokens, err := config.SplitGroups(value)
	if err != nil {
		return nil, configErr(param, "%v", err)
	}

	prog := &Program{Param: param}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		next := func() (string, bool) {
			if i+1 >= len(tokens) {
				return "", false
			}
			i++
			return tokens[i], true
		}

		name, ok := Lookup(tok)
		if !ok {
			switch {
			case p.Classes[tok]:
				prog.List = append(prog.List, Restriction{Kind: KindClass, Text: tok, Arg: tok})
			case module.IsTableRef(tok):
				prog.List = append(prog.List, Restriction{Kind: KindDefaultMap, Text: tok, Arg: tok})
			default:
				return nil, configErr(param, "unknown restriction: %q", tok)
			}
			continue
		}
		if name == CheckAddressMap {
			return nil, configErr(param, "%s is only valid in local_header_rewrite_clients", tok)
		}

		r := Restriction{Kind: name.Kind(), Name: name, Text: strings.ToLower(tok)}
		switch r.Kind {
		case KindMap:
			arg, ok := next()
			if !ok || !module.IsTableRef(arg) {
				return nil, configErr(param, "restriction %s requires type:name table argument", tok)
			}
			r.Arg = arg
		case KindDNSList:
			arg, ok := next()
			if !ok || strings.IndexByte(arg, ':') != -1 {
				return nil, configErr(param, "restriction %s requires domain name argument", tok)
			}
			if _, pattern := dnsxl.SplitZone(arg); pattern != "" {
				if _, err := dnsxl.ParsePattern(pattern); err != nil {
					return nil, configErr(param, "%s %s: %v", tok, arg, err)
				}
			}
			r.Arg = arg
		case KindPolicy:
			ref, err := p.parsePolicy(param, tok, next)
			if err != nil {
				return nil, err
			}
			r.Policy = ref
		}
		if name == Sleep {
			arg, ok := next()
			if !ok || !allDigits(arg) {
				return nil, configErr(param, "restriction %s requires numerical argument", tok)
			}
			secs, err := strconv.Atoi(arg)
			if err != nil {
				return nil, configErr(param, "restriction %s: %v", tok, err)
			}
			r.Sleep = time.Duration(secs) * time.Second
		}
		if name == PermitNakedIPAddress {
			prog.Warnings = append(prog.Warnings, fmt.Sprintf(
				"%s: restriction %s is deprecated, use permit_mynetworks instead", param, tok))
		}
		prog.List = append(prog.List, r)
	}

	prog.Warnings = append(prog.Warnings, unreachable(prog)...)
	return prog, nil
}

func (p *Parser) parsePolicy(param, tok string, next func() (string, bool)) (*PolicyRef, error) {
	ref := p.PolicyDefaults
	ref.Endpoint = ""

	arg, ok := next()
	if !ok {
		return nil, configErr(param, "restriction %s requires server:port or unix:pathname argument", tok)
	}
	if inner, ok := config.StripBraces(arg); ok {
		if err := parsePolicyOptions(param, &ref, inner); err != nil {
			return nil, err
		}
		if ref.Endpoint == "" {
			arg, ok = next()
			if !ok {
				return nil, configErr(param, "restriction %s requires server:port or unix:pathname argument", tok)
			}
			ref.Endpoint = arg
		}
	} else {
		ref.Endpoint = arg
	}
	if strings.IndexByte(ref.Endpoint, ':') == -1 {
		return nil, configErr(param, "restriction %s requires server:port or unix:pathname argument, got %q", tok, ref.Endpoint)
	}
	return &ref, nil
}

func parsePolicyOptions(param string, ref *PolicyRef, inner string) error {
	for _, item := range splitTopLevel(inner) {
		if strings.IndexByte(item, '=') == -1 {
			if ref.Endpoint != "" {
				return configErr(param, "policy service endpoint given twice: %q", item)
			}
			ref.Endpoint = item
			continue
		}
		name, value, err := config.SplitNameValue(item)
		if err != nil {
			return configErr(param, "%v", err)
		}

		var dur *time.Duration
		switch strings.ToLower(name) {
		case "default_action":
			ref.DefaultAction = value
			continue
		case "policy_context":
			ref.Context = value
			continue
		case "try_limit":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return configErr(param, "invalid try_limit value: %q", value)
			}
			ref.TryLimit = n
			continue
		case "timeout":
			dur = &ref.Timeout
		case "max_idle":
			dur = &ref.MaxIdle
		case "max_ttl":
			dur = &ref.MaxTTL
		case "retry_delay":
			dur = &ref.RetryDelay
		default:
			return configErr(param, "unknown policy service attribute: %q", name)
		}
		d, err := config.ParseDuration(value)
		if err != nil || d <= 0 {
			return configErr(param, "invalid %s value: %q", name, value)
		}
		*dur = d
	}
	return nil
}

// splitTopLevel splits at commas that are not inside braces.
func splitTopLevel(s string) []string {
	var (
		res   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
		case ',':
			if depth == 0 {
				res = appendTrimmed(res, s[start:i])
				start = i + 1
			}
		}
	}
	return appendTrimmed(res, s[start:])
}

func appendTrimmed(res []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		res = append(res, s)
	}
	return res
}

// unreachable reports elements that follow an unconditional decision.
func unreachable(prog *Program) []string {
	var warnings []string
	for i, r := range prog.List {
		if i+1 >= len(prog.List) {
			break
		}
		if r.Kind != KindUnconditional && r.Name != CheckRelayDomains {
			continue
		}
		if i > 0 && prog.List[i-1].Name == WarnIfReject {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s: restriction `%s' after `%s' is ignored",
			prog.Param, prog.List[i+1].String(), r.Text))
	}
	return warnings
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
