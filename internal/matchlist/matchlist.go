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

// Package matchlist implements the domain and address lists used by
// parameters such as mynetworks, relay_domains and mydestination.
//
// A list is a sequence of patterns, separated by commas or whitespace:
//
//	example.org         the domain itself (and subdomains, see below)
//	.example.org        subdomains of example.org
//	192.0.2.0/24        addresses in a network block
//	[2001:db8::]/32     the same for IPv6
//	hash:/etc/relays    keys in a lookup table
//	/etc/more-relays    patterns read from a file
//	!pattern            stop with "no match" if pattern matches
//
// The first matching pattern decides.
package matchlist

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/config"
	"github.com/sblinch/smtpdcheck/framework/module"
	"github.com/sblinch/smtpdcheck/internal/table"
)

type item struct {
	negate  bool
	table   module.Table
	net     *net.IPNet
	pattern string
	text    string
}

type List struct {
	param string
	items []item

	// Whether "example.org" also matches subdomains.
	parentMatch bool
}

// New parses a list. parentMatch enables subdomain matching for bare
// domain patterns and parent domain lookups in tables.
func New(param, value string, parentMatch bool) (*List, error) {
	l := &List{param: param, parentMatch: parentMatch}
	if err := l.parse(value, 0); err != nil {
		return nil, fmt.Errorf("parameter %s: %w", param, err)
	}
	return l, nil
}

func (l *List) parse(value string, depth int) error {
	if depth > 10 {
		return fmt.Errorf("file inclusion nested too deeply")
	}
	items, err := config.SplitGroups(value)
	if err != nil {
		return err
	}
	for _, text := range items {
		it := item{text: text}
		pat := text
		for strings.HasPrefix(pat, "!") {
			it.negate = !it.negate
			pat = pat[1:]
		}
		if pat == "" {
			return fmt.Errorf("empty pattern in %q", text)
		}

		switch {
		case pat[0] == '/':
			if it.negate {
				return fmt.Errorf("negation of a file is not supported: %s", text)
			}
			content, err := readPatternFile(pat)
			if err != nil {
				return err
			}
			if err := l.parse(content, depth+1); err != nil {
				return fmt.Errorf("%s: %w", pat, err)
			}
			continue
		case module.IsTableRef(pat) && net.ParseIP(pat) == nil:
			it.table, err = table.Open(pat)
			if err != nil {
				return err
			}
		case strings.ContainsAny(pat, "[]/") || net.ParseIP(pat) != nil:
			it.net, err = table.ParseCIDR(pat)
			if err != nil {
				return err
			}
		default:
			it.pattern = strings.ToLower(pat)
		}
		l.items = append(l.items, it)
	}
	return nil
}

func readPatternFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	scnr := bufio.NewScanner(f)
	for scnr.Scan() {
		line := strings.TrimSpace(scnr.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		b.WriteString(line)
		b.WriteByte(' ')
	}
	return b.String(), scnr.Err()
}

func (l *List) Empty() bool {
	return l == nil || len(l.items) == 0
}

func (l *List) String() string {
	if l == nil {
		return ""
	}
	texts := make([]string, 0, len(l.items))
	for _, it := range l.items {
		texts = append(texts, it.text)
	}
	return strings.Join(texts, ", ")
}

func (l *List) matchDomain(ctx context.Context, it item, name string) (bool, error) {
	switch {
	case it.table != nil:
		if _, ok, err := it.table.Lookup(ctx, name); err != nil || ok {
			return ok, err
		}
		for parent := name; ; {
			indx := strings.IndexByte(parent[1:], '.')
			if indx == -1 {
				return false, nil
			}
			parent = parent[indx+1:]
			key := parent
			if l.parentMatch {
				key = parent[1:]
			}
			if _, ok, err := module.LookupPartial(ctx, it.table, key); err != nil || ok {
				return ok, err
			}
		}
	case it.pattern != "":
		if it.pattern[0] == '.' {
			return strings.HasSuffix(name, it.pattern), nil
		}
		if name == it.pattern {
			return true, nil
		}
		return l.parentMatch && strings.HasSuffix(name, "."+it.pattern), nil
	}
	return false, nil
}

func (l *List) matchAddr(ctx context.Context, it item, addr string) (bool, error) {
	switch {
	case it.table != nil:
		_, ok, err := it.table.Lookup(ctx, addr)
		return ok, err
	case it.net != nil:
		ip := net.ParseIP(addr)
		return ip != nil && it.net.Contains(ip), nil
	}
	return false, nil
}

// MatchDomain matches a host or domain name.
func (l *List) MatchDomain(ctx context.Context, name string) (bool, error) {
	return l.MatchNamAddr(ctx, name, "")
}

// MatchAddr matches a bare IP address.
func (l *List) MatchAddr(ctx context.Context, addr string) (bool, error) {
	return l.MatchNamAddr(ctx, "", addr)
}

// MatchNamAddr matches a client: name patterns are compared with name,
// address patterns with addr. Either may be empty.
func (l *List) MatchNamAddr(ctx context.Context, name, addr string) (bool, error) {
	if l == nil {
		return false, nil
	}
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	addr = strings.ToLower(addr)
	for _, it := range l.items {
		var (
			ok  bool
			err error
		)
		if name != "" {
			ok, err = l.matchDomain(ctx, it, name)
		}
		if err == nil && !ok && addr != "" {
			ok, err = l.matchAddr(ctx, it, addr)
		}
		if err != nil {
			return false, fmt.Errorf("%s: %s: %w", l.param, it.text, err)
		}
		if ok {
			return !it.negate, nil
		}
	}
	return false, nil
}
