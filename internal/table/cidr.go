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
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/module"
)

type cidrRule struct {
	net    *net.IPNet
	negate bool
	result string
}

// CIDR matches client addresses against network blocks:
//
//	192.0.2.0/24      REJECT
//	!198.51.100.0/24  OK
//	[2001:db8::]/32   DUNNO
//	192.0.2.7         OK
//
// The first matching line wins.
type CIDR struct {
	path  string
	rules []cidrRule
}

func NewCIDR(_, path string) (module.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t := &CIDR{path: path}
	scnr := bufio.NewScanner(f)
	lineNo := 0
	for scnr.Scan() {
		lineNo++
		line := strings.TrimSpace(scnr.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		indx := strings.IndexAny(line, " \t")
		if indx == -1 {
			return nil, fmt.Errorf("%s: line %d: missing result", path, lineNo)
		}
		rule := cidrRule{result: strings.TrimSpace(line[indx+1:])}
		pattern := line[:indx]
		if pattern[0] == '!' {
			rule.negate = true
			pattern = pattern[1:]
		}
		rule.net, err = ParseCIDR(pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", path, lineNo, err)
		}
		t.rules = append(t.rules, rule)
	}
	if err := scnr.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParseCIDR parses a network block or a single address. IPv6 blocks may
// be written in brackets: [2001:db8::]/32.
func ParseCIDR(pattern string) (*net.IPNet, error) {
	pattern = strings.Replace(strings.Replace(pattern, "[", "", 1), "]", "", 1)
	if strings.IndexByte(pattern, '/') == -1 {
		ip := net.ParseIP(pattern)
		if ip == nil {
			return nil, fmt.Errorf("bad address pattern %q", pattern)
		}
		bits := 128
		if ip4 := ip.To4(); ip4 != nil {
			ip, bits = ip4, 32
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
	}
	ip, cidrNet, err := net.ParseCIDR(pattern)
	if err != nil {
		return nil, fmt.Errorf("CIDR pattern %q: %v", pattern, err)
	}
	if !ip.Equal(cidrNet.IP) {
		return nil, fmt.Errorf("CIDR pattern %q: non-null host address bits, specify %s instead", pattern, cidrNet)
	}
	return cidrNet, nil
}

func (t *CIDR) Lookup(_ context.Context, key string) (string, bool, error) {
	ip := net.ParseIP(strings.Trim(key, "[]"))
	if ip == nil {
		return "", false, nil
	}
	for _, r := range t.rules {
		if r.net.Contains(ip) != r.negate {
			return r.result, true, nil
		}
	}
	return "", false, nil
}

func (t *CIDR) IsPattern() bool {
	return true
}

func init() {
	module.RegisterTable("cidr", NewCIDR)
}
