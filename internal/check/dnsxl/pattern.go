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
	"fmt"
	"net"
	"strconv"
	"strings"
)

type octetRange struct {
	lo, hi byte
}

// Pattern matches IPv4 DNS list answers. Each of the four octets is a
// number or a bracketed list of numbers and ranges:
//
//	127.0.0.[2;4..7]
//
// Several patterns may be joined with ';' outside the brackets.
type Pattern [][4][]octetRange

func parseOctet(s string) ([]octetRange, error) {
	parseNum := func(s string) (byte, error) {
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("bad octet value %q", s)
		}
		return byte(n), nil
	}

	if !strings.HasPrefix(s, "[") {
		n, err := parseNum(s)
		if err != nil {
			return nil, err
		}
		return []octetRange{{n, n}}, nil
	}
	if !strings.HasSuffix(s, "]") || len(s) < 3 {
		return nil, fmt.Errorf("missing ']' in %q", s)
	}

	var ranges []octetRange
	for _, part := range strings.Split(s[1:len(s)-1], ";") {
		lo, hi := part, part
		if indx := strings.Index(part, ".."); indx != -1 {
			lo, hi = part[:indx], part[indx+2:]
		}
		l, err := parseNum(lo)
		if err != nil {
			return nil, err
		}
		h, err := parseNum(hi)
		if err != nil {
			return nil, err
		}
		if l > h {
			return nil, fmt.Errorf("bad range %q", part)
		}
		ranges = append(ranges, octetRange{l, h})
	}
	return ranges, nil
}

// splitPatterns splits at ';' outside brackets and at '.' between octets.
func splitPatterns(s string) [][]string {
	var (
		pats   [][]string
		octets []string
		start  int
		depth  int
	)
	for i := 0; i <= len(s); i++ {
		if i < len(s) {
			switch s[i] {
			case '[':
				depth++
				continue
			case ']':
				depth--
				continue
			}
			if depth > 0 || (s[i] != '.' && s[i] != ';') {
				continue
			}
		}
		octets = append(octets, s[start:i])
		start = i + 1
		if i == len(s) || s[i] == ';' {
			pats = append(pats, octets)
			octets = nil
		}
	}
	return pats
}

func ParsePattern(s string) (Pattern, error) {
	var p Pattern
	for _, octets := range splitPatterns(s) {
		if len(octets) != 4 {
			return nil, fmt.Errorf("dnsxl: pattern %q: expected four octets", s)
		}
		var m [4][]octetRange
		for i, o := range octets {
			ranges, err := parseOctet(o)
			if err != nil {
				return nil, fmt.Errorf("dnsxl: pattern %q: %v", s, err)
			}
			m[i] = ranges
		}
		p = append(p, m)
	}
	if len(p) == 0 {
		return nil, fmt.Errorf("dnsxl: empty pattern")
	}
	return p, nil
}

func (p Pattern) Match(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
next:
	for _, m := range p {
		for i := 0; i < 4; i++ {
			ok := false
			for _, r := range m[i] {
				if v4[i] >= r.lo && v4[i] <= r.hi {
					ok = true
					break
				}
			}
			if !ok {
				continue next
			}
		}
		return true
	}
	return false
}

func (p Pattern) MatchAny(ips []net.IP) bool {
	for _, ip := range ips {
		if p.Match(ip) {
			return true
		}
	}
	return false
}
