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

package address

import (
	"net"
	"strings"
)

const (
	maxHostnameLen = 255
	maxLabelLen    = 63
)

// ValidHostname checks the syntax of a host name: letters, digits,
// hyphens and underscores in dot-separated labels of at most 63 octets, no
// leading or trailing hyphen in a label, at least one non-numeric
// character, at most 255 octets.
func ValidHostname(name string) bool {
	if name == "" || len(name) > maxHostnameLen {
		return false
	}

	labelLen := 0
	nonNumeric := false
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case isAlnum(ch) || ch == '_':
			labelLen++
			if labelLen > maxLabelLen {
				return false
			}
			if ch < '0' || ch > '9' {
				nonNumeric = true
			}
		case ch == '.':
			if labelLen == 0 || i == len(name)-1 {
				return false
			}
			labelLen = 0
		case ch == '-':
			nonNumeric = true
			labelLen++
			if labelLen == 1 || i == len(name)-1 || name[i+1] == '.' {
				return false
			}
		default:
			return false
		}
	}
	return nonNumeric
}

// ValidHostAddr reports whether addr is a bare IPv4 or IPv6 address.
func ValidHostAddr(addr string) bool {
	if addr == "" {
		return false
	}
	if strings.IndexByte(addr, ':') != -1 {
		return ValidIPv6(addr)
	}
	return ValidIPv4(addr)
}

// ValidIPv4 accepts only the dotted-quad form.
func ValidIPv4(addr string) bool {
	parts := strings.Split(addr, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n := 0
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return false
			}
			n = n*10 + int(p[i]-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

func ValidIPv6(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && strings.IndexByte(addr, ':') != -1
}

// ValidMailhostAddr validates the inside of an address literal: an IPv4
// address or "IPv6:" followed by an IPv6 address. It returns the bare
// address.
func ValidMailhostAddr(addr string) (string, bool) {
	if len(addr) > 5 && strings.EqualFold(addr[:5], "ipv6:") {
		bare := addr[5:]
		return bare, ValidIPv6(bare)
	}
	return addr, ValidIPv4(addr)
}

// ValidHostLiteral validates an address literal including the brackets.
func ValidHostLiteral(literal string) bool {
	if !IsLiteral(literal) {
		return false
	}
	_, ok := ValidMailhostAddr(literal[1 : len(literal)-1])
	return ok
}

// TrimDot removes one trailing dot unless the name ends in two dots.
func TrimDot(name string) string {
	if strings.HasSuffix(name, ".") && !strings.HasSuffix(name, "..") {
		return name[:len(name)-1]
	}
	return name
}

// LastLabelNumeric reports whether the last label of the name consists of
// digits only. Such names are never valid DNS host names.
func LastLabelNumeric(name string) bool {
	label := name
	if indx := strings.LastIndexByte(name, '.'); indx != -1 {
		label = name[indx+1:]
	}
	if label == "" {
		return false
	}
	for i := 0; i < len(label); i++ {
		if label[i] < '0' || label[i] > '9' {
			return false
		}
	}
	return true
}

func isAlnum(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
