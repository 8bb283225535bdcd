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
	"fmt"
	"strings"
)

// SplitGroups splits a list value like SplitList, but keeps text enclosed
// in braces together so that it may contain separators:
//
//	check_policy_service { inet:127.0.0.1:9998, timeout=10s }
//
// Brace groups are returned with their braces, together with any text
// directly in front of them (inline:{a=b}). Use StripBraces to get at the
// content.
func SplitGroups(v string) ([]string, error) {
	var (
		res   []string
		start = -1
		depth int
	)
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '{':
			if depth == 0 && start == -1 {
				start = i
			}
			depth++
		case c == '}':
			if depth == 0 {
				return nil, fmt.Errorf("syntax error: unbalanced } in %q", v)
			}
			depth--
			if depth == 0 {
				res = append(res, v[start:i+1])
				start = -1
			}
		case depth > 0:
		case strings.IndexByte(ListSeparators, c) != -1:
			if start != -1 {
				res = append(res, v[start:i])
				start = -1
			}
		default:
			if start == -1 {
				if i > 0 && v[i-1] == '}' {
					return nil, fmt.Errorf("syntax error: text after } in %q", v)
				}
				start = i
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("syntax error: missing } in %q", v)
	}
	if start != -1 {
		res = append(res, v[start:])
	}
	return res, nil
}

// StripBraces removes the enclosing braces and surrounding whitespace from
// a group returned by SplitGroups. It reports false if tok is not a group.
func StripBraces(tok string) (string, bool) {
	if len(tok) < 2 || tok[0] != '{' || tok[len(tok)-1] != '}' {
		return tok, false
	}
	return strings.TrimSpace(tok[1 : len(tok)-1]), true
}

// SplitNameValue splits "name = value" and trims both sides.
func SplitNameValue(s string) (name, value string, err error) {
	indx := strings.IndexByte(s, '=')
	if indx == -1 {
		return "", "", fmt.Errorf("missing '=' after attribute name: %q", s)
	}
	name = strings.TrimSpace(s[:indx])
	if name == "" {
		return "", "", fmt.Errorf("missing attribute name: %q", s)
	}
	value = strings.TrimSpace(s[indx+1:])
	if v, ok := StripBraces(value); ok {
		value = v
	}
	return name, value, nil
}
