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
	"fmt"
	"strings"
)

// maximum nesting of $name references while expanding a single value
const maxExpandDepth = 100

var ErrExpandLoop = errors.New("config: unreasonable macro call nesting")

// LookupFunc returns the value of a macro and whether it is defined.
type LookupFunc func(name string) (string, bool)

// Expand replaces macro references in s.
//
// Supported forms:
//
//	$name ${name} $(name)  value of name, empty if undefined
//	${name?text}           text if name is defined and non-empty
//	${name:text}           text if name is undefined or empty
//	$$                     a literal $
//
// Values returned by lookup are expanded recursively; text inside
// conditional forms is expanded too.
func Expand(s string, lookup LookupFunc) (string, error) {
	return expand(s, lookup, 0)
}

func expand(s string, lookup LookupFunc, depth int) (string, error) {
	if depth > maxExpandDepth {
		return "", ErrExpandLoop
	}
	if strings.IndexByte(s, '$') == -1 {
		return s, nil
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			b.WriteByte('$')
			break
		}

		switch c := s[i+1]; {
		case c == '$':
			b.WriteByte('$')
			i++
		case c == '{' || c == '(':
			closer := byte('}')
			if c == '(' {
				closer = ')'
			}
			end := matchingBrace(s, i+1, c, closer)
			if end == -1 {
				return "", fmt.Errorf("config: missing '%c' in %q", closer, s)
			}
			val, err := expandBraced(s[i+2:end], lookup, depth)
			if err != nil {
				return "", err
			}
			b.WriteString(val)
			i = end
		case isNameChar(c):
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			val, err := expandName(s[i+1:j], lookup, depth)
			if err != nil {
				return "", err
			}
			b.WriteString(val)
			i = j - 1
		default:
			b.WriteByte('$')
		}
	}
	return b.String(), nil
}

func expandBraced(inner string, lookup LookupFunc, depth int) (string, error) {
	name := inner
	var (
		op   byte
		text string
	)
	if idx := strings.IndexAny(inner, "?:"); idx != -1 {
		name, op, text = inner[:idx], inner[idx], inner[idx+1:]
		// ${name?{text}} is accepted as well as ${name?text}
		if len(text) >= 2 && text[0] == '{' && text[len(text)-1] == '}' {
			text = text[1 : len(text)-1]
		}
	}
	name = strings.TrimSpace(name)

	switch op {
	case '?':
		val, err := expandName(name, lookup, depth)
		if err != nil {
			return "", err
		}
		if val == "" {
			return "", nil
		}
		return expand(text, lookup, depth+1)
	case ':':
		val, err := expandName(name, lookup, depth)
		if err != nil {
			return "", err
		}
		if val != "" {
			return "", nil
		}
		return expand(text, lookup, depth+1)
	}
	return expandName(name, lookup, depth)
}

func expandName(name string, lookup LookupFunc, depth int) (string, error) {
	val, ok := lookup(name)
	if !ok {
		return "", nil
	}
	return expand(val, lookup, depth+1)
}

func matchingBrace(s string, open int, opener, closer byte) int {
	level := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case opener:
			level++
		case closer:
			level--
			if level == 0 {
				return i
			}
		}
	}
	return -1
}

func isNameChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
