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
	"strconv"
	"strings"
	"time"
)

// ListSeparators are the characters that separate list items in parameter
// values.
const ListSeparators = ", \t\r\n"

type matcher struct {
	name       string
	defaultVal string
	mapper     func(value string) error
}

// Map binds parameters to variables.
//
// Directives are registered with Bool, Int, String and friends, then
// Process expands every value (using registered defaults for names missing
// from Params) and stores the result.
type Map struct {
	Params *Params

	entries  []matcher
	defaults map[string]string
}

func NewMap(p *Params) *Map {
	if p == nil {
		p = NewParams(nil)
	}
	return &Map{Params: p, defaults: make(map[string]string)}
}

func (m *Map) add(name, defaultVal string, mapper func(string) error) {
	m.defaults[name] = defaultVal
	m.entries = append(m.entries, matcher{name: name, defaultVal: defaultVal, mapper: mapper})
}

// Custom registers a directive with a custom parser.
func (m *Map) Custom(name string, defaultVal string, mapper func(value string) error) {
	m.add(name, defaultVal, mapper)
}

func (m *Map) String(name string, defaultVal string, store *string) {
	m.add(name, defaultVal, func(v string) error {
		*store = v
		return nil
	})
}

// StringList splits the value on commas and whitespace.
func (m *Map) StringList(name string, defaultVal string, store *[]string) {
	m.add(name, defaultVal, func(v string) error {
		*store = SplitList(v)
		return nil
	})
}

func (m *Map) Bool(name string, defaultVal bool, store *bool) {
	def := "no"
	if defaultVal {
		def = "yes"
	}
	m.add(name, def, func(v string) error {
		b, err := ParseBool(v)
		if err != nil {
			return err
		}
		*store = b
		return nil
	})
}

func (m *Map) Int(name string, defaultVal int, store *int) {
	m.add(name, strconv.Itoa(defaultVal), func(v string) error {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("bad numerical configuration: %s", v)
		}
		*store = i
		return nil
	})
}

func (m *Map) Int64(name string, defaultVal int64, store *int64) {
	m.add(name, strconv.FormatInt(defaultVal, 10), func(v string) error {
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("bad numerical configuration: %s", v)
		}
		*store = i
		return nil
	})
}

// Duration accepts a number followed by an optional unit (s, m, h, d, w).
// A bare number is in seconds.
func (m *Map) Duration(name string, defaultVal string, store *time.Duration) {
	m.add(name, defaultVal, func(v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*store = d
		return nil
	})
}

// Enum accepts only one of the allowed values (case-insensitive).
func (m *Map) Enum(name string, allowed []string, defaultVal string, store *string) {
	m.add(name, defaultVal, func(v string) error {
		for _, a := range allowed {
			if strings.EqualFold(a, v) {
				*store = a
				return nil
			}
		}
		return fmt.Errorf("bad value %q, must be one of: %s", v, strings.Join(allowed, ", "))
	})
}

// Get returns the expanded value of name, falling back to the registered
// default.
func (m *Map) Get(name string) (string, bool, error) {
	raw, ok := m.lookup(name)
	if !ok {
		return "", false, nil
	}
	v, err := Expand(raw, m.lookup)
	if err != nil {
		return "", true, fmt.Errorf("%s: %w", name, err)
	}
	return v, true, nil
}

func (m *Map) lookup(name string) (string, bool) {
	if v, ok := m.Params.Raw(name); ok {
		return v, true
	}
	v, ok := m.defaults[name]
	return v, ok
}

// Process stores the values of all registered directives.
func (m *Map) Process() error {
	for _, e := range m.entries {
		v, _, err := m.Get(e.name)
		if err != nil {
			return err
		}
		if err := e.mapper(v); err != nil {
			return fmt.Errorf("parameter %s: %w", e.name, err)
		}
	}
	return nil
}

// SplitList splits a parameter value on ListSeparators.
func SplitList(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return strings.ContainsRune(ListSeparators, r)
	})
}

func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("bad boolean configuration: %s", v)
}

func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("bad time value: empty")
	}
	unit := time.Second
	switch v[len(v)-1] {
	case 's':
		v = v[:len(v)-1]
	case 'm':
		unit = time.Minute
		v = v[:len(v)-1]
	case 'h':
		unit = time.Hour
		v = v[:len(v)-1]
	case 'd':
		unit = 24 * time.Hour
		v = v[:len(v)-1]
	case 'w':
		unit = 7 * 24 * time.Hour
		v = v[:len(v)-1]
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad time value: %s", v)
	}
	return time.Duration(n) * unit, nil
}
