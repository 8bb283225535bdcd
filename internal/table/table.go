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

// Package table implements the lookup table types that restriction lists
// and parameters refer to as "type:name".
//
// Importing the package registers all types with the module registry.
package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/config"
	"github.com/sblinch/smtpdcheck/framework/module"
)

// Open constructs the table referenced by ref ("hash:/etc/postfix/access").
func Open(ref string) (module.Table, error) {
	return module.NewTable(ref)
}

// Maps is an ordered list of tables. A lookup stops at the first table
// that has the key or fails.
type Maps struct {
	Param string
	refs  []string
	tabs  []module.Table
}

// OpenMaps opens every table listed in value. Items are separated by
// commas or whitespace; inline:{...} groups are kept together.
func OpenMaps(param, value string) (*Maps, error) {
	items, err := config.SplitGroups(value)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", param, err)
	}
	m := &Maps{Param: param}
	for _, ref := range items {
		t, err := Open(ref)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", param, err)
		}
		m.refs = append(m.refs, ref)
		m.tabs = append(m.tabs, t)
	}
	return m, nil
}

// NewMaps wraps already constructed tables.
func NewMaps(param string, tabs ...module.Table) *Maps {
	m := &Maps{Param: param, tabs: tabs}
	for i := range tabs {
		m.refs = append(m.refs, fmt.Sprintf("%s[%d]", param, i))
	}
	return m
}

// Empty reports whether the list has no tables. Nil Maps are empty.
func (m *Maps) Empty() bool {
	return m == nil || len(m.tabs) == 0
}

func (m *Maps) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(m.refs, ", ")
}

// Lookup queries the tables in order.
func (m *Maps) Lookup(ctx context.Context, key string) (string, bool, error) {
	return m.lookup(ctx, key, false)
}

// LookupPartial queries the tables in order, skipping pattern tables.
func (m *Maps) LookupPartial(ctx context.Context, key string) (string, bool, error) {
	return m.lookup(ctx, key, true)
}

func (m *Maps) lookup(ctx context.Context, key string, partial bool) (string, bool, error) {
	if m == nil {
		return "", false, nil
	}
	for i, t := range m.tabs {
		var (
			val string
			ok  bool
			err error
		)
		if partial {
			val, ok, err = module.LookupPartial(ctx, t, key)
		} else {
			val, ok, err = t.Lookup(ctx, key)
		}
		if err != nil {
			return "", false, fmt.Errorf("%s: %s: lookup error: %w", m.Param, m.refs[i], err)
		}
		if ok {
			return val, true, nil
		}
	}
	return "", false, nil
}

// Close releases the resources held by tables that need it.
func (m *Maps) Close() error {
	if m == nil {
		return nil
	}
	var lastErr error
	for _, t := range m.tabs {
		if c, ok := t.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}
