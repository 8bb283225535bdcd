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
	"context"
	"fmt"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/config"
	"github.com/sblinch/smtpdcheck/framework/module"
)

// Inline is a table defined in the reference itself:
//
//	inline:{ example.org=OK, { spam.example = REJECT no spam please } }
type Inline struct {
	m map[string]string
}

func NewInline(_, text string) (module.Table, error) {
	body, ok := stripBraces(text)
	if !ok {
		return nil, fmt.Errorf("inline table must be enclosed in {}: %s", text)
	}
	items, err := config.SplitGroups(body)
	if err != nil {
		return nil, err
	}
	t := &Inline{m: make(map[string]string, len(items))}
	for _, item := range items {
		if v, ok := stripBraces(item); ok {
			item = v
		}
		name, value, err := config.SplitNameValue(item)
		if err != nil {
			return nil, err
		}
		t.m[strings.ToLower(name)] = value
	}
	return t, nil
}

func (t *Inline) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := t.m[strings.ToLower(key)]
	return v, ok, nil
}

func stripBraces(s string) (string, bool) {
	return config.StripBraces(strings.TrimSpace(s))
}

func init() {
	module.RegisterTable("inline", NewInline)
}
