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

	"github.com/sblinch/smtpdcheck/framework/module"
)

// Static returns the same value for every key.
type Static struct {
	value string
}

func NewStatic(_, value string) (module.Table, error) {
	if v, ok := stripBraces(value); ok {
		value = v
	}
	return &Static{value: value}, nil
}

func (s *Static) Lookup(_ context.Context, _ string) (string, bool, error) {
	return s.value, true, nil
}

func init() {
	module.RegisterTable("static", NewStatic)
}
