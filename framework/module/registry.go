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

package module

import (
	"fmt"
	"strings"
	"sync"
)

// FuncNewTable creates a table of the given type. name is everything after
// the first colon of the table reference.
type FuncNewTable func(typ, name string) (Table, error)

var (
	tables     = make(map[string]FuncNewTable)
	tablesLock sync.RWMutex
)

// RegisterTable adds a table type to the global registry.
//
// It should be called from init() functions of table implementations.
func RegisterTable(typ string, factory FuncNewTable) {
	tablesLock.Lock()
	defer tablesLock.Unlock()

	if _, ok := tables[typ]; ok {
		panic("module: table type with specified name is already registered: " + typ)
	}
	tables[typ] = factory
}

// GetTable returns the constructor for the table type or nil.
func GetTable(typ string) FuncNewTable {
	tablesLock.RLock()
	defer tablesLock.RUnlock()
	return tables[typ]
}

// TableTypes returns the registered table types.
func TableTypes() []string {
	tablesLock.RLock()
	defer tablesLock.RUnlock()
	res := make([]string, 0, len(tables))
	for typ := range tables {
		res = append(res, typ)
	}
	return res
}

// SplitRef splits a "type:name" table reference.
func SplitRef(ref string) (typ, name string, err error) {
	indx := strings.IndexByte(ref, ':')
	if indx <= 0 {
		return "", "", fmt.Errorf("module: table reference %q is not in type:name form", ref)
	}
	return strings.ToLower(ref[:indx]), ref[indx+1:], nil
}

// IsTableRef reports whether s looks like a "type:name" table reference.
func IsTableRef(s string) bool {
	indx := strings.IndexByte(s, ':')
	if indx <= 0 {
		return false
	}
	for i := 0; i < indx; i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-') {
			return false
		}
	}
	return true
}

// NewTable constructs the table described by ref.
func NewTable(ref string) (Table, error) {
	typ, name, err := SplitRef(ref)
	if err != nil {
		return nil, err
	}
	factory := GetTable(typ)
	if factory == nil {
		return nil, fmt.Errorf("module: unsupported table type %q in %s", typ, ref)
	}
	t, err := factory(typ, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return t, nil
}
