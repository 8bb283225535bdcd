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

// Package module contains the interfaces implemented by lookup tables and
// the registry used to construct them from "type:name" references.
package module

import (
	"context"
)

// Table is the interface implemented by all lookup tables.
//
// Lookup returns the value stored for key and whether the key was found.
// An error means the lookup itself failed; backends that talk to remote
// services wrap transient failures with exterrors.WithTemporary.
type Table interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// MultiTable is implemented by tables that can return more than one value
// for a key.
type MultiTable interface {
	LookupMulti(ctx context.Context, key string) ([]string, error)
}

// MutableTable is a table that can be modified at run time.
type MutableTable interface {
	Table
	Keys() ([]string, error)
	RemoveKey(k string) error
	SetKey(k, v string) error
}

// PatternTable is implemented by tables that match keys against patterns
// (regular expressions, CIDR blocks) instead of looking them up verbatim.
//
// Partial keys such as parent domains or address prefixes are never looked
// up in pattern tables.
type PatternTable interface {
	IsPattern() bool
}

// IsPattern reports whether t is a pattern table.
func IsPattern(t Table) bool {
	pt, ok := t.(PatternTable)
	return ok && pt.IsPattern()
}

// PartialTable is implemented by table lists that decide per member
// whether a partial key may be looked up.
type PartialTable interface {
	LookupPartial(ctx context.Context, key string) (string, bool, error)
}

// LookupPartial looks up a partial key. It reports "not found" for pattern
// tables without querying them.
func LookupPartial(ctx context.Context, t Table, key string) (string, bool, error) {
	if pt, ok := t.(PartialTable); ok {
		return pt.LookupPartial(ctx, key)
	}
	if IsPattern(t) {
		return "", false, nil
	}
	return t.Lookup(ctx, key)
}
