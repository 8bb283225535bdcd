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

// Package access implements the key search strategies used to query
// access tables: exact keys, host names with their parent domains, network
// addresses with their parent networks, mail addresses with and without
// the address extension, and the MX or NS hosts of a domain.
//
// Each strategy returns the first hit. Lookups after the first key are
// partial lookups and skip pattern tables (regexp, cidr), which already
// see the complete key.
//
// A table error stops the search and is returned unchanged so the caller
// can tell temporary failures from configuration problems.
package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/dns"
	"github.com/sblinch/smtpdcheck/framework/log"
	"github.com/sblinch/smtpdcheck/framework/module"
)

const modName = "check.access"

// Hit is a table match.
type Hit struct {
	// Key that produced the match.
	Key string
	// Table value.
	Value string
}

// Walker holds the settings shared by all lookup strategies.
type Walker struct {
	// ParentMatch selects "example.com" instead of ".example.com" keys for
	// parent domain lookups.
	ParentMatch bool

	// Characters that separate the address extension from the local part.
	Delimiter    string
	DoubleBounce string

	// Used for MX and NS host lookups.
	DNS dns.StatusResolver

	Log log.Logger
}

func New(resolver dns.StatusResolver) *Walker {
	return &Walker{
		DNS: resolver,
		Log: log.Logger{Name: modName, Debug: log.DefaultLogger.Debug},
	}
}

func lookup(ctx context.Context, t module.Table, key string, partial bool) (Hit, bool, error) {
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
		return Hit{}, false, fmt.Errorf("lookup %q: %w", key, err)
	}
	if !ok {
		return Hit{}, false, nil
	}
	return Hit{Key: key, Value: val}, true, nil
}

// Exact looks up the key as is.
func (w *Walker) Exact(ctx context.Context, t module.Table, key string) (Hit, bool, error) {
	return lookup(ctx, t, strings.ToLower(key), false)
}
