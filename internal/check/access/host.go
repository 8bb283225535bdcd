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

package access

import (
	"context"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/address"
	"github.com/sblinch/smtpdcheck/framework/module"
)

// Domain looks up the name, then each of its parent domains. Numeric
// names are looked up once.
func (w *Walker) Domain(ctx context.Context, t module.Table, name string, partial bool) (Hit, bool, error) {
	name = strings.ToLower(name)
	if name == "" {
		return Hit{}, false, nil
	}

	key := name
	for {
		hit, ok, err := lookup(ctx, t, key, partial)
		if err != nil || ok {
			return hit, ok, err
		}
		if address.ValidHostAddr(name) {
			return Hit{}, false, nil
		}

		indx := strings.IndexByte(key[1:], '.')
		if indx == -1 {
			return Hit{}, false, nil
		}
		key = key[indx+1:]
		if w.ParentMatch {
			key = key[1:]
		}
		if key == "" {
			return Hit{}, false, nil
		}
		partial = true
	}
}

// Addr looks up the address, then the address with its last octet (IPv4)
// or hextet (IPv6) removed, repeatedly.
func (w *Walker) Addr(ctx context.Context, t module.Table, addr string, partial bool) (Hit, bool, error) {
	addr = strings.ToLower(addr)
	if addr == "" {
		return Hit{}, false, nil
	}

	sep := byte('.')
	if strings.IndexByte(addr, ':') != -1 {
		sep = ':'
	}

	for {
		hit, ok, err := lookup(ctx, t, addr, partial)
		if err != nil || ok {
			return hit, ok, err
		}

		p := strings.LastIndexByte(addr, sep)
		if p == -1 {
			return Hit{}, false, nil
		}
		addr = strings.TrimRight(addr[:p], string(sep))
		if addr == "" {
			return Hit{}, false, nil
		}
		partial = true
	}
}

// NamAddr looks up a host by name and then by address. A name pattern
// can pre-empt a more specific address entry.
func (w *Walker) NamAddr(ctx context.Context, t module.Table, name, addr string) (Hit, bool, error) {
	hit, ok, err := w.Domain(ctx, t, name, false)
	if err != nil || ok {
		return hit, ok, err
	}
	return w.Addr(ctx, t, addr, false)
}
