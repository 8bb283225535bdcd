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

// Mail looks up a fully qualified address. The keys are, in order:
//
//	user+ext@domain
//	user@domain
//	domain and its parent domains
//	user+ext@
//	user@
//
// The keys without the extension are only tried when the address has
// one.
func (w *Walker) Mail(ctx context.Context, t module.Table, addr string) (Hit, bool, error) {
	addr = strings.ToLower(addr)
	indx := strings.LastIndexByte(addr, '@')
	if indx == -1 {
		w.Log.Msg("no @domain in address", "address", addr)
		return Hit{}, false, nil
	}
	localAt, domain := addr[:indx+1], addr[indx+1:]

	bare := ""
	if base, _, ok := address.SplitExtension(addr[:indx], w.Delimiter, w.doubleBounce()); ok {
		bare = base + "@"
	}

	hit, ok, err := lookup(ctx, t, addr, false)
	if err != nil || ok {
		return hit, ok, err
	}
	if bare != "" {
		hit, ok, err = lookup(ctx, t, bare+domain, true)
		if err != nil || ok {
			return hit, ok, err
		}
	}
	hit, ok, err = w.Domain(ctx, t, domain, true)
	if err != nil || ok {
		return hit, ok, err
	}
	hit, ok, err = lookup(ctx, t, localAt, true)
	if err != nil || ok {
		return hit, ok, err
	}
	if bare != "" {
		return lookup(ctx, t, bare, true)
	}
	return Hit{}, false, nil
}

func (w *Walker) doubleBounce() string {
	if w.DoubleBounce == "" {
		return address.DoubleBounce
	}
	return w.DoubleBounce
}
