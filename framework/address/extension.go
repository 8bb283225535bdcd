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

package address

import (
	"strings"
)

// DoubleBounce is the default local part of the double-bounce sender.
const DoubleBounce = "double-bounce"

// SplitExtension splits the local part at the first character from
// delimiters. It reports false when the local part must not be split:
// there is no delimiter, the result would have an empty local part, the
// local part is a reserved name, or (with '-' among the delimiters) it
// looks like owner-list or list-request.
func SplitExtension(localPart, delimiters, doubleBounce string) (base, ext string, ok bool) {
	if delimiters == "" {
		return localPart, "", false
	}
	if strings.EqualFold(localPart, Postmaster) ||
		strings.EqualFold(localPart, MailerDaemon) ||
		strings.EqualFold(localPart, doubleBounce) {
		return localPart, "", false
	}
	if strings.ContainsRune(delimiters, '-') {
		lower := strings.ToLower(localPart)
		if strings.HasPrefix(lower, "owner-") ||
			(len(lower) > 8 && strings.HasSuffix(lower, "-request")) {
			return localPart, "", false
		}
	}

	indx := strings.IndexAny(localPart, delimiters)
	if indx <= 0 {
		return localPart, "", false
	}
	return localPart[:indx], localPart[indx+1:], true
}

// StripExtension removes the address extension from addr. It returns ""
// when the address has no extension.
func StripExtension(addr, delimiters, doubleBounce string) string {
	indx := strings.LastIndexByte(addr, '@')
	local, domain := addr, ""
	if indx != -1 {
		local, domain = addr[:indx], addr[indx:]
	}
	base, _, ok := SplitExtension(local, delimiters, doubleBounce)
	if !ok {
		return ""
	}
	return base + domain
}
