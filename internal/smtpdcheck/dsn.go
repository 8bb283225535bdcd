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

package smtpdcheck

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sblinch/smtpdcheck/framework/exterrors"
)

// Replies are cut to this many bytes, including the code.
const maxReplyLen = 510

// dsnSplit takes an optional enhanced status code from the start of text.
// It returns def when there is none.
func dsnSplit(def, text string) (dsn, rest string) {
	text = strings.TrimLeft(text, " \t")
	word := text
	if indx := strings.IndexAny(text, " \t"); indx != -1 {
		word = text[:indx]
	}
	if _, err := exterrors.ParseEnhancedCode(word); err == nil && word != "" {
		return word, strings.TrimLeft(text[len(word):], " \t")
	}
	return def, text
}

// dsnFix adjusts an X.1.Y address status code to the address the reply
// is about. A table entry written for recipients may be used for senders
// and vice versa; anything that is not about an address gets X.7.1.
func dsnFix(dsn, replyClass string) string {
	ec, err := exterrors.ParseEnhancedCode(dsn)
	if err != nil || ec[1] != 1 {
		return dsn
	}
	switch replyClass {
	case nameSender:
		switch ec[2] {
		case 1, 2, 4, 6:
			ec[2] = 8
		case 3:
			ec[2] = 7
		case 5:
			ec[2] = 0
		}
	case nameRecipient:
		switch ec[2] {
		case 7:
			ec[2] = 3
		case 8:
			ec[2] = 2
		}
	default:
		ec[1], ec[2] = 7, 1
	}
	return ec.FormatCode()
}

func validDSN(dsn string) bool {
	_, err := exterrors.ParseEnhancedCode(dsn)
	return err == nil && (dsn[0] == '4' || dsn[0] == '5')
}

// printable replaces control characters and malformed UTF-8 with spaces.
func printable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || !unicode.IsPrint(r) {
			b.WriteByte(' ')
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// truncate cuts s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
