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

// Package address contains utilities for working with RFC 5321 mailbox
// addresses and host names.
package address

import (
	"errors"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/dns"
	"golang.org/x/text/unicode/norm"
)

const (
	Postmaster   = "postmaster"
	MailerDaemon = "MAILER-DAEMON"
)

// Split splits an email address (as defined by RFC 5321 as a forward-path
// token) into local part (mailbox) and domain.
//
// Note that definition of the forward-path token includes the special
// postmaster address without the domain part. Split will return domain == ""
// in this case.
//
// Split does almost no sanity checks on the input and is intentionally naive.
// If this is a concern, ValidMailbox and ValidDomain should be used on the
// output.
func Split(addr string) (mailbox, domain string, err error) {
	if strings.EqualFold(addr, Postmaster) {
		return addr, "", nil
	}

	indx := strings.LastIndexByte(addr, '@')
	if indx == -1 {
		return "", "", errors.New("address: missing at-sign")
	}
	mailbox = addr[:indx]
	domain = addr[indx+1:]
	if mailbox == "" {
		return "", "", errors.New("address: empty local-part")
	}
	if domain == "" {
		return "", "", errors.New("address: empty domain")
	}
	return
}

// ForLookup transforms the address into a canonical form suitable for
// table lookups: the local part is NFC-normalized and lower-cased, the
// domain is converted to A-labels and lower-cased.
//
// Addresses without a domain are lower-cased as a whole.
func ForLookup(addr string) (string, error) {
	if addr == "" {
		return "", nil
	}
	mbox, domain, err := Split(addr)
	if err != nil || domain == "" {
		return strings.ToLower(norm.NFC.String(addr)), err
	}
	if domain[0] == '[' {
		return strings.ToLower(norm.NFC.String(mbox)) + "@" + strings.ToLower(domain), nil
	}
	domain, err = dns.ForLookup(domain)
	if err != nil {
		return strings.ToLower(norm.NFC.String(addr)), err
	}
	return strings.ToLower(norm.NFC.String(mbox)) + "@" + domain, nil
}

// Domain returns the part after the last '@', or "" if there is none.
func Domain(addr string) string {
	indx := strings.LastIndexByte(addr, '@')
	if indx == -1 {
		return ""
	}
	return addr[indx+1:]
}

// IsLiteral reports whether the domain is an address literal such as
// [192.0.2.1].
func IsLiteral(domain string) bool {
	return len(domain) >= 2 && domain[0] == '[' && domain[len(domain)-1] == ']'
}

// IsRouted reports whether the local part contains source routing
// operators (%, !, @) that make the address relay through a third party.
func IsRouted(localPart string) bool {
	return strings.ContainsAny(localPart, "%!@")
}
