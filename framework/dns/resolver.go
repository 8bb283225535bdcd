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

// Package dns defines the resolver interfaces used by checks and two
// implementations: the system resolver and a miekg/dns based client that
// reports the DNS status of every query.
package dns

import (
	"context"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// Resolver is an interface that describes DNS-related methods used by
// checks.
//
// It is implemented by net.Resolver and mockdns.Resolver.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) (names []string, err error)
	LookupHost(ctx context.Context, host string) (addrs []string, err error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NSResolver is implemented by resolvers that can also look up NS records.
type NSResolver interface {
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

func DefaultResolver() Resolver {
	return net.DefaultResolver
}

// FQDN appends the root label to the name if it is missing.
func FQDN(domain string) string {
	if strings.HasSuffix(domain, ".") {
		return domain
	}
	return domain + "."
}

// ForLookup converts the domain into a canonical form suitable for table
// lookups and other comparisons.
//
// The trailing dot is removed, the name is converted to A-labels and
// lower-cased.
func ForLookup(domain string) (string, error) {
	uDomain, err := idna.Lookup.ToASCII(strings.TrimSuffix(domain, "."))
	if err != nil {
		return strings.ToLower(strings.TrimSuffix(domain, ".")), err
	}
	return strings.ToLower(uDomain), nil
}
