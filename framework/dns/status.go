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

package dns

import (
	"context"
	"net"
)

// Status is the outcome of a single DNS query.
type Status int

const (
	StatusOK Status = iota
	// The name does not exist (NXDOMAIN).
	StatusNotFound
	// The name exists but has no records of the requested type.
	StatusNoData
	// The domain publishes a null MX record (RFC 7505).
	StatusNullMX
	// Temporary failure: timeout, SERVFAIL, network error.
	StatusRetry
	// The reply could not be parsed or made no sense.
	StatusInvalid
	// The server refused to answer.
	StatusPolicy
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOTFOUND"
	case StatusNoData:
		return "NODATA"
	case StatusNullMX:
		return "NULLMX"
	case StatusRetry:
		return "RETRY"
	case StatusInvalid:
		return "INVALID"
	case StatusPolicy:
		return "POLICY"
	}
	return "UNKNOWN"
}

// Missing reports whether the status means that the requested records do
// not exist.
func (s Status) Missing() bool {
	return s == StatusNotFound || s == StatusNoData
}

// Definitive reports whether the answer can be trusted: the records exist,
// they do not exist, or the domain explicitly does not accept mail.
// RETRY, INVALID and POLICY are never definitive.
func (s Status) Definitive() bool {
	switch s {
	case StatusOK, StatusNotFound, StatusNoData, StatusNullMX:
		return true
	}
	return false
}

// StatusResolver performs lookups that report a Status next to the records.
//
// A non-nil error is only returned together with StatusRetry, StatusInvalid
// or StatusPolicy and describes the failure.
type StatusResolver interface {
	LookupIP(ctx context.Context, name string) ([]net.IP, Status, error)
	LookupA(ctx context.Context, name string) ([]net.IP, Status, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, Status, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, Status, error)
	LookupTXT(ctx context.Context, name string) ([]string, Status, error)
}
