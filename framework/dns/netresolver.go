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
	"errors"
	"fmt"
	"net"
)

// NetResolver adapts a Resolver to StatusResolver.
//
// Resolver errors carry less detail than DNS rcodes: "not found" cannot be
// told apart from "no data", so both are reported as StatusNotFound, and
// errors that are neither "not found" nor temporary are reported as
// StatusInvalid.
type NetResolver struct {
	R Resolver
}

func classify(err error) Status {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return StatusNotFound
		case dnsErr.IsTemporary, dnsErr.IsTimeout:
			return StatusRetry
		}
		return StatusInvalid
	}
	// Network errors and context cancellation.
	return StatusRetry
}

func (nr NetResolver) lookupIP(ctx context.Context, name string, want func(net.IP) bool) ([]net.IP, Status, error) {
	addrs, err := nr.R.LookupIPAddr(ctx, name)
	if err != nil {
		status := classify(err)
		if status == StatusNotFound {
			return nil, status, nil
		}
		return nil, status, err
	}
	var ips []net.IP
	for _, a := range addrs {
		if want(a.IP) {
			ips = append(ips, a.IP)
		}
	}
	if len(ips) == 0 {
		return nil, StatusNoData, nil
	}
	return ips, StatusOK, nil
}

func (nr NetResolver) LookupIP(ctx context.Context, name string) ([]net.IP, Status, error) {
	return nr.lookupIP(ctx, name, func(net.IP) bool { return true })
}

func (nr NetResolver) LookupA(ctx context.Context, name string) ([]net.IP, Status, error) {
	return nr.lookupIP(ctx, name, func(ip net.IP) bool { return ip.To4() != nil })
}

func (nr NetResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, Status, error) {
	mxs, err := nr.R.LookupMX(ctx, name)
	if err != nil {
		status := classify(err)
		if status == StatusNotFound {
			return nil, status, nil
		}
		return nil, status, err
	}
	if len(mxs) == 0 {
		return nil, StatusNoData, nil
	}
	if isNullMX(mxs) {
		return nil, StatusNullMX, nil
	}
	return mxs, StatusOK, nil
}

func (nr NetResolver) LookupNS(ctx context.Context, name string) ([]*net.NS, Status, error) {
	nsr, ok := nr.R.(NSResolver)
	if !ok {
		return nil, StatusInvalid, fmt.Errorf("dns: resolver %T cannot look up NS records", nr.R)
	}
	nss, err := nsr.LookupNS(ctx, name)
	if err != nil {
		status := classify(err)
		if status == StatusNotFound {
			return nil, status, nil
		}
		return nil, status, err
	}
	if len(nss) == 0 {
		return nil, StatusNoData, nil
	}
	return nss, StatusOK, nil
}

func (nr NetResolver) LookupTXT(ctx context.Context, name string) ([]string, Status, error) {
	txts, err := nr.R.LookupTXT(ctx, name)
	if err != nil {
		status := classify(err)
		if status == StatusNotFound {
			return nil, status, nil
		}
		return nil, status, err
	}
	if len(txts) == 0 {
		return nil, StatusNoData, nil
	}
	return txts, StatusOK, nil
}
