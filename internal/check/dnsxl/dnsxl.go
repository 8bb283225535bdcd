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

// Package dnsxl queries DNS allow and block lists (DNSBL, DNSWL, RHSBL,
// RHSWL).
//
// A list is named by its zone, optionally followed by "=pattern" that
// restricts which A records count as a listing:
//
//	zen.spamhaus.org
//	zen.spamhaus.org=127.0.0.[2..11]
//	list.example.org=127.0.0.2;127.0.0.[4..5]
//
// Answers are cached per query name until the cache is flushed. Negative
// answers are cached as well. Lookups that fail with a temporary DNS
// error return an error and are retried by the next caller.
package dnsxl

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sblinch/smtpdcheck/framework/address"
	"github.com/sblinch/smtpdcheck/framework/dns"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
	"github.com/sblinch/smtpdcheck/framework/log"
	"github.com/sblinch/smtpdcheck/internal/lookupcache"
	"github.com/weppos/publicsuffix-go/publicsuffix"
)

const modName = "check.dnsxl"

// TXT records are concatenated up to this many bytes.
const txtLimit = 500

var listedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smtpdcheck",
		Name:      "dnsxl_listed_total",
		Help:      "Number of DNS list lookups that found a listing",
	},
	[]string{"domain"},
)

func init() {
	prometheus.MustRegister(listedTotal)
}

// Result is a listing.
type Result struct {
	Addrs []net.IP
	// TXT records joined with " / ".
	TXT string
}

type Client struct {
	resolver dns.StatusResolver
	answers  *lookupcache.Cache
	patterns *lookupcache.Cache

	// RegisteredDomain reduces names to the registered domain (public
	// suffix plus one label) before domain list queries.
	RegisteredDomain bool

	log log.Logger
}

func New(resolver dns.StatusResolver, cacheSize int) *Client {
	return &Client{
		resolver: resolver,
		answers:  lookupcache.New("dnsxl", cacheSize),
		patterns: lookupcache.New("dnsxl_pattern", cacheSize),
		log:      log.Logger{Name: modName, Debug: log.DefaultLogger.Debug},
	}
}

// SplitZone splits "zone=pattern".
func SplitZone(list string) (zone, pattern string) {
	if indx := strings.IndexByte(list, '='); indx != -1 {
		return list[:indx], list[indx+1:]
	}
	return list, ""
}

// ReverseAddr builds the query prefix for an address: the octets of an
// IPv4 address in reverse order, or the nibbles of an IPv6 address in
// reverse order, each followed by a dot.
func ReverseAddr(addr string) (string, error) {
	var b strings.Builder
	if strings.IndexByte(addr, ':') != -1 {
		ip := net.ParseIP(addr).To16()
		if ip == nil {
			return "", fmt.Errorf("dnsxl: malformed address: %s", addr)
		}
		for i := len(ip) - 1; i >= 0; i-- {
			fmt.Fprintf(&b, "%x.%x.", ip[i]&0xf, ip[i]>>4)
		}
		return b.String(), nil
	}

	if !address.ValidIPv4(addr) {
		return "", fmt.Errorf("dnsxl: malformed address: %s", addr)
	}
	octets := strings.Split(addr, ".")
	for i := len(octets) - 1; i >= 0; i-- {
		b.WriteString(octets[i])
		b.WriteByte('.')
	}
	return b.String(), nil
}

func joinTXT(txts []string) string {
	var b strings.Builder
	left := txtLimit
	for i, txt := range txts {
		if left <= 0 {
			break
		}
		if len(txt) > left {
			txt = txt[:left]
		}
		b.WriteString(txt)
		left = txtLimit - b.Len()
		if i+1 < len(txts) && left > 3 {
			b.WriteString(" / ")
			left -= 3
		}
	}
	return b.String()
}

func (c *Client) query(ctx context.Context, name string) (*Result, error) {
	v, err := c.answers.Get(ctx, name, func(ctx context.Context) (interface{}, error) {
		addrs, status, err := c.resolver.LookupA(ctx, name)
		switch {
		case status == dns.StatusOK:
		case status.Missing():
			return (*Result)(nil), nil
		default:
			if err == nil {
				err = fmt.Errorf("%v", status)
			}
			c.log.Msg("DNS list lookup error", "query", name, "status", status.String(), "reason", err.Error())
			return nil, exterrors.WithTemporary(fmt.Errorf("dnsxl: %s: %w", name, err), true)
		}

		res := &Result{Addrs: addrs}
		if txts, status, _ := c.resolver.LookupTXT(ctx, name); status == dns.StatusOK {
			res.TXT = joinTXT(txts)
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (c *Client) pattern(ctx context.Context, pat string) (Pattern, error) {
	v, err := c.patterns.Get(ctx, pat, func(context.Context) (interface{}, error) {
		return ParsePattern(pat)
	})
	if err != nil {
		return nil, err
	}
	return v.(Pattern), nil
}

// lookup queries prefix.zone and applies the list's reply pattern.
func (c *Client) lookup(ctx context.Context, list, prefix string) (*Result, error) {
	zone, pat := SplitZone(list)
	res, err := c.query(ctx, prefix+zone)
	if err != nil || res == nil {
		return nil, err
	}
	if pat != "" {
		p, err := c.pattern(ctx, pat)
		if err != nil {
			return nil, fmt.Errorf("dnsxl: %s: %w", list, err)
		}
		if !p.MatchAny(res.Addrs) {
			return nil, nil
		}
	}
	listedTotal.WithLabelValues(zone).Inc()
	return res, nil
}

// LookupAddr checks an IP address. It returns nil if the address is not
// listed.
func (c *Client) LookupAddr(ctx context.Context, list, addr string) (*Result, error) {
	prefix, err := ReverseAddr(addr)
	if err != nil {
		c.log.Msg("skipping DNS list lookup", "list", list, "reason", err.Error())
		return nil, nil
	}
	return c.lookup(ctx, list, prefix)
}

// LookupDomain checks a host name or the domain of a mail address.
// Address literals, malformed names and names whose last label is
// numeric are never listed.
func (c *Client) LookupDomain(ctx context.Context, list, what string) (*Result, error) {
	domain := what
	if indx := strings.LastIndexByte(what, '@'); indx != -1 {
		domain = what[indx+1:]
		if strings.HasPrefix(domain, "[") {
			return nil, nil
		}
	}
	if domain == "" || !address.ValidHostname(domain) || address.LastLabelNumeric(domain) {
		return nil, nil
	}

	if c.RegisteredDomain {
		if base, err := publicsuffix.Domain(domain); err == nil {
			domain = base
		}
	}
	return c.lookup(ctx, list, domain+".")
}

func (c *Client) Flush() {
	c.answers.Flush()
}
