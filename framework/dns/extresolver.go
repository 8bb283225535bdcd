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
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ExtResolver is a DNS client that exposes the rcode of every reply as a
// Status instead of folding everything into a net.DNSError.
type ExtResolver struct {
	cl  *dns.Client
	Cfg *dns.ClientConfig
}

type RCodeError struct {
	Name string
	Code int
}

func (err RCodeError) Temporary() bool {
	return err.Code == dns.RcodeServerFailure
}

func (err RCodeError) Error() string {
	switch err.Code {
	case dns.RcodeFormatError:
		return "dns: rcode FORMERR when looking up " + err.Name
	case dns.RcodeServerFailure:
		return "dns: rcode SERVFAIL when looking up " + err.Name
	case dns.RcodeNameError:
		return "dns: rcode NXDOMAIN when looking up " + err.Name
	case dns.RcodeNotImplemented:
		return "dns: rcode NOTIMP when looking up " + err.Name
	case dns.RcodeRefused:
		return "dns: rcode REFUSED when looking up " + err.Name
	}
	return fmt.Sprintf("dns: non-success rcode: %d when looking up %s", err.Code, err.Name)
}

var errTruncated = errors.New("dns: truncated reply over TCP")

// NewExtResolver creates a resolver using the servers listed in
// /etc/resolv.conf.
func NewExtResolver() (*ExtResolver, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, err
	}
	return newExtResolver(cfg), nil
}

// NewExtResolverFor creates a resolver that queries the given servers
// (host:port).
func NewExtResolverFor(timeout time.Duration, servers ...string) *ExtResolver {
	cfg := &dns.ClientConfig{
		Port:     "53",
		Timeout:  int(timeout / time.Second),
		Attempts: 1,
	}
	for _, srv := range servers {
		host, port, err := net.SplitHostPort(srv)
		if err != nil {
			cfg.Servers = append(cfg.Servers, srv)
			continue
		}
		cfg.Servers = append(cfg.Servers, host)
		cfg.Port = port
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5
	}
	return newExtResolver(cfg)
}

func newExtResolver(cfg *dns.ClientConfig) *ExtResolver {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5
	}
	cl := &dns.Client{
		Dialer: &net.Dialer{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
	return &ExtResolver{cl: cl, Cfg: cfg}
}

func (e ExtResolver) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	var (
		resp    *dns.Msg
		lastErr error
	)
	for _, srv := range e.Cfg.Servers {
		addr := net.JoinHostPort(srv, e.Cfg.Port)
		resp, _, lastErr = e.cl.ExchangeContext(ctx, msg, addr)
		if lastErr != nil {
			continue
		}

		if resp.Truncated {
			tcpCl := *e.cl
			tcpCl.Net = "tcp"
			resp, _, lastErr = tcpCl.ExchangeContext(ctx, msg, addr)
			if lastErr != nil {
				continue
			}
			if resp.Truncated {
				lastErr = errTruncated
				continue
			}
		}

		// Try the next server on SERVFAIL and REFUSED, the answer may be
		// different there.
		if resp.Rcode == dns.RcodeServerFailure || resp.Rcode == dns.RcodeRefused {
			lastErr = RCodeError{Name: msg.Question[0].Name, Code: resp.Rcode}
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = errors.New("dns: no servers configured")
	}
	return resp, lastErr
}

func (e ExtResolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, Status, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	resp, err := e.exchange(ctx, msg)
	if err != nil {
		var rcodeErr RCodeError
		if errors.As(err, &rcodeErr) && rcodeErr.Code == dns.RcodeRefused {
			return nil, StatusPolicy, err
		}
		return nil, StatusRetry, err
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, StatusNotFound, nil
	default:
		return nil, StatusInvalid, RCodeError{Name: name, Code: resp.Rcode}
	}

	var answers []dns.RR
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype == qtype {
			answers = append(answers, rr)
		}
	}
	if len(answers) == 0 {
		return nil, StatusNoData, nil
	}
	return answers, StatusOK, nil
}

func (e ExtResolver) LookupA(ctx context.Context, name string) ([]net.IP, Status, error) {
	rrs, status, err := e.query(ctx, name, dns.TypeA)
	if status != StatusOK {
		return nil, status, err
	}
	ips := make([]net.IP, 0, len(rrs))
	for _, rr := range rrs {
		ips = append(ips, rr.(*dns.A).A)
	}
	return ips, StatusOK, nil
}

func (e ExtResolver) LookupAAAA(ctx context.Context, name string) ([]net.IP, Status, error) {
	rrs, status, err := e.query(ctx, name, dns.TypeAAAA)
	if status != StatusOK {
		return nil, status, err
	}
	ips := make([]net.IP, 0, len(rrs))
	for _, rr := range rrs {
		ips = append(ips, rr.(*dns.AAAA).AAAA)
	}
	return ips, StatusOK, nil
}

// LookupIP queries both A and AAAA records. Any positive answer wins; a
// failure of one family is reported only when the other family did not
// return records.
func (e ExtResolver) LookupIP(ctx context.Context, name string) ([]net.IP, Status, error) {
	v4, v4Status, v4Err := e.LookupA(ctx, name)
	v6, v6Status, v6Err := e.LookupAAAA(ctx, name)
	return mergeIP(v4, v4Status, v4Err, v6, v6Status, v6Err)
}

func mergeIP(v4 []net.IP, v4Status Status, v4Err error, v6 []net.IP, v6Status Status, v6Err error) ([]net.IP, Status, error) {
	if v4Status == StatusOK || v6Status == StatusOK {
		return append(v4, v6...), StatusOK, nil
	}
	if !v4Status.Definitive() {
		return nil, v4Status, v4Err
	}
	if !v6Status.Definitive() {
		return nil, v6Status, v6Err
	}
	if v4Status == StatusNotFound || v6Status == StatusNotFound {
		return nil, StatusNotFound, nil
	}
	return nil, StatusNoData, nil
}

func (e ExtResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, Status, error) {
	rrs, status, err := e.query(ctx, name, dns.TypeMX)
	if status != StatusOK {
		return nil, status, err
	}
	mxs := make([]*net.MX, 0, len(rrs))
	for _, rr := range rrs {
		mx := rr.(*dns.MX)
		mxs = append(mxs, &net.MX{Host: mx.Mx, Pref: mx.Preference})
	}
	if isNullMX(mxs) {
		return nil, StatusNullMX, nil
	}
	return mxs, StatusOK, nil
}

func (e ExtResolver) LookupNS(ctx context.Context, name string) ([]*net.NS, Status, error) {
	rrs, status, err := e.query(ctx, name, dns.TypeNS)
	if status != StatusOK {
		return nil, status, err
	}
	nss := make([]*net.NS, 0, len(rrs))
	for _, rr := range rrs {
		nss = append(nss, &net.NS{Host: rr.(*dns.NS).Ns})
	}
	return nss, StatusOK, nil
}

func (e ExtResolver) LookupTXT(ctx context.Context, name string) ([]string, Status, error) {
	rrs, status, err := e.query(ctx, name, dns.TypeTXT)
	if status != StatusOK {
		return nil, status, err
	}
	txts := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		txts = append(txts, strings.Join(rr.(*dns.TXT).Txt, ""))
	}
	return txts, StatusOK, nil
}

func isNullMX(mxs []*net.MX) bool {
	return len(mxs) == 1 && mxs[0].Pref == 0 && (mxs[0].Host == "." || mxs[0].Host == "")
}
