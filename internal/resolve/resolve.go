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

// Package resolve classifies mail addresses by destination: local,
// virtual alias, virtual mailbox, relay or default (remote) delivery.
package resolve

import (
	"context"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/address"
	"github.com/sblinch/smtpdcheck/framework/log"
	"github.com/sblinch/smtpdcheck/internal/lookupcache"
	"github.com/sblinch/smtpdcheck/internal/matchlist"
)

type Flags int

const (
	ClassLocal Flags = 1 << iota
	ClassAlias
	ClassVirtual
	ClassRelay
	ClassDefault

	// The local part contains source routing operators.
	FlagRouted
	// The address is malformed.
	FlagError
	// The address could not be resolved because of a temporary problem.
	FlagFail
)

const (
	ClassMask  = ClassLocal | ClassAlias | ClassVirtual | ClassRelay | ClassDefault
	ClassFinal = ClassLocal | ClassAlias | ClassVirtual
)

// Reply is the result of resolving an address.
type Reply struct {
	Transport string
	Nexthop   string
	Recipient string
	Flags     Flags
}

func (r Reply) Class() Flags {
	return r.Flags & ClassMask
}

type Resolver interface {
	Resolve(ctx context.Context, sender, addr string) (Reply, error)
}

// Local resolves addresses using the domain lists of the local
// configuration.
type Local struct {
	MyOrigin   string
	MyHostname string

	MyDestination         *matchlist.List
	VirtualAliasDomains   *matchlist.List
	VirtualMailboxDomains *matchlist.List
	RelayDomains          *matchlist.List

	// Addresses that make [addr] literals local.
	InterfaceAddrs []string

	LocalTransport   string
	VirtualTransport string
	RelayTransport   string
	DefaultTransport string
	RelayHost        string
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (l *Local) isLocalLiteral(domain string) bool {
	bare, ok := address.ValidMailhostAddr(domain[1 : len(domain)-1])
	if !ok {
		return false
	}
	for _, a := range l.InterfaceAddrs {
		if strings.EqualFold(a, bare) {
			return true
		}
	}
	return false
}

func (l *Local) isLocalDomain(ctx context.Context, domain string) (bool, error) {
	if address.IsLiteral(domain) {
		return l.isLocalLiteral(domain), nil
	}
	return l.MyDestination.MatchDomain(ctx, domain)
}

// unroute strips one level of source routing from a local part addressed
// to a local domain: user%remote and remote!user both become user@remote.
func unroute(local string) (string, bool) {
	if strings.IndexByte(local, '@') != -1 {
		return local, true
	}
	if indx := strings.IndexByte(local, '!'); indx != -1 {
		return local[indx+1:] + "@" + local[:indx], true
	}
	if indx := strings.LastIndexByte(local, '%'); indx != -1 {
		return local[:indx] + "@" + local[indx+1:], true
	}
	return "", false
}

func (l *Local) Resolve(ctx context.Context, _, addr string) (Reply, error) {
	var reply Reply

	local, domain := addr, ""
	if indx := strings.LastIndexByte(addr, '@'); indx != -1 {
		local, domain = addr[:indx], addr[indx+1:]
	}
	if domain == "" {
		domain = l.MyOrigin
	}
	domain = strings.ToLower(address.TrimDot(domain))

	if address.IsRouted(local) {
		reply.Flags |= FlagRouted
	}

	for i := 0; i < 10 && address.IsRouted(local); i++ {
		isLocal, err := l.isLocalDomain(ctx, domain)
		if err != nil {
			return Reply{}, err
		}
		if !isLocal {
			break
		}
		inner, ok := unroute(local)
		if !ok {
			break
		}
		indx := strings.LastIndexByte(inner, '@')
		local, domain = inner[:indx], strings.ToLower(inner[indx+1:])
	}
	reply.Recipient = local + "@" + domain

	if address.IsLiteral(domain) {
		if _, ok := address.ValidMailhostAddr(domain[1 : len(domain)-1]); !ok {
			reply.Flags |= FlagError
		}
	} else if !address.ValidHostname(domain) {
		reply.Flags |= FlagError
	}
	if local == "" {
		reply.Flags |= FlagError
	}

	isLocal, err := l.isLocalDomain(ctx, domain)
	if err != nil {
		return Reply{}, err
	}
	if isLocal {
		reply.Flags |= ClassLocal
		reply.Transport = orDefault(l.LocalTransport, "local")
		reply.Nexthop = l.MyHostname
		return reply, nil
	}

	if ok, err := l.VirtualAliasDomains.MatchDomain(ctx, domain); err != nil {
		return Reply{}, err
	} else if ok {
		reply.Flags |= ClassAlias
		reply.Transport = "error"
		reply.Nexthop = "5.1.1 User unknown in virtual alias table"
		return reply, nil
	}

	if ok, err := l.VirtualMailboxDomains.MatchDomain(ctx, domain); err != nil {
		return Reply{}, err
	} else if ok {
		reply.Flags |= ClassVirtual
		reply.Transport = orDefault(l.VirtualTransport, "virtual")
		reply.Nexthop = domain
		return reply, nil
	}

	if ok, err := l.RelayDomains.MatchDomain(ctx, domain); err != nil {
		return Reply{}, err
	} else if ok {
		reply.Flags |= ClassRelay
		reply.Transport = orDefault(l.RelayTransport, "relay")
		reply.Nexthop = orDefault(l.RelayHost, domain)
		return reply, nil
	}

	reply.Flags |= ClassDefault
	reply.Transport = orDefault(l.DefaultTransport, "smtp")
	reply.Nexthop = orDefault(l.RelayHost, domain)
	return reply, nil
}

// Cache memoizes replies. A failed resolution is returned with FlagFail
// set and is not remembered.
type Cache struct {
	r     Resolver
	cache *lookupcache.Cache
	log   log.Logger
}

func NewCache(r Resolver, size int, logger log.Logger) *Cache {
	return &Cache{
		r:     r,
		cache: lookupcache.New("resolve", size),
		log:   logger,
	}
}

func (c *Cache) Resolve(ctx context.Context, sender, addr string) Reply {
	v, err := c.cache.Get(ctx, sender+"\x00"+addr, func(ctx context.Context) (interface{}, error) {
		return c.r.Resolve(ctx, sender, addr)
	})
	if err != nil {
		c.log.Error("address resolution failed", err, "address", addr)
		return Reply{Recipient: addr, Flags: FlagFail}
	}
	return v.(Reply)
}

func (c *Cache) Flush() {
	c.cache.Flush()
}
