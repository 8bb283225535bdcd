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

// Package verify keeps the results of recipient and sender address
// verification probes in a mutable table.
//
// Entries are stored as "status:probed:updated:text" with Unix timestamps.
// An address that has no entry, or whose entry expired, is reported as
// Todo and a probe is requested.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sblinch/smtpdcheck/framework/log"
	"github.com/sblinch/smtpdcheck/framework/module"
)

const modName = "verify"

type Status int

const (
	OK Status = iota
	Defer
	Bounce
	Todo
)

func (s Status) String() string {
	switch s {
	case OK:
		return "deliverable"
	case Defer:
		return "undeliverable (temporary)"
	case Bounce:
		return "undeliverable"
	case Todo:
		return "unknown"
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// ProbeFunc starts a delivery probe for the address. The outcome is
// reported later with Store.Update.
type ProbeFunc func(ctx context.Context, addr string) error

type Store struct {
	backend module.MutableTable
	log     log.Logger

	// Lifetime of positive and negative results.
	PositiveExpire time.Duration
	NegativeExpire time.Duration
	// A pending probe is not repeated before this interval passes.
	ProbeInterval time.Duration

	Probe ProbeFunc

	now func() time.Time
}

var errMutableTable = errors.New("verify: address_verify_map requires a mutable table type")

func New(backend module.Table) (*Store, error) {
	mt, ok := backend.(module.MutableTable)
	if !ok {
		return nil, errMutableTable
	}
	return &Store{
		backend:        mt,
		log:            log.Logger{Name: modName, Debug: log.DefaultLogger.Debug},
		PositiveExpire: 31 * 24 * time.Hour,
		NegativeExpire: 3 * 24 * time.Hour,
		ProbeInterval:  time.Hour,
		now:            time.Now,
	}, nil
}

type entry struct {
	status  Status
	probed  int64
	updated int64
	text    string
}

func (e entry) String() string {
	return fmt.Sprintf("%d:%d:%d:%s", e.status, e.probed, e.updated, e.text)
}

func parseEntry(v string) (entry, error) {
	parts := strings.SplitN(v, ":", 4)
	if len(parts) != 4 {
		return entry{}, fmt.Errorf("verify: malformed entry %q", v)
	}
	var (
		e   entry
		err error
		st  int
	)
	if st, err = strconv.Atoi(parts[0]); err != nil || st < int(OK) || st > int(Todo) {
		return entry{}, fmt.Errorf("verify: malformed status in %q", v)
	}
	e.status = Status(st)
	if e.probed, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return entry{}, fmt.Errorf("verify: malformed probe time in %q", v)
	}
	if e.updated, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
		return entry{}, fmt.Errorf("verify: malformed update time in %q", v)
	}
	e.text = parts[3]
	return e, nil
}

func (s *Store) expired(e entry, now time.Time) bool {
	if e.status == Todo {
		return false
	}
	lifetime := s.NegativeExpire
	if e.status == OK {
		lifetime = s.PositiveExpire
	}
	return now.Sub(time.Unix(e.updated, 0)) > lifetime
}

// Query returns the last known status of the address and its
// explanation. It requests a probe when the status is unknown.
func (s *Store) Query(ctx context.Context, addr string) (Status, string, error) {
	key := strings.ToLower(addr)
	now := s.now()

	v, ok, err := s.backend.Lookup(ctx, key)
	if err != nil {
		return Todo, "", fmt.Errorf("verify: %s: %w", addr, err)
	}

	var e entry
	if ok {
		e, err = parseEntry(v)
		if err != nil {
			s.log.Error("discarding verification entry", err, "address", addr)
			ok = false
		}
	}
	if ok && !s.expired(e, now) && e.status != Todo {
		return e.status, e.text, nil
	}
	if ok && e.status == Todo && now.Sub(time.Unix(e.probed, 0)) < s.ProbeInterval {
		return Todo, "address verification in progress", nil
	}

	pending := entry{status: Todo, probed: now.Unix(), updated: e.updated, text: "address verification in progress"}
	if err := s.backend.SetKey(key, pending.String()); err != nil {
		return Todo, "", fmt.Errorf("verify: %s: %w", addr, err)
	}
	if s.Probe != nil {
		if err := s.Probe(ctx, addr); err != nil {
			s.log.Error("probe failed", err, "address", addr)
		}
	}
	s.log.DebugMsg("probe requested", "address", addr)
	return Todo, pending.text, nil
}

// Update records the outcome of a probe.
func (s *Store) Update(_ context.Context, addr string, status Status, text string) error {
	now := s.now().Unix()
	e := entry{status: status, probed: now, updated: now, text: text}
	if err := s.backend.SetKey(strings.ToLower(addr), e.String()); err != nil {
		return fmt.Errorf("verify: %s: %w", addr, err)
	}
	return nil
}

func (s *Store) Forget(_ context.Context, addr string) error {
	return s.backend.RemoveKey(strings.ToLower(addr))
}

// Pending lists the addresses that wait for a probe result.
func (s *Store) Pending(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, k := range keys {
		v, ok, err := s.backend.Lookup(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if e, err := parseEntry(v); err == nil && e.status == Todo {
			pending = append(pending, k)
		}
	}
	return pending, nil
}
