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

// Package lookupcache implements the bounded memoizing caches shared by all
// sessions of an engine: address resolution replies, DNS list results and
// parsed reply templates.
//
// Successful fills (including negative answers) are kept until the entry
// is evicted or the cache is flushed. Failed fills are never stored. At
// most one fill per key runs at a time.
package lookupcache

import (
	"context"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var cacheEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smtpdcheck",
		Name:      "lookup_cache_total",
		Help:      "Lookup cache hits, misses and fills",
	},
	[]string{"cache", "result"},
)

func init() {
	prometheus.MustRegister(cacheEvents)
}

// DefaultFillTimeout bounds a single fill.
const DefaultFillTimeout = 30 * time.Second

// FillFunc computes the value for a missing key.
type FillFunc func(ctx context.Context) (interface{}, error)

type Cache struct {
	name string

	// FillTimeout bounds each fill. Fills run detached from the context
	// of the caller that started them, so that one session going away
	// does not fail the others waiting for the same key.
	FillTimeout time.Duration

	entries *lru.Cache[string, interface{}]
	group   singleflight.Group
}

// New creates a cache that holds at most size entries. size <= 0 means
// unbounded.
func New(name string, size int) *Cache {
	if size <= 0 {
		size = math.MaxInt32
	}
	entries, err := lru.New[string, interface{}](size)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Cache{
		name:        name,
		FillTimeout: DefaultFillTimeout,
		entries:     entries,
	}
}

func (c *Cache) Name() string {
	return c.name
}

// Peek returns the cached value without filling.
func (c *Cache) Peek(key string) (interface{}, bool) {
	return c.entries.Get(key)
}

// Get returns the cached value for key or calls fill to compute it. If ctx
// is done before the fill completes, Get returns ctx.Err() and the fill
// carries on for the other callers.
func (c *Cache) Get(ctx context.Context, key string, fill FillFunc) (interface{}, error) {
	if v, ok := c.Peek(key); ok {
		cacheEvents.WithLabelValues(c.name, "hit").Inc()
		return v, nil
	}
	cacheEvents.WithLabelValues(c.name, "miss").Inc()

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Another caller may have filled the entry while we were
		// waiting for the singleflight slot.
		if v, ok := c.Peek(key); ok {
			return v, nil
		}
		cacheEvents.WithLabelValues(c.name, "fill").Inc()

		fillCtx, cancel := context.WithTimeout(context.Background(), c.FillTimeout)
		defer cancel()
		v, err := fill(fillCtx)
		if err != nil {
			return nil, err
		}
		c.Add(key, v)
		return v, nil
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Add stores a value, evicting the least recently used entry if the cache
// is full.
func (c *Cache) Add(key string, value interface{}) {
	c.entries.Add(key, value)
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Flush drops all entries.
func (c *Cache) Flush() {
	c.entries.Purge()
}
