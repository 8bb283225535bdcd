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

package lookupcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_Get(t *testing.T) {
	c := New("test", 10)
	ctx := context.Background()

	var calls int32
	fill := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Get(ctx, "key", fill)
		if err != nil || v != "value" {
			t.Fatalf("Get() got = %v, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("fill called %d times, want 1", calls)
	}
}

func TestCache_ErrorNotCached(t *testing.T) {
	c := New("test", 10)
	ctx := context.Background()

	errTemp := errors.New("timeout")
	calls := 0
	fill := func(context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errTemp
		}
		return nil, nil
	}

	if _, err := c.Get(ctx, "key", fill); !errors.Is(err, errTemp) {
		t.Fatalf("Get() error = %v, want %v", err, errTemp)
	}
	v, err := c.Get(ctx, "key", fill)
	if err != nil || v != nil {
		t.Fatalf("Get() got = %v, %v", v, err)
	}
	// nil is a valid negative answer and is cached.
	if _, err := c.Get(ctx, "key", fill); err != nil || calls != 2 {
		t.Errorf("fill called %d times, want 2", calls)
	}
}

func TestCache_Eviction(t *testing.T) {
	c := New("test", 2)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Peek("a")
	c.Add("c", 3)

	if _, ok := c.Peek("b"); ok {
		t.Errorf("least recently used entry was not evicted")
	}
	if _, ok := c.Peek("a"); !ok {
		t.Errorf("recently used entry was evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	c.Flush()
	if c.Len() != 0 {
		t.Errorf("Len() after Flush() = %d, want 0", c.Len())
	}
}

func TestCache_SingleFill(t *testing.T) {
	c := New("test", 0)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	fill := func(context.Context) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := c.Get(ctx, "key", fill); err != nil || v != 42 {
				t.Errorf("Get() got = %v, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("fill called %d times, want 1", calls)
	}
}

func TestCache_FillOutlivesCaller(t *testing.T) {
	c := New("test", 10)

	started := make(chan struct{})
	release := make(chan struct{})
	fillErr := make(chan error, 1)
	fill := func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		fillErr <- ctx.Err()
		return "value", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "key", fill)
		first <- err
	}()
	<-started

	second := make(chan interface{}, 1)
	go func() {
		v, err := c.Get(context.Background(), "key", fill)
		if err != nil {
			t.Errorf("second Get() error = %v", err)
		}
		second <- v
	}()

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("first Get() error = %v, want %v", err, context.Canceled)
	}
	close(release)

	if v := <-second; v != "value" {
		t.Errorf("second Get() = %v, want value", v)
	}
	if err := <-fillErr; err != nil {
		t.Errorf("fill context done early: %v", err)
	}
	if v, ok := c.Peek("key"); !ok || v != "value" {
		t.Errorf("Peek() = %v, %v after fill", v, ok)
	}
}

func TestCache_FillTimeout(t *testing.T) {
	c := New("test", 10)
	c.FillTimeout = 10 * time.Millisecond

	_, err := c.Get(context.Background(), "key", func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if c.Len() != 0 {
		t.Errorf("failed fill was cached")
	}
}
