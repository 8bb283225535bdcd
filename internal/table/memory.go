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

package table

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sblinch/smtpdcheck/framework/module"
)

// Memory is a mutable in-process table. Tables with the same name share
// their contents.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

var (
	memTables     = make(map[string]*Memory)
	memTablesLock sync.Mutex
)

func NewMemory(_, name string) (module.Table, error) {
	memTablesLock.Lock()
	defer memTablesLock.Unlock()

	if t, ok := memTables[name]; ok {
		return t, nil
	}
	t := &Memory{m: make(map[string]string)}
	memTables[name] = t
	return t, nil
}

// NewMemoryTable returns an unnamed table filled with entries.
func NewMemoryTable(entries map[string]string) *Memory {
	t := &Memory{m: make(map[string]string, len(entries))}
	for k, v := range entries {
		t.m[strings.ToLower(k)] = v
	}
	return t
}

func (t *Memory) Lookup(_ context.Context, key string) (string, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.m[strings.ToLower(key)]
	return v, ok, nil
}

func (t *Memory) Keys() ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *Memory) SetKey(k, v string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[strings.ToLower(k)] = v
	return nil
}

func (t *Memory) RemoveKey(k string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, strings.ToLower(k))
	return nil
}

func init() {
	var _ module.MutableTable = &Memory{}
	module.RegisterTable("memory", NewMemory)
}
