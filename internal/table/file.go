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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/module"
)

// File is an indexed table loaded from a postmap(1) style source file:
//
//	# comment
//	example.org      OK
//	spammer.example  REJECT
//	    we do not talk to you
//
// Lines starting with whitespace continue the previous entry. Keys are
// case-insensitive. The indexed types (hash, btree, cdb, lmdb) all read the
// text source at the given path.
type File struct {
	path string
	m    map[string]string
}

func NewFile(_, path string) (module.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := readFileTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{path: path, m: m}, nil
}

func readFileTable(r io.Reader) (map[string]string, error) {
	m := make(map[string]string)
	scnr := bufio.NewScanner(r)

	var (
		key, value string
		lineNo     int
		haveEntry  bool
	)
	flush := func() error {
		if !haveEntry {
			return nil
		}
		if key == "" {
			return fmt.Errorf("line %d: missing key", lineNo)
		}
		m[strings.ToLower(key)] = strings.TrimSpace(value)
		haveEntry = false
		return nil
	}

	for scnr.Scan() {
		lineNo++
		line := strings.TrimRight(scnr.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] == '#' {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if !haveEntry {
				return nil, fmt.Errorf("line %d: continuation line without entry", lineNo)
			}
			value += " " + trimmed
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		indx := strings.IndexAny(trimmed, " \t")
		if indx == -1 {
			key, value = trimmed, ""
		} else {
			key, value = trimmed[:indx], strings.TrimSpace(trimmed[indx+1:])
		}
		haveEntry = true
	}
	if err := scnr.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *File) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := f.m[strings.ToLower(key)]
	return v, ok, nil
}

func (f *File) Keys() ([]string, error) {
	keys := make([]string, 0, len(f.m))
	for k := range f.m {
		keys = append(keys, k)
	}
	return keys, nil
}

func init() {
	for _, typ := range []string{"hash", "texthash", "btree", "cdb", "lmdb", "dbm", "sdbm"} {
		module.RegisterTable(typ, NewFile)
	}
}
