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

package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

var loadOptions = ini.LoadOptions{
	AllowPythonMultilineValues: true,
	IgnoreInlineComment:        true,
	PreserveSurroundedQuote:    true,
	KeyValueDelimiters:         "=",
}

// Params is a flat set of main.cf style parameters.
//
//	# comment
//	smtpd_recipient_restrictions =
//	    permit_mynetworks,
//	    reject_unauth_destination
//
// Indented lines continue the previous value. Values are kept unexpanded;
// Get and Map expand $name references on access.
type Params struct {
	values map[string]string
}

func NewParams(values map[string]string) *Params {
	p := &Params{values: make(map[string]string, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

// ReadFile parses the file at path.
func ReadFile(path string) (*Params, error) {
	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return fromIni(f), nil
}

// Parse parses main.cf text.
func Parse(data []byte) (*Params, error) {
	f, err := ini.LoadSources(loadOptions, data)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return fromIni(f), nil
}

func fromIni(f *ini.File) *Params {
	p := &Params{values: make(map[string]string)}
	for _, key := range f.Section("").Keys() {
		p.values[key.Name()] = joinLines(key.Value())
	}
	return p
}

func joinLines(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return strings.TrimSpace(v)
	}
	lines := strings.FieldsFunc(v, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

// Set overrides a parameter value, like postconf -o.
func (p *Params) Set(name, value string) {
	p.values[name] = value
}

// Raw returns the unexpanded value.
func (p *Params) Raw(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Get returns the expanded value of name.
func (p *Params) Get(name string) (string, bool, error) {
	v, ok := p.values[name]
	if !ok {
		return "", false, nil
	}
	exp, err := Expand(v, p.lookup)
	if err != nil {
		return "", true, fmt.Errorf("%s: %w", name, err)
	}
	return exp, true, nil
}

// Names returns all parameter names in sorted order.
func (p *Params) Names() []string {
	names := make([]string, 0, len(p.values))
	for k := range p.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (p *Params) lookup(name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}
