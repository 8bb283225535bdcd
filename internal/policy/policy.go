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

// Package policy implements the policy delegation protocol: a request is
// a block of name=value lines terminated by an empty line and the reply
// is a block of the same form carrying a single "action" attribute.
package policy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// MaxLine limits the length of a single attribute line.
	MaxLine = 4096
	// MaxAttrs limits the number of attributes in one block.
	MaxAttrs = 1024
)

var ErrNoAction = errors.New("policy: reply without action attribute")

type Attr struct {
	Name  string
	Value string
}

// Request is an ordered attribute block.
type Request []Attr

// Get returns the first value of the attribute, or "".
func (r Request) Get(name string) string {
	for _, a := range r {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// Add appends an attribute. Line breaks in the value are replaced with
// spaces so that they cannot terminate the block.
func (r *Request) Add(name, value string) {
	*r = append(*r, Attr{Name: name, Value: strings.NewReplacer("\r", " ", "\n", " ").Replace(value)})
}

// WriteTo writes the block including the terminating empty line.
func (r Request) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	for _, a := range r {
		sb.WriteString(a.Name)
		sb.WriteByte('=')
		sb.WriteString(a.Value)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// ReadRequest reads one attribute block. It returns io.EOF if the stream
// ends before the first attribute.
func ReadRequest(br *bufio.Reader) (Request, error) {
	var req Request
	for {
		line, err := readLine(br)
		if err != nil {
			if errors.Is(err, io.EOF) && len(req) != 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			if len(req) == 0 {
				continue
			}
			return req, nil
		}
		if len(req) >= MaxAttrs {
			return nil, fmt.Errorf("policy: more than %d attributes", MaxAttrs)
		}
		indx := strings.IndexByte(line, '=')
		if indx <= 0 {
			return nil, fmt.Errorf("policy: malformed attribute line: %q", line)
		}
		req = append(req, Attr{Name: line[:indx], Value: line[indx+1:]})
	}
}

func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return "", err
		}
		if sb.Len()+len(chunk) > MaxLine {
			return "", fmt.Errorf("policy: line longer than %d bytes", MaxLine)
		}
		sb.Write(chunk)
		if !isPrefix {
			return sb.String(), nil
		}
	}
}

// ReadAction reads a reply block and returns its action.
func ReadAction(br *bufio.Reader) (string, error) {
	reply, err := ReadRequest(br)
	if err != nil {
		return "", err
	}
	for _, a := range reply {
		if a.Name == "action" {
			return a.Value, nil
		}
	}
	return "", ErrNoAction
}
