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
	"regexp"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/module"
)

type regexpRule struct {
	re     *regexp.Regexp
	negate bool
	result string

	// Rules inside an if block. result is empty for blocks.
	block []regexpRule
	isIf  bool
}

// Regexp is a pattern table. Each line holds a pattern and a result:
//
//	/^(.*)@example\.org$/    REDIRECT $1@example.net
//	!/\.example$/            REJECT
//	if /^mail\./
//	/\.example\.org$/        OK
//	endif
//
// Patterns are case-insensitive unless the i flag is given. The first
// matching rule wins; $1 and friends in the result are replaced with
// submatches.
type Regexp struct {
	path  string
	rules []regexpRule
}

func NewRegexp(_, path string) (module.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rules, err := readRegexpRules(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Regexp{path: path, rules: rules}, nil
}

func readRegexpRules(r io.Reader) ([]regexpRule, error) {
	scnr := bufio.NewScanner(r)

	stack := [][]regexpRule{nil}
	var ifs []regexpRule
	lineNo := 0
	for scnr.Scan() {
		lineNo++
		line := strings.TrimSpace(scnr.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		if strings.EqualFold(line, "endif") {
			if len(ifs) == 0 {
				return nil, fmt.Errorf("line %d: endif without if", lineNo)
			}
			blk := ifs[len(ifs)-1]
			ifs = ifs[:len(ifs)-1]
			blk.block = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			stack[len(stack)-1] = append(stack[len(stack)-1], blk)
			continue
		}

		isIf := false
		if len(line) > 3 && strings.EqualFold(line[:3], "if ") {
			isIf = true
			line = strings.TrimSpace(line[3:])
		}

		rule, rest, err := parseRegexpPattern(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if isIf {
			if rest != "" {
				return nil, fmt.Errorf("line %d: text after if pattern", lineNo)
			}
			rule.isIf = true
			ifs = append(ifs, rule)
			stack = append(stack, nil)
			continue
		}
		if rest == "" {
			return nil, fmt.Errorf("line %d: missing result", lineNo)
		}
		rule.result = rest
		stack[len(stack)-1] = append(stack[len(stack)-1], rule)
	}
	if err := scnr.Err(); err != nil {
		return nil, err
	}
	if len(ifs) != 0 {
		return nil, fmt.Errorf("missing endif")
	}
	return stack[0], nil
}

// parseRegexpPattern parses [!]/pattern/flags at the start of line and
// returns the rest of the line.
func parseRegexpPattern(line string) (regexpRule, string, error) {
	var rule regexpRule
	if line[0] == '!' {
		rule.negate = true
		line = strings.TrimSpace(line[1:])
	}
	if len(line) < 2 {
		return rule, "", fmt.Errorf("pattern too short")
	}
	delim := line[0]
	end := -1
	for i := 1; i < len(line); i++ {
		if line[i] == '\\' {
			i++
			continue
		}
		if line[i] == delim {
			end = i
			break
		}
	}
	if end == -1 {
		return rule, "", fmt.Errorf("missing closing %c delimiter", delim)
	}

	pattern := line[1:end]
	rest := line[end+1:]
	flagsEnd := 0
	for flagsEnd < len(rest) && rest[flagsEnd] != ' ' && rest[flagsEnd] != '\t' {
		flagsEnd++
	}

	caseless, multiline := true, false
	for _, f := range rest[:flagsEnd] {
		switch f {
		case 'i':
			caseless = !caseless
		case 'm':
			multiline = !multiline
		case 'x':
		default:
			return rule, "", fmt.Errorf("unknown regexp flag %c", f)
		}
	}

	b := strings.Builder{}
	if caseless {
		b.WriteString("(?i)")
	}
	if multiline {
		b.WriteString("(?m)")
	}
	b.WriteString(pattern)
	re, err := regexp.Compile(b.String())
	if err != nil {
		return rule, "", fmt.Errorf("regexp pattern %q: %v", pattern, err)
	}
	rule.re = re
	return rule, strings.TrimSpace(rest[flagsEnd:]), nil
}

func (t *Regexp) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := matchRegexpRules(t.rules, key)
	return v, ok, nil
}

func matchRegexpRules(rules []regexpRule, key string) (string, bool) {
	for _, r := range rules {
		match := r.re.FindStringSubmatchIndex(key)
		if r.negate {
			if match != nil {
				continue
			}
			if r.isIf {
				if v, ok := matchRegexpRules(r.block, key); ok {
					return v, true
				}
				continue
			}
			return r.result, true
		}
		if match == nil {
			continue
		}
		if r.isIf {
			if v, ok := matchRegexpRules(r.block, key); ok {
				return v, true
			}
			continue
		}
		return string(r.re.ExpandString(nil, r.result, key, match)), true
	}
	return "", false
}

func (t *Regexp) IsPattern() bool {
	return true
}

func init() {
	module.RegisterTable("regexp", NewRegexp)
	module.RegisterTable("pcre", NewRegexp)
}
