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

package restriction

import (
	"fmt"

	"github.com/sblinch/smtpdcheck/framework/config"
	"github.com/sblinch/smtpdcheck/framework/module"
)

// HasRequired reports whether the program, including the classes it
// refers to, contains a restriction that can stop an open relay. An
// element directly after warn_if_reject does not count.
func HasRequired(prog *Program, classes map[string]*Program) bool {
	return hasRequired(prog, classes, map[string]bool{})
}

func hasRequired(prog *Program, classes map[string]*Program, seen map[string]bool) bool {
	for i, r := range prog.List {
		if i > 0 && prog.List[i-1].Name == WarnIfReject {
			continue
		}
		switch r.Name {
		case RejectUnauthDestination, DeferUnauthDestination, Reject, Defer,
			DeferIfPermit, CheckRelayDomains:
			return true
		}
		if r.Kind != KindClass || seen[r.Arg] {
			continue
		}
		seen[r.Arg] = true
		if class := classes[r.Arg]; class != nil && hasRequired(class, classes, seen) {
			return true
		}
	}
	return false
}

// ParseRewrite compiles local_header_rewrite_clients. Unknown elements
// are reported as warnings and skipped.
func ParseRewrite(param, value string) (*Program, error) {
	tokens, err := config.SplitGroups(value)
	if err != nil {
		return nil, configErr(param, "%v", err)
	}

	prog := &Program{Param: param}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		name, _ := Lookup(tok)
		switch name {
		case PermitInetInterfaces, PermitMynetworks, PermitSASLAuthenticated,
			PermitTLSClientcerts, PermitTLSAllClientcerts:
			prog.List = append(prog.List, Restriction{Kind: KindBuiltin, Name: name, Text: tok})
		case CheckAddressMap:
			if i+1 >= len(tokens) || !module.IsTableRef(tokens[i+1]) {
				return nil, configErr(param, "restriction %s requires type:name table argument", tok)
			}
			i++
			prog.List = append(prog.List, Restriction{Kind: KindMap, Name: name, Text: tok, Arg: tokens[i]})
		default:
			if module.IsTableRef(tok) {
				prog.List = append(prog.List, Restriction{Kind: KindDefaultMap, Text: tok, Arg: tok})
				continue
			}
			prog.Warnings = append(prog.Warnings, fmt.Sprintf("%s: unknown restriction %q ignored", param, tok))
		}
	}
	return prog, nil
}
