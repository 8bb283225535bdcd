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
	"fmt"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/config"
)

// cfFile is a client configuration file of an SQL, LDAP or Redis table. It
// uses the main.cf syntax:
//
//	hosts = inet:db.example.org:3306
//	user = postfix
//	query = SELECT action FROM access WHERE source = '%s'
type cfFile struct {
	path   string
	params *config.Params
}

func readCf(path string) (*cfFile, error) {
	p, err := config.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &cfFile{path: path, params: p}, nil
}

func (c *cfFile) str(name, def string) string {
	v, ok, err := c.params.Get(name)
	if err != nil || !ok {
		return def
	}
	return v
}

func (c *cfFile) require(name string) (string, error) {
	v := c.str(name, "")
	if v == "" {
		return "", fmt.Errorf("%s: missing %s parameter", c.path, name)
	}
	return v, nil
}

func (c *cfFile) list(name string) []string {
	return config.SplitList(c.str(name, ""))
}

func (c *cfFile) boolean(name string, def bool) (bool, error) {
	v := c.str(name, "")
	if v == "" {
		return def, nil
	}
	b, err := config.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %s: %w", c.path, name, err)
	}
	return b, nil
}

// splitHost converts "inet:host:port", "unix:/path" or "host" into a
// network and an address. defPort is added to bare host names.
func splitHost(host, defPort string) (network, addr string) {
	switch {
	case strings.HasPrefix(host, "unix:"):
		return "unix", strings.TrimPrefix(host, "unix:")
	case strings.HasPrefix(host, "inet:"):
		host = strings.TrimPrefix(host, "inet:")
	case strings.HasPrefix(host, "/"):
		return "unix", host
	}
	if strings.LastIndexByte(host, ':') == -1 || strings.HasSuffix(host, "]") {
		if defPort != "" {
			host = host + ":" + defPort
		}
	}
	return "tcp", host
}
