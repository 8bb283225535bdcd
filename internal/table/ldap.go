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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
	"github.com/sblinch/smtpdcheck/framework/module"
)

// LDAP looks keys up with a search filter:
//
//	server_host = ldap://ldap.example.org
//	search_base = ou=people,dc=example,dc=org
//	query_filter = (mail=%s)
//	result_attribute = maildrop
//	bind_dn = cn=postfix,dc=example,dc=org
//	bind_pw = secret
//
// %s, %u and %d in the filter are replaced with the escaped key, local
// part and domain. Values of all result attributes are joined with commas.
type LDAP struct {
	url       string
	base      string
	filter    string
	attrs     []string
	scope     int
	bindDN    string
	bindPw    string
	timeout   time.Duration
	sizeLimit int
	domains   []string
	connLock  sync.Mutex
	conn      *ldap.Conn
	dialLDAP  func(url string) (*ldap.Conn, error)
}

func newLDAPFromCf(_, path string) (module.Table, error) {
	cf, err := readCf(path)
	if err != nil {
		return nil, err
	}
	t := &LDAP{
		url:     cf.str("server_host", "ldap://localhost"),
		base:    cf.str("search_base", ""),
		filter:  cf.str("query_filter", "(mailacceptinggeneralid=%s)"),
		attrs:   cf.list("result_attribute"),
		bindDN:  cf.str("bind_dn", ""),
		bindPw:  cf.str("bind_pw", ""),
		timeout: 10 * time.Second,
		domains: cf.list("domain"),
	}
	if len(t.attrs) == 0 {
		t.attrs = []string{"maildrop"}
	}
	if !strings.Contains(t.url, "://") {
		t.url = "ldap://" + t.url
	}
	switch strings.ToLower(cf.str("scope", "sub")) {
	case "sub":
		t.scope = ldap.ScopeWholeSubtree
	case "one":
		t.scope = ldap.ScopeSingleLevel
	case "base":
		t.scope = ldap.ScopeBaseObject
	default:
		return nil, fmt.Errorf("%s: bad scope %q", path, cf.str("scope", ""))
	}
	t.dialLDAP = func(url string) (*ldap.Conn, error) {
		return ldap.DialURL(url)
	}
	return t, nil
}

// expandFilter substitutes the key into the filter template.
func (t *LDAP) expandFilter(key string) (string, bool) {
	local, domain := key, ""
	if indx := strings.LastIndexByte(key, '@'); indx != -1 {
		local, domain = key[:indx], key[indx+1:]
	}
	var b strings.Builder
	for i := 0; i < len(t.filter); i++ {
		if t.filter[i] != '%' || i+1 == len(t.filter) {
			b.WriteByte(t.filter[i])
			continue
		}
		i++
		switch t.filter[i] {
		case '%':
			b.WriteByte('%')
		case 's':
			b.WriteString(ldap.EscapeFilter(key))
		case 'u':
			b.WriteString(ldap.EscapeFilter(local))
		case 'd':
			if domain == "" {
				return "", false
			}
			b.WriteString(ldap.EscapeFilter(domain))
		default:
			b.WriteByte('%')
			b.WriteByte(t.filter[i])
		}
	}
	return b.String(), true
}

func (t *LDAP) getConn() (*ldap.Conn, error) {
	if t.conn != nil && !t.conn.IsClosing() {
		return t.conn, nil
	}
	conn, err := t.dialLDAP(t.url)
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(t.timeout)
	if t.bindDN != "" {
		if err := conn.Bind(t.bindDN, t.bindPw); err != nil {
			conn.Close()
			return nil, err
		}
	}
	t.conn = conn
	return conn, nil
}

func (t *LDAP) Lookup(_ context.Context, key string) (string, bool, error) {
	if len(t.domains) != 0 {
		indx := strings.LastIndexByte(key, '@')
		if indx == -1 || !containsFold(t.domains, key[indx+1:]) {
			return "", false, nil
		}
	}
	filter, ok := t.expandFilter(key)
	if !ok {
		return "", false, nil
	}

	t.connLock.Lock()
	defer t.connLock.Unlock()

	conn, err := t.getConn()
	if err != nil {
		return "", false, exterrors.WithTemporary(fmt.Errorf("ldap: %w", err), true)
	}

	req := ldap.NewSearchRequest(t.base, t.scope, ldap.NeverDerefAliases, t.sizeLimit,
		int(t.timeout/time.Second), false, filter, t.attrs, nil)
	res, err := conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return "", false, nil
		}
		conn.Close()
		t.conn = nil
		return "", false, exterrors.WithTemporary(fmt.Errorf("ldap: %w", err), true)
	}

	var values []string
	for _, entry := range res.Entries {
		for _, attr := range t.attrs {
			values = append(values, entry.GetAttributeValues(attr)...)
		}
	}
	if len(values) == 0 {
		return "", false, nil
	}
	return strings.Join(values, ","), true, nil
}

func (t *LDAP) Close() error {
	t.connLock.Lock()
	defer t.connLock.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func init() {
	module.RegisterTable("ldap", newLDAPFromCf)
}
