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
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sblinch/smtpdcheck/framework/address"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
	"github.com/sblinch/smtpdcheck/framework/module"
)

// errSkip means that the key cannot be expanded into the query (for
// example %d for a key without a domain) and the lookup is a miss.
var errSkip = errors.New("table: key not applicable to query")

// SQL looks keys up with a query template. The template uses the
// following expansions, each turned into a bound query argument:
//
//	%s  the key
//	%u  the local part of an address key, or the whole key
//	%d  the domain of an address key; keys without a domain are skipped
//	%%  a literal %
//
// All result rows are joined with commas. Tables with set_query,
// del_query and list_query (%s is the key, %v the value) can be modified.
type SQL struct {
	db       *sql.DB
	driver   string
	query    string
	domains  []string
	setQuery string
	delQuery string
	keyQuery string
}

func NewSQL(db *sql.DB, driver, query string) *SQL {
	return &SQL{db: db, driver: driver, query: query}
}

func newSQLFromCf(typ, path string) (module.Table, error) {
	cf, err := readCf(path)
	if err != nil {
		return nil, err
	}
	query, err := cf.require("query")
	if err != nil {
		return nil, err
	}

	var driver, dsn string
	switch typ {
	case "mysql":
		driver = "mysql"
		hosts := cf.list("hosts")
		if len(hosts) == 0 {
			hosts = []string{"localhost"}
		}
		mcfg := mysql.NewConfig()
		mcfg.User = cf.str("user", "")
		mcfg.Passwd = cf.str("password", "")
		mcfg.DBName = cf.str("dbname", "")
		mcfg.Net, mcfg.Addr = splitHost(hosts[0], "3306")
		dsn = mcfg.FormatDSN()
	case "pgsql":
		driver = "postgres"
		hosts := cf.list("hosts")
		if len(hosts) == 0 {
			hosts = []string{"localhost"}
		}
		u := url.URL{Scheme: "postgres", Path: "/" + cf.str("dbname", "")}
		network, addr := splitHost(hosts[0], "5432")
		q := url.Values{}
		if network == "unix" {
			q.Set("host", addr)
		} else {
			u.Host = addr
		}
		if user := cf.str("user", ""); user != "" {
			u.User = url.UserPassword(user, cf.str("password", ""))
		}
		q.Set("sslmode", cf.str("sslmode", "disable"))
		u.RawQuery = q.Encode()
		dsn = u.String()
	case "sqlite":
		driver = "sqlite3"
		if dsn, err = cf.require("dbpath"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported SQL table type: %s", typ)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: sql.Open: %w", path, err)
	}
	t := NewSQL(db, driver, query)
	t.domains = cf.list("domain")
	t.setQuery = cf.str("set_query", "")
	t.delQuery = cf.str("del_query", "")
	t.keyQuery = cf.str("list_query", "")
	return t, nil
}

// expandQuery converts a query template into the driver's placeholder
// syntax and the matching argument list.
func (t *SQL) expandQuery(tmpl, key, value string) (string, []interface{}, error) {
	var (
		b    strings.Builder
		args []interface{}
	)
	local, domain := key, ""
	if indx := strings.LastIndexByte(key, '@'); indx != -1 {
		local, domain = key[:indx], key[indx+1:]
	}

	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' || i+1 == len(tmpl) {
			b.WriteByte(tmpl[i])
			continue
		}
		i++
		var arg string
		switch tmpl[i] {
		case '%':
			b.WriteByte('%')
			continue
		case 's':
			arg = key
		case 'u':
			arg = local
		case 'd':
			if domain == "" {
				return "", nil, errSkip
			}
			arg = domain
		case 'v':
			arg = value
		default:
			return "", nil, fmt.Errorf("invalid %%%c in query template", tmpl[i])
		}

		// The template may quote the expansion: '%s'. Bound arguments
		// must not be quoted.
		s := b.String()
		if strings.HasSuffix(s, "'") && i+1 < len(tmpl) && tmpl[i+1] == '\'' {
			b.Reset()
			b.WriteString(s[:len(s)-1])
			i++
		}

		args = append(args, arg)
		if t.driver == "postgres" {
			b.WriteString("$" + strconv.Itoa(len(args)))
		} else {
			b.WriteByte('?')
		}
	}
	return b.String(), args, nil
}

func (t *SQL) applies(key string) bool {
	if len(t.domains) == 0 {
		return true
	}
	domain := address.Domain(key)
	if domain == "" {
		return false
	}
	for _, d := range t.domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

func (t *SQL) Lookup(ctx context.Context, key string) (string, bool, error) {
	if !t.applies(key) {
		return "", false, nil
	}
	q, args, err := t.expandQuery(t.query, key, "")
	if err != nil {
		if errors.Is(err, errSkip) {
			return "", false, nil
		}
		return "", false, err
	}

	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return "", false, exterrors.WithTemporary(fmt.Errorf("sql query: %w", err), true)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return "", false, exterrors.WithTemporary(fmt.Errorf("sql scan: %w", err), true)
		}
		if v.Valid {
			results = append(results, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, exterrors.WithTemporary(fmt.Errorf("sql rows: %w", err), true)
	}
	if len(results) == 0 {
		return "", false, nil
	}
	return strings.Join(results, ","), true, nil
}

func (t *SQL) LookupMulti(ctx context.Context, key string) ([]string, error) {
	v, ok, err := t.Lookup(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	return strings.Split(v, ","), nil
}

var errReadOnly = errors.New("table is read-only")

func (t *SQL) exec(tmpl, key, value string) error {
	if tmpl == "" {
		return errReadOnly
	}
	q, args, err := t.expandQuery(tmpl, key, value)
	if err != nil {
		return err
	}
	if _, err := t.db.Exec(q, args...); err != nil {
		return exterrors.WithTemporary(fmt.Errorf("sql exec: %w", err), true)
	}
	return nil
}

func (t *SQL) SetKey(k, v string) error {
	return t.exec(t.setQuery, k, v)
}

func (t *SQL) RemoveKey(k string) error {
	return t.exec(t.delQuery, k, "")
}

func (t *SQL) Keys() ([]string, error) {
	if t.keyQuery == "" {
		return nil, errReadOnly
	}
	rows, err := t.db.Query(t.keyQuery)
	if err != nil {
		return nil, exterrors.WithTemporary(fmt.Errorf("sql query: %w", err), true)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (t *SQL) Close() error {
	return t.db.Close()
}

func init() {
	var _ module.MutableTable = &SQL{}
	for _, typ := range []string{"mysql", "pgsql", "sqlite"} {
		module.RegisterTable(typ, newSQLFromCf)
	}
}
