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
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
)

func TestSQL_ExpandQuery(t *testing.T) {
	tests := []struct {
		name     string
		driver   string
		query    string
		key      string
		wantQ    string
		wantArgs []interface{}
		wantSkip bool
	}{
		{"quoted", "mysql", "SELECT action FROM access WHERE source='%s'", "example.org",
			"SELECT action FROM access WHERE source=?", []interface{}{"example.org"}, false},
		{"postgres", "postgres", "SELECT goto FROM alias WHERE local=%u AND domain=%d", "user@example.org",
			"SELECT goto FROM alias WHERE local=$1 AND domain=$2", []interface{}{"user", "example.org"}, false},
		{"percent", "sqlite3", "SELECT '100%%' WHERE k=%s", "a",
			"SELECT '100%' WHERE k=?", []interface{}{"a"}, false},
		{"no-domain", "mysql", "SELECT 1 WHERE d=%d", "example.org", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := &SQL{driver: tt.driver}
			q, args, err := tbl.expandQuery(tt.query, tt.key, "")
			if tt.wantSkip {
				if !errors.Is(err, errSkip) {
					t.Errorf("expandQuery() error = %v, want errSkip", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expandQuery() error = %v", err)
			}
			if q != tt.wantQ {
				t.Errorf("expandQuery() query = %q, want %q", q, tt.wantQ)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("expandQuery() args = %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("expandQuery() args = %v, want %v", args, tt.wantArgs)
				}
			}
		})
	}
}

func TestSQL_Lookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	tbl := NewSQL(db, "mysql", "SELECT action FROM access WHERE source='%s'")
	ctx := context.Background()

	mock.ExpectQuery("SELECT action FROM access").WithArgs("spammer.example").
		WillReturnRows(sqlmock.NewRows([]string{"action"}).AddRow("REJECT"))
	v, ok, err := tbl.Lookup(ctx, "spammer.example")
	if err != nil || !ok || v != "REJECT" {
		t.Errorf("Lookup() got = %q, %v, %v", v, ok, err)
	}

	mock.ExpectQuery("SELECT action FROM access").WithArgs("example.org").
		WillReturnRows(sqlmock.NewRows([]string{"action"}))
	if _, ok, err := tbl.Lookup(ctx, "example.org"); ok || err != nil {
		t.Errorf("Lookup() of a missing key got = %v, %v", ok, err)
	}

	mock.ExpectQuery("SELECT action FROM access").WithArgs("broken.example").
		WillReturnError(errors.New("connection reset"))
	_, _, err = tbl.Lookup(ctx, "broken.example")
	if err == nil || !exterrors.IsTemporary(err) {
		t.Errorf("Lookup() error = %v, want a temporary error", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSQL_Mutable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	tbl := NewSQL(db, "sqlite3", "SELECT status FROM verify WHERE addr=%s")
	if err := tbl.SetKey("a@example.org", "ok"); !errors.Is(err, errReadOnly) {
		t.Errorf("SetKey() error = %v, want errReadOnly", err)
	}

	tbl.setQuery = "REPLACE INTO verify (addr, status) VALUES (%s, %v)"
	mock.ExpectExec("REPLACE INTO verify").WithArgs("a@example.org", "ok").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := tbl.SetKey("a@example.org", "ok"); err != nil {
		t.Errorf("SetKey() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
