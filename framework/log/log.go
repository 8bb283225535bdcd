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

// Package log implements a minimalistic structured logging library on top
// of zap.
//
// Messages are emitted with a module name and a set of key-value pairs.
// Debug messages are dropped unless Logger.Debug is set.
package log

import (
	"fmt"
	"os"
	"sort"

	"github.com/sblinch/smtpdcheck/framework/exterrors"
	"go.uber.org/zap"
)

// Logger is the structured logger used by all modules.
//
// The zero value writes to DefaultLogger.Out.
type Logger struct {
	Out   *zap.Logger
	Name  string
	Debug bool

	// Additional fields that will be added
	// to the Msg output.
	Fields map[string]interface{}
}

// DefaultLogger is used by modules that do not have a logger of their own.
var DefaultLogger = Logger{Out: NewOutput(os.Stderr, false)}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.emit(true, fmt.Sprintf(format, val...), nil)
}

func (l Logger) Debugln(val ...interface{}) {
	if !l.Debug {
		return
	}
	l.emit(true, fmt.Sprint(val...), nil)
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.emit(false, fmt.Sprintf(format, val...), nil)
}

func (l Logger) Println(val ...interface{}) {
	l.emit(false, fmt.Sprint(val...), nil)
}

// Msg writes an event log message in a machine-readable format (currently
// zap fields).
//
//	name: msg\t{"key":"value","key2":123}
//
// Key-value pairs are built from fields slice: odd values are keys, even are
// values. Keys must be strings. Non-string keys cause the pair to be
// dropped.
func (l Logger) Msg(msg string, fields ...interface{}) {
	l.emit(false, msg, fields)
}

// Error writes an event log message in a machine-readable format (currently
// zap fields) containing information about the error. If err does have a
// Fields method that returns map[string]interface{}, its result will be
// added to the message.
//
//	name: msg\t{"key":"value","key2":123,"reason":"..."}
//
// Additionally, values from fields will be added to it, as handled by
// Logger.Msg.
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	if err == nil {
		l.Msg(msg, fields...)
		return
	}

	errFields := exterrors.Fields(err)
	allFields := make([]interface{}, 0, len(fields)+len(errFields)*2+2)
	allFields = append(allFields, fields...)
	keys := make([]string, 0, len(errFields))
	for k := range errFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		allFields = append(allFields, k, errFields[k])
	}
	if _, ok := errFields["reason"]; !ok {
		allFields = append(allFields, "reason", err.Error())
	}

	l.emit(false, msg, allFields)
}

func (l Logger) DebugMsg(kind string, fields ...interface{}) {
	if !l.Debug {
		return
	}
	l.emit(true, kind, fields)
}

// Zap returns a zap.Logger that carries the name and fields of l.
func (l Logger) Zap() *zap.Logger {
	out := l.out()
	if l.Name != "" {
		out = out.Named(l.Name)
	}
	return out.With(l.zapFields(nil)...)
}

func (l Logger) out() *zap.Logger {
	if l.Out != nil {
		return l.Out
	}
	if DefaultLogger.Out != nil {
		return DefaultLogger.Out
	}
	return zap.NewNop()
}

func (l Logger) zapFields(fields []interface{}) []zap.Field {
	zfields := make([]zap.Field, 0, len(l.Fields)+len(fields)/2)

	keys := make([]string, 0, len(l.Fields))
	for k := range l.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zfields = append(zfields, zap.Any(k, l.Fields[k]))
	}

	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		zfields = append(zfields, zap.Any(key, fields[i+1]))
	}
	return zfields
}

func (l Logger) emit(debug bool, msg string, fields []interface{}) {
	out := l.out()
	if l.Name != "" {
		out = out.Named(l.Name)
	}
	if debug {
		out.Debug(msg, l.zapFields(fields)...)
		return
	}
	out.Info(msg, l.zapFields(fields)...)
}
