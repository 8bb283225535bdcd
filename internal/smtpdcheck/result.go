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

package smtpdcheck

import (
	"fmt"

	"github.com/emersion/go-smtp"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
)

// Result is the outcome of a restriction or a restriction list.
type Result int

const (
	// Dunno means no opinion: evaluation continues with the next
	// restriction.
	Dunno Result = iota
	OK
	Reject
)

func (r Result) String() string {
	switch r {
	case Dunno:
		return "dunno"
	case OK:
		return "ok"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// ErrorClass tells why a request was refused.
type ErrorClass int

const (
	ClassPolicy ErrorClass = iota
	ClassProtocol
	// The recipient or sender does not exist.
	ClassBounce
	// Configuration or internal error. Never downgraded by warn_if_reject.
	ClassSoftware
	// Insufficient resources. Never downgraded by warn_if_reject.
	ClassResource
	// A table or DNS lookup failed temporarily.
	ClassData
)

func (c ErrorClass) String() string {
	switch c {
	case ClassPolicy:
		return "policy"
	case ClassProtocol:
		return "protocol"
	case ClassBounce:
		return "bounce"
	case ClassSoftware:
		return "software"
	case ClassResource:
		return "resource"
	case ClassData:
		return "data"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Reply is the SMTP reply that refuses a request. It is returned as an
// error by the stage checks.
type Reply struct {
	Code         int
	EnhancedCode exterrors.EnhancedCode
	Message      string
	Class        ErrorClass
}

func (r *Reply) Error() string {
	return fmt.Sprintf("%d %s %s", r.Code, r.EnhancedCode.FormatCode(), r.Message)
}

// Temporary reports whether the client may retry later.
func (r *Reply) Temporary() bool {
	return r.Code/100 == 4
}

// SMTPError converts the reply for use with go-smtp servers.
func (r *Reply) SMTPError() *smtp.SMTPError {
	return &smtp.SMTPError{
		Code:         r.Code,
		EnhancedCode: smtp.EnhancedCode(r.EnhancedCode),
		Message:      r.Message,
	}
}

// ExtError converts the reply into an error that carries log fields.
func (r *Reply) ExtError() *exterrors.SMTPError {
	return &exterrors.SMTPError{
		Code:         r.Code,
		EnhancedCode: r.EnhancedCode,
		Message:      r.Message,
		CheckName:    modName,
		Reason:       r.Class.String(),
	}
}

// Abort stops the evaluation of a stage. It carries the reply for
// lookup retries and server configuration errors. Hangup asks the caller
// to send the reply and drop the connection.
type Abort struct {
	Reply  *Reply
	Hangup bool
}

func (a *Abort) Error() string {
	if a.Hangup {
		return "hangup: " + a.Reply.Error()
	}
	return a.Reply.Error()
}

func (a *Abort) Unwrap() error {
	return a.Reply
}
