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

package exterrors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-smtp"
)

type EnhancedCode [3]int

func (ec EnhancedCode) FormatCode() string {
	return fmt.Sprintf("%d.%d.%d", ec[0], ec[1], ec[2])
}

// ParseEnhancedCode parses a RFC 3463 status code such as "5.7.1".
//
// Class must be 2, 4 or 5, subject at most 3 digits and detail at most 3
// digits.
func ParseEnhancedCode(s string) (EnhancedCode, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return EnhancedCode{}, fmt.Errorf("exterrors: malformed enhanced code: %q", s)
	}
	var ec EnhancedCode
	for i, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return EnhancedCode{}, fmt.Errorf("exterrors: malformed enhanced code: %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return EnhancedCode{}, fmt.Errorf("exterrors: malformed enhanced code: %q", s)
		}
		ec[i] = n
	}
	if ec[0] != 2 && ec[0] != 4 && ec[0] != 5 {
		return EnhancedCode{}, fmt.Errorf("exterrors: bad enhanced code class: %q", s)
	}
	return ec, nil
}

// SMTPError type is a copy of emersion/go-smtp's SMTPError type
// extended to include additional fields for logging.
type SMTPError struct {
	// SMTP status code. Most of the time, it is 4xx or 5xx.
	Code int

	// Enhanced SMTP status code (RFC 3463).
	EnhancedCode EnhancedCode

	// Message is the text sent to the client.
	Message string

	// CheckName is the name of the restriction or table that produced the
	// error.
	CheckName string

	// Err is the underlying error, if any. It is not shown to the client.
	Err error

	// Reason is a short machine-readable description of the failure.
	Reason string

	// Misc is added to the log output of the error.
	Misc map[string]interface{}
}

func (se *SMTPError) Unwrap() error {
	return se.Err
}

func (se *SMTPError) Fields() map[string]interface{} {
	ctx := make(map[string]interface{}, len(se.Misc)+4)
	for k, v := range se.Misc {
		ctx[k] = v
	}
	ctx["smtp_code"] = se.Code
	ctx["smtp_enchcode"] = se.EnhancedCode.FormatCode()
	ctx["smtp_msg"] = se.Message
	if se.CheckName != "" {
		ctx["check"] = se.CheckName
	}
	if se.Err != nil {
		ctx["reason"] = se.Err.Error()
	}
	if se.Reason != "" {
		ctx["reason"] = se.Reason
	}
	return ctx
}

// Temporary reports whether the reply code belongs to the 4xx class.
func (se *SMTPError) Temporary() bool {
	return se.Code/100 == 4
}

func (se *SMTPError) Error() string {
	if se.Reason != "" {
		return se.Reason
	}
	if se.Err != nil {
		return se.Err.Error()
	}
	return se.Message
}

// SMTP converts the error into the type understood by go-smtp servers.
func (se *SMTPError) SMTP() *smtp.SMTPError {
	return &smtp.SMTPError{
		Code:         se.Code,
		EnhancedCode: smtp.EnhancedCode(se.EnhancedCode),
		Message:      se.Message,
	}
}
