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

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sblinch/smtpdcheck/internal/smtpdcheck"
	"github.com/urfave/cli/v2"
)

var checkCommand = &cli.Command{
	Name:  "check",
	Usage: "run one SMTP session through the restriction lists",
	Description: "Each stage is evaluated in protocol order and its reply is printed.\n" +
		"A session stops at the first reply that ends it (a rejected MAIL, a\n" +
		"hangup); a rejected recipient only drops that recipient.",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "client-addr", Usage: "client IP address", Value: "127.0.0.1"},
		&cli.StringFlag{Name: "client-name", Usage: "verified client host name", Value: "localhost"},
		&cli.StringFlag{Name: "reverse-name", Usage: "unverified reverse name, defaults to --client-name"},
		&cli.StringFlag{Name: "helo", Usage: "HELO/EHLO argument"},
		&cli.BoolFlag{Name: "esmtp", Usage: "the client used EHLO", Value: true},
		&cli.StringFlag{Name: "sender", Usage: "MAIL FROM address, empty for the null sender"},
		&cli.StringSliceFlag{Name: "rcpt", Usage: "RCPT TO address, may be repeated"},
		&cli.StringFlag{Name: "sasl-user", Usage: "authenticated user name"},
		&cli.Int64Flag{Name: "size", Usage: "message size in bytes"},
		&cli.StringFlag{Name: "etrn", Usage: "ETRN domain, checked instead of a mail transaction"},
	},
	Action: runCheck,
}

func runCheck(c *cli.Context) error {
	engine, err := newEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := c.Context
	out := c.App.Writer

	s := smtpdcheck.NewSession(c.String("client-name"), c.String("client-addr"))
	if rev := c.String("reverse-name"); rev != "" {
		s.ReverseName = rev
	}
	if c.Bool("esmtp") {
		s.Protocol = "ESMTP"
	}
	s.SASLUsername = c.String("sasl-user")
	if s.SASLUsername != "" {
		s.SASLMethod = "PLAIN"
	}

	if stop, err := report(out, "CONNECT", engine.CheckClient(ctx, s)); stop {
		return err
	}
	if helo := c.String("helo"); helo != "" {
		if stop, err := report(out, "HELO", engine.CheckHelo(ctx, s, helo)); stop {
			return err
		}
	}

	if domain := c.String("etrn"); domain != "" {
		_, err := report(out, "ETRN", engine.CheckEtrn(ctx, s, domain))
		return err
	}

	if size := c.Int64("size"); size > 0 {
		if stop, err := report(out, "SIZE", engine.CheckSize(s, size)); stop {
			return err
		}
		s.MessageSize = size
	}
	if stop, err := report(out, "MAIL", engine.CheckMail(ctx, s, c.String("sender"))); stop {
		return err
	}

	for _, rcpt := range c.StringSlice("rcpt") {
		err := engine.CheckRcpt(ctx, s, rcpt)
		var reply *smtpdcheck.Reply
		if errors.As(err, &reply) && !isHangup(err) {
			fmt.Fprintf(out, "RCPT %s: %v\n", rcpt, reply)
			continue
		}
		if stop, err := report(out, "RCPT "+rcpt, err); stop {
			return err
		}
		s.RecipientCount++
	}
	if s.RecipientCount == 0 {
		fmt.Fprintln(out, "no recipients accepted")
		return nil
	}

	if stop, err := report(out, "DATA", engine.CheckData(ctx, s)); stop {
		return err
	}
	if stop, err := report(out, "END-OF-MESSAGE", engine.CheckEOD(ctx, s)); stop {
		return err
	}
	printActions(out, s.Actions())
	return nil
}

// report prints the outcome of a stage. It returns stop when the session
// cannot continue, with a non-nil error only for failures that are not
// SMTP replies.
func report(w io.Writer, stage string, err error) (stop bool, _ error) {
	if err == nil {
		fmt.Fprintf(w, "%s: OK\n", stage)
		return false, nil
	}
	var reply *smtpdcheck.Reply
	if !errors.As(err, &reply) {
		return true, fmt.Errorf("%s: %w", stage, err)
	}
	if isHangup(err) {
		fmt.Fprintf(w, "%s: %v (disconnect)\n", stage, reply)
	} else {
		fmt.Fprintf(w, "%s: %v\n", stage, reply)
	}
	return true, nil
}

func isHangup(err error) bool {
	var abort *smtpdcheck.Abort
	return errors.As(err, &abort) && abort.Hangup
}

func printActions(w io.Writer, pa *smtpdcheck.PendingActions) {
	if pa.Filter != "" {
		fmt.Fprintf(w, "filter: %s\n", pa.Filter)
	}
	if pa.Redirect != "" {
		fmt.Fprintf(w, "redirect: %s\n", pa.Redirect)
	}
	if len(pa.BCC) != 0 {
		fmt.Fprintf(w, "bcc: %s\n", strings.Join(pa.BCC, ", "))
	}
	if pa.Hold {
		fmt.Fprintf(w, "hold: %s\n", pa.Reason)
	}
	if pa.Discard {
		fmt.Fprintf(w, "discard: %s\n", pa.Reason)
	}
	fields := pa.Prepend.Fields()
	for fields.Next() {
		fmt.Fprintf(w, "prepend: %s: %s\n", fields.Key(), fields.Value())
	}
}
