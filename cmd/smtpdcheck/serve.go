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
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sblinch/smtpdcheck/framework/log"
	"github.com/sblinch/smtpdcheck/internal/admin"
	"github.com/sblinch/smtpdcheck/internal/policy"
	"github.com/sblinch/smtpdcheck/internal/smtpdcheck"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "answer policy delegation requests",
	Description: "Listens for Postfix policy delegation requests and evaluates each one\n" +
		"with the restriction list of its protocol_state. Point the MTA at it with\n" +
		"check_policy_service inet:host:port.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "policy endpoint, inet:host:port or unix:/path",
			EnvVars: []string{"SMTPDCHECK_LISTEN"},
			Value:   "inet:127.0.0.1:10031",
		},
		&cli.StringFlag{
			Name:    "admin",
			Usage:   "address of the admin HTTP listener (metrics, cache flush), empty to disable",
			EnvVars: []string{"SMTPDCHECK_ADMIN"},
		},
		&cli.DurationFlag{
			Name:  "idle-timeout",
			Usage: "close policy connections idle for this long",
			Value: 5 * time.Minute,
		},
		&cli.PathFlag{
			Name:  "queue-dir",
			Usage: "file system checked by the queue space test",
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	var opts []smtpdcheck.Option
	if dir := c.Path("queue-dir"); dir != "" {
		opts = append(opts, smtpdcheck.WithQueueSpace(queueDir(dir)))
	}
	engine, err := newEngine(c, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	network, addr, err := policy.ParseEndpoint(c.String("listen"))
	if err != nil {
		return err
	}
	if network == "unix" {
		os.Remove(addr)
	}
	l, err := net.Listen(network, addr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Logger{Name: "smtpdcheck/serve", Debug: log.DefaultLogger.Debug}
	eg, ctx := errgroup.WithContext(ctx)

	srv := &policy.Server{
		Handler:     engine,
		IdleTimeout: c.Duration("idle-timeout"),
		Log:         log.Logger{Name: "policy", Debug: log.DefaultLogger.Debug},
	}
	eg.Go(func() error {
		return srv.Serve(ctx, l)
	})
	logger.Msg("listening for policy requests", "endpoint", c.String("listen"))

	if adminAddr := c.String("admin"); adminAddr != "" {
		al, err := net.Listen("tcp", adminAddr)
		if err != nil {
			l.Close()
			return fmt.Errorf("admin listener: %w", err)
		}
		adm := &admin.Server{Engine: engine, Log: log.Logger{Name: "admin", Debug: log.DefaultLogger.Debug}}
		eg.Go(func() error {
			return adm.Serve(ctx, al)
		})
		logger.Msg("admin interface enabled", "address", al.Addr().String())
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	eg.Go(func() error {
		for {
			select {
			case <-hup:
				engine.FlushCaches()
				logger.Msg("lookup caches flushed on SIGHUP")
			case <-ctx.Done():
				return nil
			}
		}
	})

	err = eg.Wait()
	logger.Msg("shutting down")
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
