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

package policy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sblinch/smtpdcheck/framework/log"
	"golang.org/x/sync/errgroup"
)

// Handler decides a policy request. The returned string is sent back as
// the action attribute.
type Handler interface {
	ServePolicy(ctx context.Context, req Request) string
}

type HandlerFunc func(ctx context.Context, req Request) string

func (f HandlerFunc) ServePolicy(ctx context.Context, req Request) string {
	return f(ctx, req)
}

type Server struct {
	Handler Handler
	// IdleTimeout closes connections without a request for this long.
	IdleTimeout time.Duration
	Log         log.Logger
}

// Serve accepts connections until ctx is cancelled or the listener
// fails. It waits for open connections to finish before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return l.Close()
	})
	eg.Go(func() error {
		for {
			nc, err := l.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			eg.Go(func() error {
				s.ServeConn(ctx, nc)
				return nil
			})
		}
	})
	err := eg.Wait()
	if errors.Is(err, net.ErrClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

// ServeConn handles requests on a single connection until the peer
// closes it.
func (s *Server) ServeConn(ctx context.Context, nc net.Conn) {
	defer nc.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			nc.Close()
		case <-done:
		}
	}()

	br := bufio.NewReader(nc)
	for {
		if s.IdleTimeout != 0 {
			nc.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		}
		req, err := ReadRequest(br)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.Log.Error("policy request read failed", err, "remote", remoteAddr(nc))
			}
			return
		}
		if req.Get("request") != "smtpd_access_policy" {
			s.Log.Msg("unexpected policy request type", "remote", remoteAddr(nc), "request", req.Get("request"))
		}

		action := s.Handler.ServePolicy(ctx, req)
		nc.SetWriteDeadline(time.Now().Add(30 * time.Second))
		reply := Request{{Name: "action", Value: strings.NewReplacer("\r", " ", "\n", " ").Replace(action)}}
		if _, err := reply.WriteTo(nc); err != nil {
			s.Log.Error("policy reply write failed", err, "remote", remoteAddr(nc))
			return
		}
	}
}

func remoteAddr(nc net.Conn) string {
	if addr := nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
