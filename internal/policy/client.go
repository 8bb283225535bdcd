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
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
	"github.com/sblinch/smtpdcheck/framework/log"
)

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "smtpdcheck",
		Name:      "policy_request_seconds",
		Help:      "Duration of policy service round trips",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"endpoint", "result"},
)

func init() {
	prometheus.MustRegister(requestDuration)
}

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ParseEndpoint converts inet:host:port, unix:path or host:port into a
// network and address for net.Dial.
func ParseEndpoint(endpoint string) (network, addr string, err error) {
	switch {
	case strings.HasPrefix(endpoint, "unix:"):
		network, addr = "unix", endpoint[len("unix:"):]
	case strings.HasPrefix(endpoint, "inet:"):
		network, addr = "tcp", endpoint[len("inet:"):]
	default:
		network, addr = "tcp", endpoint
	}
	if addr == "" {
		return "", "", fmt.Errorf("policy: empty address in %q", endpoint)
	}
	if network == "tcp" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", "", fmt.Errorf("policy: %q: %w", endpoint, err)
		}
	}
	return network, addr, nil
}

type conn struct {
	net.Conn
	br       *bufio.Reader
	created  time.Time
	lastUsed time.Time
}

// Client talks to one policy endpoint. Connections are kept open between
// requests and reused until they have been idle for MaxIdle or open for
// MaxTTL.
type Client struct {
	Endpoint   string
	Timeout    time.Duration
	MaxIdle    time.Duration
	MaxTTL     time.Duration
	TryLimit   int
	RetryDelay time.Duration
	Dial       DialFunc
	Log        log.Logger

	network string
	addr    string
	now     func() time.Time

	lock sync.Mutex
	idle []*conn
}

func NewClient(endpoint string) (*Client, error) {
	network, addr, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return &Client{
		Endpoint:   endpoint,
		Timeout:    100 * time.Second,
		MaxIdle:    300 * time.Second,
		MaxTTL:     1000 * time.Second,
		TryLimit:   2,
		RetryDelay: time.Second,
		Dial:       d.DialContext,
		Log:        log.Logger{Name: "policy", Debug: log.DefaultLogger.Debug},
		network:    network,
		addr:       addr,
		now:        time.Now,
	}, nil
}

func (c *Client) get(ctx context.Context) (*conn, error) {
	now := c.now()

	c.lock.Lock()
	for len(c.idle) != 0 {
		cn := c.idle[len(c.idle)-1]
		c.idle = c.idle[:len(c.idle)-1]
		if now.Sub(cn.lastUsed) < c.MaxIdle && now.Sub(cn.created) < c.MaxTTL {
			c.lock.Unlock()
			return cn, nil
		}
		c.Log.DebugMsg("closing expired connection", "endpoint", c.Endpoint)
		cn.Close()
	}
	c.lock.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	nc, err := c.Dial(dialCtx, c.network, c.addr)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: nc, br: bufio.NewReader(nc), created: now, lastUsed: now}, nil
}

func (c *Client) put(cn *conn) {
	cn.lastUsed = c.now()
	c.lock.Lock()
	c.idle = append(c.idle, cn)
	c.lock.Unlock()
}

func (c *Client) roundTrip(ctx context.Context, req Request) (string, error) {
	cn, err := c.get(ctx)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := cn.SetDeadline(deadline); err != nil {
		cn.Close()
		return "", err
	}
	if _, err := req.WriteTo(cn); err != nil {
		cn.Close()
		return "", err
	}
	action, err := ReadAction(cn.br)
	if err != nil {
		cn.Close()
		return "", err
	}
	c.put(cn)
	return action, nil
}

// Query sends the request and returns the action from the reply. Failed
// attempts are retried on a new connection up to TryLimit times. The
// returned error is temporary.
func (c *Client) Query(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	tries := c.TryLimit
	if tries <= 0 {
		tries = 1
	}
	var err error
	for i := 0; i < tries; i++ {
		if i != 0 {
			select {
			case <-ctx.Done():
				return "", exterrors.WithTemporary(ctx.Err(), true)
			case <-time.After(c.RetryDelay):
			}
		}
		var action string
		action, err = c.roundTrip(ctx, req)
		if err == nil {
			requestDuration.WithLabelValues(c.Endpoint, "ok").Observe(time.Since(start).Seconds())
			return action, nil
		}
		c.Log.Error("policy service request failed", err, "endpoint", c.Endpoint, "try", i+1)
	}
	requestDuration.WithLabelValues(c.Endpoint, "error").Observe(time.Since(start).Seconds())
	return "", exterrors.WithTemporary(fmt.Errorf("policy: %s: %w", c.Endpoint, err), true)
}

// Close closes idle connections.
func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, cn := range c.idle {
		cn.Close()
	}
	c.idle = nil
	return nil
}
