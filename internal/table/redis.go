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
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sblinch/smtpdcheck/framework/exterrors"
	"github.com/sblinch/smtpdcheck/framework/module"
)

// Redis stores entries as plain string keys, optionally under a prefix.
//
//	hosts = inet:127.0.0.1:6379
//	password = secret
//	db = 2
//	prefix = access:
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func newRedisFromCf(_, path string) (module.Table, error) {
	cf, err := readCf(path)
	if err != nil {
		return nil, err
	}
	hosts := cf.list("hosts")
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}
	network, addr := splitHost(hosts[0], "6379")

	db := 0
	if v := cf.str("db", ""); v != "" {
		if db, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("%s: bad db number: %s", path, v)
		}
	}
	timeout := 2 * time.Second
	if v := cf.str("timeout", ""); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: bad timeout: %s", path, v)
		}
		timeout = time.Duration(secs) * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Network:      network,
		Addr:         addr,
		Password:     cf.str("password", ""),
		DB:           db,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return NewRedis(client, cf.str("prefix", "")), nil
}

func (t *Redis) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := t.client.Get(ctx, t.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, exterrors.WithTemporary(fmt.Errorf("redis: %w", err), true)
	}
	return v, true, nil
}

func (t *Redis) SetKey(k, v string) error {
	if err := t.client.Set(context.Background(), t.prefix+k, v, 0).Err(); err != nil {
		return exterrors.WithTemporary(fmt.Errorf("redis: %w", err), true)
	}
	return nil
}

func (t *Redis) RemoveKey(k string) error {
	if err := t.client.Del(context.Background(), t.prefix+k).Err(); err != nil {
		return exterrors.WithTemporary(fmt.Errorf("redis: %w", err), true)
	}
	return nil
}

func (t *Redis) Keys() ([]string, error) {
	ctx := context.Background()
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := t.client.Scan(ctx, cursor, t.prefix+"*", 100).Result()
		if err != nil {
			return nil, exterrors.WithTemporary(fmt.Errorf("redis: %w", err), true)
		}
		for _, k := range batch {
			keys = append(keys, k[len(t.prefix):])
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (t *Redis) Close() error {
	return t.client.Close()
}

func init() {
	var _ module.MutableTable = &Redis{}
	module.RegisterTable("redis", newRedisFromCf)
}
