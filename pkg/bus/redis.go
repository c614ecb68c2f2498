// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyPrefix  = "daq:"
	redisPayloadKey = "p"
	// redisMaxLen caps each stream; older entries are trimmed approximately.
	redisMaxLen = 100_000
)

// DefaultStreamTTL is how long a stream description outlives an outlet that
// stopped refreshing it.
const DefaultStreamTTL = 30 * time.Second

// Redis is a Bus backed by Redis streams. Every stream is one Redis stream
// key, its description is stored next to it and kept alive by its outlet.
type Redis struct {
	client *redis.Client
	log    *zap.SugaredLogger
	ttl    time.Duration
}

// RedisOption configures a Redis bus.
type RedisOption func(*Redis)

// WithStreamTTL sets the expiry of stream descriptions. Outlets refresh it
// three times per period.
func WithStreamTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// NewRedis connects to addr, retrying with exponential backoff for at most
// maxWait.
func NewRedis(ctx context.Context, addr string, maxWait time.Duration, log *zap.SugaredLogger, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxWait

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := client.Ping(ctx).Err(); err != nil {
			log.Debugf("redis %s not reachable (attempt %d): %s", addr, attempt, err)

			return err
		}

		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}

	r := &Redis{client: client, log: log, ttl: DefaultStreamTTL}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

func streamKey(name string) string { return redisKeyPrefix + "stream:" + name }
func infoKey(name string) string   { return redisKeyPrefix + "info:" + name }

// Outlet registers the stream description. It fails if another outlet owns
// the stream. A description whose outlet died without closing expires after
// the stream TTL.
func (r *Redis) Outlet(ctx context.Context, info StreamInfo) (Outlet, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	ok, err := r.client.SetNX(ctx, infoKey(info.Name), raw, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("register stream %s: %w", info.Name, err)
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, info.Name)
	}

	out := &redisOutlet{
		client: r.client,
		log:    r.log,
		info:   info,
		raw:    raw,
		ttl:    r.ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go out.keepalive()

	return out, nil
}

// Inlet resolves the stream and reads entries added after this call.
func (r *Redis) Inlet(ctx context.Context, name string) (Inlet, error) {
	raw, err := r.client.Get(ctx, infoKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	}

	if err != nil {
		return nil, fmt.Errorf("resolve stream %s: %w", name, err)
	}

	var info StreamInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("decode stream %s: %w", name, err)
	}

	lastID := "0-0"

	tail, err := r.client.XRevRangeN(ctx, streamKey(name), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read tail of %s: %w", name, err)
	}

	if len(tail) > 0 {
		lastID = tail[0].ID
	}

	return &redisInlet{client: r.client, info: info, lastID: lastID}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisOutlet struct {
	client *redis.Client
	log    *zap.SugaredLogger
	info   StreamInfo
	raw    []byte
	ttl    time.Duration
	once   sync.Once
	stop   chan struct{}
	done   chan struct{}
}

// keepalive refreshes the description until the outlet or the client is
// closed.
func (o *redisOutlet) keepalive() {
	defer close(o.done)

	ticker := time.NewTicker(o.ttl / 3)
	defer ticker.Stop()

	key := infoKey(o.info.Name)

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
		}

		ok, err := o.client.Expire(context.Background(), key, o.ttl).Result()
		if errors.Is(err, redis.ErrClosed) {
			return
		}

		if err != nil {
			o.log.Warnf("refresh stream %s: %s", o.info.Name, err)

			continue
		}

		if !ok {
			o.log.Warnf("stream %s registration expired, registering again", o.info.Name)

			if err := o.client.SetNX(context.Background(), key, o.raw, o.ttl).Err(); err != nil {
				o.log.Warnf("register stream %s: %s", o.info.Name, err)
			}
		}
	}
}

func (o *redisOutlet) Info() StreamInfo {
	return o.info
}

func (o *redisOutlet) Push(ctx context.Context, samples ...Sample) error {
	if len(samples) == 0 {
		return nil
	}

	if err := o.info.check(samples); err != nil {
		return err
	}

	payload, err := encodeSamples(samples)
	if err != nil {
		return err
	}

	return o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(o.info.Name),
		MaxLen: redisMaxLen,
		Approx: true,
		Values: map[string]interface{}{redisPayloadKey: payload},
	}).Err()
}

// Close unregisters the stream. Entries stay readable until trimmed.
func (o *redisOutlet) Close() error {
	var err error

	o.once.Do(func() {
		close(o.stop)
		<-o.done

		err = o.client.Del(context.Background(), infoKey(o.info.Name)).Err()
	})

	return err
}

type redisInlet struct {
	client  *redis.Client
	info    StreamInfo
	lastID  string
	pending []Sample
}

func (i *redisInlet) Info() StreamInfo {
	return i.info
}

func (i *redisInlet) Pull(ctx context.Context, max int, timeout time.Duration) ([]Sample, error) {
	if max < 1 {
		max = 1
	}

	if len(i.pending) == 0 {
		if err := i.read(ctx, max, timeout); err != nil {
			return nil, err
		}
	}

	n := min(max, len(i.pending))
	out := i.pending[:n:n]
	i.pending = i.pending[n:]

	return out, nil
}

func (i *redisInlet) read(ctx context.Context, count int, timeout time.Duration) error {
	// Block 0 waits forever.
	timeout = max(timeout, time.Millisecond)

	streams, err := i.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey(i.info.Name), i.lastID},
		Count:   int64(count),
		Block:   timeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("read %s: %w", i.info.Name, err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			i.lastID = msg.ID

			payload, ok := msg.Values[redisPayloadKey].(string)
			if !ok {
				continue
			}

			samples, err := decodeSamples([]byte(payload))
			if err != nil {
				return err
			}

			i.pending = append(i.pending, samples...)
		}
	}

	return nil
}

func (i *redisInlet) Close() error {
	i.pending = nil

	return nil
}
