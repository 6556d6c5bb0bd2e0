/*
 * Copyright (c) 2023. Monimoto Authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package redispublish drains batches off the queue and fans each event
// out to Redis via a single scripted EVAL invocation (spec.md §4.4).
package redispublish

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/mmtracker/changestream2redis/config"
	"github.com/mmtracker/changestream2redis/event"
)

// Publisher batches events and publishes them to Redis via the
// deduplicating or non-deduplicating script, per the configured
// retry budget and dedup TTL.
type Publisher struct {
	client        *redis.Client
	deduplication *int
	retryCount    int
	debug         bool
}

// New builds a Publisher from the Redis connection settings in cfg.
func New(cfg config.Config) *Publisher {
	client := redis.NewClient(&redis.Options{
		Addr:            redisAddr(cfg.RedisURL),
		DialTimeout:     cfg.RedisConnectionTimeout,
		ReadTimeout:     cfg.RedisResponseTimeout,
		WriteTimeout:    cfg.RedisResponseTimeout,
		MaxRetries:      cfg.RedisConnectionRetryCount,
		MaxRetryBackoff: cfg.RedisMaxDelay,
	})

	return &Publisher{
		client:        client,
		deduplication: cfg.Deduplication,
		retryCount:    cfg.RedisPublishRetryCount,
		debug:         cfg.Debug,
	}
}

// NewWithClient builds a Publisher over an already-constructed client,
// used by tests running against miniredis.
func NewWithClient(client *redis.Client, deduplication *int, retryCount int, debug bool) *Publisher {
	return &Publisher{client: client, deduplication: deduplication, retryCount: retryCount, debug: debug}
}

// redisAddr strips a redis:// or rediss:// scheme from a connection URL,
// falling back to the raw value (go-redis's ParseURL would also work,
// but every config knob here is already broken out individually, so a
// plain address is what Options.Addr expects).
func redisAddr(rawURL string) string {
	addr := rawURL
	for _, prefix := range []string{"redis://", "rediss://"} {
		if strings.HasPrefix(addr, prefix) {
			addr = strings.TrimPrefix(addr, prefix)
			break
		}
	}
	return addr
}

// Publish encodes and publishes one batch of events in a single script
// invocation, retrying up to retryCount additional times on I/O errors
// only (spec.md §4.4 "Retry"). Returns the first non-retryable error, or
// the last I/O error once the retry budget is exhausted.
func (p *Publisher) Publish(ctx context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}

	keys, argv, err := p.buildArgs(batch)
	if err != nil {
		return err
	}

	if p.debug {
		p.logDebug(batch)
	}

	script := scriptWithoutDeduplication
	if p.deduplication != nil {
		script = scriptWithDeduplication
	}

	publishBackoff := backoff.NewExponentialBackOff()
	publishBackoff.InitialInterval = 25 * time.Millisecond
	publishBackoff.MaxInterval = 500 * time.Millisecond
	bo := backoff.WithMaxRetries(publishBackoff, uint64(p.retryCount))
	attempt := 0
	op := func() error {
		attempt++
		err := script.Run(ctx, p.client, keys, argv...).Err()
		if err != nil {
			if isIOError(err) {
				log.Warnf("redis publish attempt %d failed with an I/O error, retrying: %v", attempt, err)
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	// backoff.Retry unwraps a *backoff.PermanentError to its underlying
	// error before returning, so err here is always the raw redis error
	// regardless of which branch in op stopped the retry loop.
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("redis script invocation failed: %w", err)
	}
	return nil
}

func (p *Publisher) buildArgs(batch []event.Event) ([]string, []interface{}, error) {
	keys := make([]string, 0, len(batch))
	argv := make([]interface{}, 0, 1+len(batch)*strideWithDedup)
	argv = append(argv, len(batch))

	for _, ev := range batch {
		op, err := ev.EncodedOperation()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode operation for event %v: %w", ev.EventID, err)
		}

		argv = append(argv, ev.DB, ev.Collection, ev.Namespaces, ev.DocumentID, op)

		if p.deduplication != nil {
			keys = append(keys, dedupKey(ev))
			argv = append(argv, *p.deduplication)
		}
	}
	return keys, argv, nil
}

func dedupKey(ev event.Event) string {
	return fmt.Sprintf("%v", ev.EventID)
}

func (p *Publisher) logDebug(batch []event.Event) {
	for _, ev := range batch {
		op, err := ev.EncodedOperation()
		if err != nil {
			log.Errorf("failed to encode operation for debug logging: %v", err)
			continue
		}
		ev.Debug(op)
	}
}

// isIOError classifies connection-reset, timeout, and similar transport
// errors as retryable, per spec.md §4.4 "Retry" and §7. Script errors
// and authentication failures are not I/O errors and return immediately.
func isIOError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection reset", "broken pipe", "connection refused", "i/o timeout", "EOF"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// WaitReady blocks until Redis answers PING or ctx is done, used by the
// supervisor at startup (spec.md §7 "Redis connect failure: Fatal at
// startup").
func (p *Publisher) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		if err := p.client.Ping(ctx).Err(); err == nil {
			return nil
		} else if time.Now().After(deadline) {
			return fmt.Errorf("redis did not become ready: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
