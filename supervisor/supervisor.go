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

// Package supervisor wires mongoingest, queue, and redispublish into the
// running pipeline and owns the fatal-error boundary (spec.md §4.5).
package supervisor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/mmtracker/changestream2redis/config"
	"github.com/mmtracker/changestream2redis/event"
	"github.com/mmtracker/changestream2redis/metrics"
	"github.com/mmtracker/changestream2redis/mongoingest"
	"github.com/mmtracker/changestream2redis/queue"
	"github.com/mmtracker/changestream2redis/redispublish"
)

// ingestSource is the subset of *mongoingest.Ingest the supervisor
// depends on, so the pipeline wiring can be tested without a live
// MongoDB deployment.
type ingestSource interface {
	Start(ctx context.Context)
	Next(ctx context.Context) (*event.Event, error)
	Close(ctx context.Context)
}

// publisher is the subset of *redispublish.Publisher the supervisor
// depends on.
type publisher interface {
	Publish(ctx context.Context, batch []event.Event) error
}

// Supervisor owns the ingest -> queue -> publish pipeline and the
// fatal-error boundary: an error from either stage is returned to the
// caller, which per spec.md §4.5 and §7 means the process exits non-zero.
type Supervisor struct {
	instanceID string
	cfg        config.Config
	metrics    *metrics.Metrics

	ingest    ingestSource
	publisher publisher
	queue     *queue.Queue

	healthz *metrics.Server
}

// New constructs a Supervisor over a live MongoDB/Redis deployment,
// per cfg. Each construction failure here is fatal at startup
// (spec.md §7).
func New(ctx context.Context, cfg config.Config) (*Supervisor, error) {
	instanceID := uuid.NewString()
	log.WithField("process_instance", instanceID).Info("starting changestream2redis")

	ingest, err := mongoingest.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to construct mongo ingest: %w", err)
	}

	pub := redispublish.New(cfg)
	if err := pub.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to construct redis publisher: %w", err)
	}

	m := metrics.Default()

	var healthz *metrics.Server
	if cfg.MetricsAddress != "" {
		healthz = metrics.NewServer(cfg.MetricsAddress, m)
	}

	return newSupervisor(instanceID, cfg, ingest, pub, m, healthz), nil
}

func newSupervisor(instanceID string, cfg config.Config, ingest ingestSource, pub publisher, m *metrics.Metrics, healthz *metrics.Server) *Supervisor {
	return &Supervisor{
		instanceID: instanceID,
		cfg:        cfg,
		metrics:    m,
		ingest:     ingest,
		publisher:  pub,
		queue:      queue.New(cfg.RedisQueueSize),
		healthz:    healthz,
	}
}

// Run starts the ingest and publisher tasks and blocks until either one
// returns a fatal error or ctx is canceled. This is the supervisor's
// error boundary: spec.md §4.5 says any unrecoverable stage error
// terminates the process with a non-zero exit code, which here means
// Run returning a non-nil error for main to act on.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.healthz != nil {
		go func() {
			if err := s.healthz.Run(ctx); err != nil {
				log.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	s.ingest.Start(ctx)
	defer s.ingest.Close(context.Background())

	errCh := make(chan error, 2)
	go func() { errCh <- s.runIngest(ctx) }()
	go func() { errCh <- s.runPublish(ctx) }()

	if s.healthz != nil {
		s.healthz.SetReady(true)
	}

	err := <-errCh
	cancel()
	return err
}

func (s *Supervisor) runIngest(ctx context.Context) error {
	for {
		ev, err := s.ingest.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mongo ingest failed: %w", err)
		}
		if ev == nil {
			return fmt.Errorf("mongo ingest ended unexpectedly")
		}

		s.metrics.ObserveIngested(ev.Timestamp.T)

		if err := s.queue.Enqueue(ctx, *ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to enqueue event: %w", err)
		}
	}
}

func (s *Supervisor) runPublish(ctx context.Context) error {
	for {
		batch, err := s.queue.DrainBatch(ctx, s.cfg.RedisBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to drain queue: %w", err)
		}

		s.metrics.ObservePublished(len(batch))

		if err := s.publisher.Publish(ctx, batch); err != nil {
			return fmt.Errorf("redis publish failed: %w", err)
		}
	}
}
