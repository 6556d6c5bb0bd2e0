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

// Package metrics exposes the three process-wide counters/gauges from
// spec.md §6 and, when METRICS_ADDRESS is set, a minimal HTTP server
// serving /metrics and /healthz.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the three spec.md §6 observability primitives, lazily
// initialized once as process-wide singletons (spec.md §9 "Global
// metrics as process-wide state").
type Metrics struct {
	LastEventTimestamp prometheus.Gauge
	MongoEventsTotal   prometheus.Counter
	RedisEventsTotal   prometheus.Counter

	registry *prometheus.Registry
}

var (
	instance     *Metrics
	instanceOnce sync.Once
)

// Default returns the process-wide Metrics singleton.
func Default() *Metrics {
	instanceOnce.Do(func() {
		instance = newMetrics(prometheus.NewRegistry())
	})
	return instance
}

// New builds a fresh, independently-registered Metrics, for tests that
// need to observe deltas without touching the process singleton
// (spec.md §9: "Tests should either reset them or observe deltas").
func New() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		LastEventTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "last_event_timestamp_seconds",
			Help: "Cluster-time seconds of the most recently ingested change event.",
		}),
		MongoEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mongo_events_total",
			Help: "Total change events ingested from MongoDB.",
		}),
		RedisEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "redis_events_total",
			Help: "Total events published to Redis (incremented by batch size before publish).",
		}),
		registry: registry,
	}
}

// ObserveIngested records one ingested event's cluster time and bumps
// mongo_events_total.
func (m *Metrics) ObserveIngested(clusterTimeSeconds uint32) {
	m.LastEventTimestamp.Set(float64(clusterTimeSeconds))
	m.MongoEventsTotal.Inc()
}

// ObservePublished bumps redis_events_total by the batch size, counted
// before the publish attempt per spec.md §6.
func (m *Metrics) ObservePublished(batchSize int) {
	m.RedisEventsTotal.Add(float64(batchSize))
}

// Server is the minimal HTTP surface mounted on METRICS_ADDRESS: the
// Prometheus scrape endpoint and a liveness probe.
type Server struct {
	addr   string
	engine *gin.Engine
	ready  atomic.Bool
}

// NewServer builds the metrics/healthz server bound to addr.
func NewServer(addr string, m *Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{addr: addr, engine: engine}

	handler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	engine.GET("/metrics", gin.WrapH(handler))
	engine.GET("/healthz", func(c *gin.Context) {
		if s.ready.Load() {
			c.Status(http.StatusOK)
			return
		}
		c.Status(http.StatusServiceUnavailable)
	})

	return s
}

// SetReady flips the /healthz probe, called once ingest and publish are
// both running (spec.md §4.5).
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Run starts the HTTP server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
