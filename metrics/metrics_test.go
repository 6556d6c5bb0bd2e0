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

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ObserveIngested_UpdatesGaugeAndCounter(t *testing.T) {
	m := New()
	m.ObserveIngested(1000)
	m.ObserveIngested(2000)

	assert.Equal(t, float64(2000), testutil.ToFloat64(m.LastEventTimestamp))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.MongoEventsTotal))
}

func Test_ObservePublished_AddsBatchSize(t *testing.T) {
	m := New()
	m.ObservePublished(3)
	m.ObservePublished(2)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.RedisEventsTotal))
}

func Test_Server_Healthz_ReflectsReadiness(t *testing.T) {
	m := New()
	s := NewServer(":0", m)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetReady(true)
	rec = httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_Server_Metrics_ServesPrometheusFormat(t *testing.T) {
	m := New()
	m.ObserveIngested(42)
	s := NewServer(":0", m)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "last_event_timestamp_seconds 42")
}
