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

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_FromEnv_RequiresMongoAndRedisURL(t *testing.T) {
	clearEnv(t)
	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URL")

	t.Setenv("MONGO_URL", "mongodb://localhost/app")
	_, err = FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func Test_FromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URL", "mongodb://localhost/app")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	c, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 1, c.RedisBatchSize)
	assert.Equal(t, 1024, c.RedisQueueSize)
	assert.Equal(t, 0, c.RedisPublishRetryCount)
	assert.Equal(t, 6, c.RedisConnectionRetryCount)
	assert.Nil(t, c.Deduplication)
	assert.False(t, c.Debug)
}

func Test_FromEnv_Deduplication(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URL", "mongodb://localhost/app")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("DEDUPLICATION", "60")

	c, err := FromEnv()
	require.NoError(t, err)
	require.NotNil(t, c.Deduplication)
	assert.Equal(t, 60, *c.Deduplication)
}

func Test_ParseNamespaces(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []Namespace
		wantErr string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "tasks.owner", want: []Namespace{{Collection: "tasks", Field: "owner"}}},
		{
			name: "multiple",
			raw:  "tasks.owner,users.team",
			want: []Namespace{
				{Collection: "tasks", Field: "owner"},
				{Collection: "users", Field: "team"},
			},
		},
		{name: "missing dot", raw: "tasks", wantErr: "missing a '.'"},
		{name: "empty collection", raw: ".owner", wantErr: "empty collection"},
		{name: "empty field", raw: "tasks.", wantErr: "empty field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNamespaces(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	names := []string{
		"MONGO_URL", "REDIS_URL", "DEBUG", "DEDUPLICATION", "EXCLUDED_COLLECTIONS",
		"FULL_DOCUMENT", "FULL_DOCUMENT_COLLECTIONS", "NAMESPACES", "METRICS_ADDRESS",
		"MONGO_BATCH_SIZE", "MONGO_MAX_AWAIT_TIME_MILLIS", "REDIS_BATCH_SIZE",
		"REDIS_QUEUE_SIZE", "REDIS_PUBLISH_RETRY_COUNT", "REDIS_CONNECTION_TIMEOUT_SECS",
		"REDIS_RESPONSE_TIMEOUT_SECS", "REDIS_MAX_DELAY_SECS", "REDIS_CONNECTION_RETRY_COUNT",
	}
	for _, name := range names {
		previous, had := os.LookupEnv(name)
		require.NoError(t, os.Unsetenv(name))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(name, previous)
			}
		})
	}
}
