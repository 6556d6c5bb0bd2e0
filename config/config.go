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

// Package config loads and validates the environment-variable
// configuration described in spec.md §6. This is deliberately thin glue:
// no config file format, no remote config service, just os.Getenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Namespace is one parsed "collection.field" entry from NAMESPACES.
type Namespace struct {
	Collection string
	Field      string
}

// Config is the fully parsed, validated process configuration.
type Config struct {
	MongoURL string
	RedisURL string

	Debug bool

	// Deduplication holds the TTL in seconds when DEDUPLICATION is set.
	Deduplication           *int
	ExcludedCollections     []string
	FullDocument            string
	FullDocumentCollections []string
	Namespaces              []Namespace

	MetricsAddress string

	MongoBatchSize            int32
	MongoMaxAwaitTime         time.Duration
	RedisBatchSize            int
	RedisQueueSize            int
	RedisPublishRetryCount    int
	RedisConnectionTimeout    time.Duration
	RedisResponseTimeout      time.Duration
	RedisMaxDelay             time.Duration
	RedisConnectionRetryCount int
}

// FromEnv parses and validates Config from the process environment.
func FromEnv() (Config, error) {
	var c Config
	var err error

	c.MongoURL = os.Getenv("MONGO_URL")
	if c.MongoURL == "" {
		return Config{}, fmt.Errorf("MONGO_URL is required")
	}

	c.RedisURL = os.Getenv("REDIS_URL")
	if c.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required")
	}

	c.Debug = os.Getenv("DEBUG") != ""

	if raw, ok := os.LookupEnv("DEDUPLICATION"); ok {
		ttl, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("DEDUPLICATION must be an integer: %w", parseErr)
		}
		c.Deduplication = &ttl
	}

	c.ExcludedCollections = splitNonEmpty(os.Getenv("EXCLUDED_COLLECTIONS"))
	c.FullDocument = os.Getenv("FULL_DOCUMENT")
	c.FullDocumentCollections = splitNonEmpty(os.Getenv("FULL_DOCUMENT_COLLECTIONS"))

	c.Namespaces, err = parseNamespaces(os.Getenv("NAMESPACES"))
	if err != nil {
		return Config{}, err
	}

	c.MetricsAddress = os.Getenv("METRICS_ADDRESS")

	if c.MongoBatchSize, err = parseInt32Default("MONGO_BATCH_SIZE", 0); err != nil {
		return Config{}, err
	}
	mongoMaxAwaitMillis, err := parseIntDefault("MONGO_MAX_AWAIT_TIME_MILLIS", 0)
	if err != nil {
		return Config{}, err
	}
	c.MongoMaxAwaitTime = time.Duration(mongoMaxAwaitMillis) * time.Millisecond

	if c.RedisBatchSize, err = parseIntDefault("REDIS_BATCH_SIZE", 1); err != nil {
		return Config{}, err
	}
	if c.RedisQueueSize, err = parseIntDefault("REDIS_QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}
	if c.RedisPublishRetryCount, err = parseIntDefault("REDIS_PUBLISH_RETRY_COUNT", 0); err != nil {
		return Config{}, err
	}

	connTimeout, err := parseIntDefault("REDIS_CONNECTION_TIMEOUT_SECS", 2)
	if err != nil {
		return Config{}, err
	}
	c.RedisConnectionTimeout = time.Duration(connTimeout) * time.Second

	respTimeout, err := parseIntDefault("REDIS_RESPONSE_TIMEOUT_SECS", 5)
	if err != nil {
		return Config{}, err
	}
	c.RedisResponseTimeout = time.Duration(respTimeout) * time.Second

	maxDelay, err := parseIntDefault("REDIS_MAX_DELAY_SECS", 0)
	if err != nil {
		return Config{}, err
	}
	c.RedisMaxDelay = time.Duration(maxDelay) * time.Second

	if c.RedisConnectionRetryCount, err = parseIntDefault("REDIS_CONNECTION_RETRY_COUNT", 6); err != nil {
		return Config{}, err
	}

	return c, nil
}

// parseNamespaces parses the NAMESPACES env var into Namespace pairs,
// rejecting entries missing the dot or with an empty side, per spec.md §9.
func parseNamespaces(raw string) ([]Namespace, error) {
	entries := splitNonEmpty(raw)
	if len(entries) == 0 {
		return nil, nil
	}

	out := make([]Namespace, 0, len(entries))
	for _, entry := range entries {
		dot := strings.IndexByte(entry, '.')
		if dot < 0 {
			return nil, fmt.Errorf("NAMESPACES entry %q is missing a '.'", entry)
		}
		collection, field := entry[:dot], entry[dot+1:]
		if collection == "" {
			return nil, fmt.Errorf("NAMESPACES entry %q has an empty collection", entry)
		}
		if field == "" {
			return nil, fmt.Errorf("NAMESPACES entry %q has an empty field", entry)
		}
		out = append(out, Namespace{Collection: collection, Field: field})
	}
	return out, nil
}

func splitNonEmpty(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntDefault(name string, def int) (int, error) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, err)
	}
	return v, nil
}

func parseInt32Default(name string, def int32) (int32, error) {
	v, err := parseIntDefault(name, int(def))
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}
