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

package mongoingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/mmtracker/changestream2redis/config"
)

// connectAttempts bounds the exponential backoff used for the initial
// connect, matching the teacher's StartWithRetry pattern
// (stream/doc_processor.go) applied to this system's own network
// dependency instead of a process-restart loop.
const connectAttempts = 5

// Connect dials MongoDB, resolves the default database named in
// cfg.MongoURL, and opens the configured change-stream cursor(s). Every
// failure here is fatal at startup per spec.md §7.
func Connect(ctx context.Context, cfg config.Config) (*Ingest, error) {
	cs, err := connstring.ParseAndValidate(cfg.MongoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MONGO_URL: %w", err)
	}
	if cs.Database == "" {
		return nil, fmt.Errorf("MONGO_URL must include a default database")
	}

	client, err := connectWithRetry(ctx, cfg.MongoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := client.Database(cs.Database)
	EnsurePreAndPostImages(ctx, db, cfg.Namespaces, cfg.FullDocumentCollections)

	fullDocumentMode := fullDocumentModeFor(cfg)
	wantsFullDocument := fullDocumentRequested(fullDocumentMode)

	if len(cfg.FullDocumentCollections) == 0 {
		cursor, err := openCursor(ctx, db, cfg, roleSingle, fullDocumentMode, wantsFullDocument)
		if err != nil {
			return nil, err
		}
		return New(cursor), nil
	}

	primary, err := openCursor(ctx, db, cfg, rolePrimary, fullDocumentMode, wantsFullDocument)
	if err != nil {
		return nil, err
	}
	secondary, err := openCursor(ctx, db, cfg, roleSecondary, options.Off, false)
	if err != nil {
		_ = primary.Close(ctx)
		return nil, err
	}
	return NewDualStream(primary, secondary), nil
}

// fullDocumentModeFor decides the change-stream full-document mode.
// Namespace fan-out needs the document body to read the configured field
// from, so it overrides an explicit FULL_DOCUMENT. Absent either knob, the
// mode is left at its default: no full document is requested, matching
// the original's own "only _id is present unless FULL_DOCUMENT is set"
// behavior (original_source/src/config.rs).
func fullDocumentModeFor(cfg config.Config) options.FullDocument {
	if len(cfg.Namespaces) > 0 {
		return options.UpdateLookup
	}
	if cfg.FullDocument != "" {
		return options.FullDocument(cfg.FullDocument)
	}
	return options.Default
}

// fullDocumentRequested reports whether mode actually asks MongoDB to
// resolve a full document, as opposed to leaving operation.d at the bare
// {_id: ...} fallback.
func fullDocumentRequested(mode options.FullDocument) bool {
	return mode != options.Default && mode != options.Off && mode != ""
}

func openCursor(ctx context.Context, db *mongo.Database, cfg config.Config, role streamRole, fullDocumentMode options.FullDocument, wantsFullDocument bool) (*mongo.ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(fullDocumentMode)
	if cfg.MongoBatchSize > 0 {
		opts.SetBatchSize(cfg.MongoBatchSize)
	}
	if cfg.MongoMaxAwaitTime > 0 {
		opts.SetMaxAwaitTime(cfg.MongoMaxAwaitTime)
	}

	stream, err := db.Watch(ctx, buildPipeline(cfg, role, wantsFullDocument), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}
	return stream, nil
}

func connectWithRetry(ctx context.Context, mongoURL string) (*mongo.Client, error) {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectAttempts-1)

	var client *mongo.Client
	op := func() error {
		opts := options.Client().ApplyURI(mongoURL).SetServerSelectionTimeout(10 * time.Second)
		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			log.Warnf("failed to connect to MongoDB, retrying: %v", err)
			return err
		}
		if err := c.Ping(ctx, nil); err != nil {
			log.Warnf("failed to ping MongoDB, retrying: %v", err)
			return err
		}
		client = c
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	log.Info("mongo connection established")
	return client, nil
}
