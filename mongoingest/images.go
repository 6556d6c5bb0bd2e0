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

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mmtracker/changestream2redis/config"
)

// EnsurePreAndPostImages best-effort enables change stream pre/post
// images for every collection referenced by NAMESPACES or by
// FULL_DOCUMENT_COLLECTIONS, both of which depend on
// fullDocumentBeforeChange being available on delete events (spec.md
// §4.2's $ifNull fallback chain). This is best-effort and non-fatal:
// older MongoDB deployments don't support changeStreamPreAndPostImages at
// all, and the fallback chain degrades gracefully to the bare _id shape
// when images aren't available.
func EnsurePreAndPostImages(ctx context.Context, db *mongo.Database, namespaces []config.Namespace, fullDocumentCollections []string) {
	for _, collection := range collectionsNeedingImages(namespaces, fullDocumentCollections) {
		if err := enablePrePostImages(ctx, db, collection); err != nil {
			if err := recordPreImages(ctx, db, collection); err != nil {
				log.Warnf("could not enable pre/post images for %s: %v", collection, err)
			}
		}
	}
}

// enablePrePostImages enables pre/post images for MongoDB >= 6.
func enablePrePostImages(ctx context.Context, db *mongo.Database, collection string) error {
	cmd := bson.D{
		{Key: "collMod", Value: collection},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}
	return db.RunCommand(ctx, cmd).Err()
}

// recordPreImages is the MongoDB < 6 fallback.
func recordPreImages(ctx context.Context, db *mongo.Database, collection string) error {
	cmd := bson.D{
		{Key: "collMod", Value: collection},
		{Key: "recordPreImages", Value: true},
	}
	return db.RunCommand(ctx, cmd).Err()
}

// collectionsNeedingImages returns the de-duplicated set of collections
// referenced by the configured namespaces and full-document collections.
func collectionsNeedingImages(namespaces []config.Namespace, fullDocumentCollections []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(collection string) {
		if seen[collection] {
			return
		}
		seen[collection] = true
		out = append(out, collection)
	}
	for _, ns := range namespaces {
		add(ns.Collection)
	}
	for _, collection := range fullDocumentCollections {
		add(collection)
	}
	return out
}
