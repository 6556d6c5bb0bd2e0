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
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mmtracker/changestream2redis/config"
)

// streamRole distinguishes the primary (full-document-eligible) stream
// from the secondary stream in the dual-stream multiplexer.
type streamRole int

const (
	roleSingle streamRole = iota
	rolePrimary
	roleSecondary
)

// buildPipeline builds the server-side aggregation pipeline for one
// change-stream cursor, per spec.md §4.2. The pipeline is entirely
// determined by cfg and role: same inputs always produce the same
// pipeline (spec.md §9, "Pipeline construction").
func buildPipeline(cfg config.Config, role streamRole, wantsFullDocument bool) mongo.Pipeline {
	return mongo.Pipeline{
		matchStage(cfg, role),
		projectStage(cfg, wantsFullDocument),
	}
}

func matchStage(cfg config.Config, role streamRole) bson.D {
	match := bson.D{
		{Key: "documentKey._id", Value: bson.D{{Key: "$type", Value: bson.A{"objectId", "string"}}}},
		{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"delete", "insert", "replace", "update"}}}},
	}

	if len(cfg.ExcludedCollections) > 0 {
		match = append(match, bson.E{Key: "ns.coll", Value: bson.D{{Key: "$nin", Value: toBsonA(cfg.ExcludedCollections)}}})
	}

	switch role {
	case rolePrimary:
		match = append(match, bson.E{Key: "ns.coll", Value: bson.D{{Key: "$in", Value: toBsonA(cfg.FullDocumentCollections)}}})
	case roleSecondary:
		match = append(match, bson.E{Key: "ns.coll", Value: bson.D{{Key: "$nin", Value: toBsonA(cfg.FullDocumentCollections)}}})
	}

	return bson.D{{Key: "$match", Value: match}}
}

func projectStage(cfg config.Config, wantsFullDocument bool) bson.D {
	operationDoc := bson.D{
		{Key: "e", Value: bson.D{{Key: "$switch", Value: bson.D{
			{Key: "branches", Value: bson.A{
				bson.D{
					{Key: "case", Value: bson.D{{Key: "$eq", Value: bson.A{"$operationType", "delete"}}}},
					{Key: "then", Value: "r"},
				},
				bson.D{
					{Key: "case", Value: bson.D{{Key: "$eq", Value: bson.A{"$operationType", "insert"}}}},
					{Key: "then", Value: "i"},
				},
			}},
			{Key: "default", Value: "u"},
		}}}},
		{Key: "d", Value: operationDocumentExpr(wantsFullDocument)},
		{Key: "f", Value: bson.A{}},
	}

	return bson.D{{Key: "$project", Value: bson.D{
		{Key: "_id", Value: 1},
		{Key: "d", Value: "$ns.db"},
		{Key: "c", Value: "$ns.coll"},
		{Key: "i", Value: bson.D{{Key: "$toString", Value: "$documentKey._id"}}},
		{Key: "n", Value: namespacesExpr(cfg.Namespaces)},
		{Key: "o", Value: operationDoc},
		{Key: "t", Value: "$clusterTime"},
	}}}
}

// operationDocumentExpr builds operation.d: the bare {_id: ...} fallback,
// or the $ifNull(fullDocument, $ifNull(fullDocumentBeforeChange, fallback))
// chain when this stream requests full documents.
func operationDocumentExpr(wantsFullDocument bool) interface{} {
	fallback := bson.D{{Key: "_id", Value: "$documentKey._id"}}
	if !wantsFullDocument {
		return fallback
	}
	return bson.D{{Key: "$ifNull", Value: bson.A{
		"$fullDocument",
		bson.D{{Key: "$ifNull", Value: bson.A{"$fullDocumentBeforeChange", fallback}}},
	}}}
}

// namespacesExpr folds every configured (collection, field) namespace
// entry into the "n" string, per spec.md §4.2 "Namespace materialization".
// Entries are grouped by collection so a collection with more than one
// configured field still contributes all of its fragments.
func namespacesExpr(namespaces []config.Namespace) interface{} {
	if len(namespaces) == 0 {
		return ""
	}

	byCollection := map[string][]string{}
	var order []string
	for _, ns := range namespaces {
		if _, seen := byCollection[ns.Collection]; !seen {
			order = append(order, ns.Collection)
		}
		byCollection[ns.Collection] = append(byCollection[ns.Collection], ns.Field)
	}

	entries := make(bson.A, 0, len(order))
	for _, collection := range order {
		entries = append(entries, bson.D{{Key: "$cond", Value: bson.A{
			bson.D{{Key: "$ne", Value: bson.A{"$ns.coll", collection}}},
			"",
			joinFragmentsExpr(byCollection[collection]),
		}}})
	}

	return foldCommaJoined(entries)
}

// joinFragmentsExpr produces the comma-joined "<field>::<value>" string
// for every field configured on a matched collection, coercing each
// field's document value to an array (a bare scalar becomes a singleton)
// per spec.md §4.2.
func joinFragmentsExpr(fields []string) interface{} {
	fragmentLists := make(bson.A, 0, len(fields))
	for _, field := range fields {
		fragmentLists = append(fragmentLists, fieldFragmentsExpr(field))
	}

	allFragments := bson.D{{Key: "$reduce", Value: bson.D{
		{Key: "input", Value: fragmentLists},
		{Key: "initialValue", Value: bson.A{}},
		{Key: "in", Value: bson.D{{Key: "$concatArrays", Value: bson.A{"$$value", "$$this"}}}},
	}}}

	return foldCommaJoined(allFragments)
}

// fieldFragmentsExpr builds the array of "<field>::<value>" fragments for
// one configured field, reading fullDocument (falling back to
// fullDocumentBeforeChange when absent) and skipping null entries.
func fieldFragmentsExpr(field string) bson.D {
	rawValue := bson.D{{Key: "$ifNull", Value: bson.A{"$fullDocument." + field, "$fullDocumentBeforeChange." + field}}}
	asArray := bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$isArray", Value: rawValue}},
		rawValue,
		bson.A{rawValue},
	}}}
	nonNull := bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: asArray},
		{Key: "as", Value: "v"},
		{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$v", nil}}}},
	}}}

	return bson.D{{Key: "$map", Value: bson.D{
		{Key: "input", Value: nonNull},
		{Key: "as", Value: "v"},
		{Key: "in", Value: bson.D{{Key: "$concat", Value: bson.A{field, "::", bson.D{{Key: "$toString", Value: "$$v"}}}}}},
	}}}
}

// foldCommaJoined reduces an array-valued aggregation expression (or an
// array of such expressions, each itself a string or array of strings)
// into a single comma-joined string, skipping empty contributions.
func foldCommaJoined(input interface{}) interface{} {
	return bson.D{{Key: "$reduce", Value: bson.D{
		{Key: "input", Value: input},
		{Key: "initialValue", Value: ""},
		{Key: "in", Value: bson.D{{Key: "$let", Value: bson.D{
			{Key: "vars", Value: bson.D{{Key: "piece", Value: joinIfArray("$$this")}}},
			{Key: "in", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$$piece", ""}}},
				"$$value",
				bson.D{{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$$value", ""}}},
					"$$piece",
					bson.D{{Key: "$concat", Value: bson.A{"$$value", ",", "$$piece"}}},
				}}},
			}}}},
		}}}}},
	}}}
}

// joinIfArray turns an array-of-strings expression into a single
// comma-joined string, leaving a scalar string expression untouched.
func joinIfArray(expr interface{}) interface{} {
	return bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$isArray", Value: expr}},
		bson.D{{Key: "$reduce", Value: bson.D{
			{Key: "input", Value: expr},
			{Key: "initialValue", Value: ""},
			{Key: "in", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$$value", ""}}},
				"$$this",
				bson.D{{Key: "$concat", Value: bson.A{"$$value", ",", "$$this"}}},
			}}}},
		}}},
		expr,
	}}}
}

func toBsonA(values []string) bson.A {
	out := make(bson.A, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
