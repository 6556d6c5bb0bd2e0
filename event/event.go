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

// Package event holds the normalized record produced by mongoingest and
// consumed by redispublish.
package event

import (
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mmtracker/changestream2redis/ejson"
)

// Kind is the operation.e discriminator: remove, insert, or update/replace.
type Kind string

const (
	KindRemove Kind = "r"
	KindInsert Kind = "i"
	KindUpdate Kind = "u"
)

// Operation is the "o" field of the wire event: kind, document payload,
// and a reserved (always empty) fields list kept for protocol
// compatibility with cultofcoders:redis-oplog.
type Operation struct {
	E Kind          `bson:"e"`
	D primitive.D   `bson:"d"`
	F []interface{} `bson:"f"`
}

// Event is one observed MongoDB mutation, normalized by the aggregation
// pipeline in mongoingest and ready for the Redis publisher.
type Event struct {
	EventID    interface{}         `bson:"_id"`
	DB         string              `bson:"d"`
	Collection string              `bson:"c"`
	DocumentID string              `bson:"i"`
	Namespaces string              `bson:"n"`
	Operation  Operation           `bson:"o"`
	Timestamp  primitive.Timestamp `bson:"t"`
}

// NamespaceList splits the comma-joined namespaces string into its
// non-empty "<field>::<value>" segments.
func (e Event) NamespaceList() []string {
	if e.Namespaces == "" {
		return nil
	}
	segments := strings.Split(e.Namespaces, ",")
	out := segments[:0:0]
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EncodedOperation renders the operation record as a compact EJSON string,
// the exact payload shape published to every Redis channel.
func (e Event) EncodedOperation() (string, error) {
	fields := e.Operation.F
	if fields == nil {
		fields = []interface{}{}
	}
	doc := ejson.NewDocument(
		[]string{"e", "d", "f"},
		[]interface{}{string(e.Operation.E), e.Operation.D, fields},
	)
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Debug logs the informational lines describing where this event would
// be published: two lines, plus one per namespace. Preserves the
// asymmetry noted in the protocol: the namespace line uses the collection
// name where the wire channel itself uses the document id.
func (e Event) Debug(encodedOperation string) {
	log.Debugf("%s.%s %s", e.DB, e.Collection, encodedOperation)
	log.Debugf("%s.%s::%s %s", e.DB, e.Collection, e.DocumentID, encodedOperation)
	for _, ns := range e.NamespaceList() {
		log.Debugf("%s.%s::%s %s", e.DB, ns, e.Collection, encodedOperation)
	}
}
