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

// Package ejson converts BSON values into Meteor's EJSON wire shape.
package ejson

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is an order-preserving JSON object. encoding/json sorts plain
// Go maps by key, which would silently reorder fields relative to the
// source BSON document; Document's MarshalJSON writes keys in the order
// they were encoded instead.
type Document struct {
	keys   []string
	values []interface{}
}

// NewDocument builds a Document from parallel key/value slices, encoding
// each value with Encode. Callers that already hold ordered fields (the
// operation record's e/d/f, for instance) use this instead of building a
// primitive.D just to hand it back to Encode.
func NewDocument(keys []string, values []interface{}) Document {
	doc := Document{keys: make([]string, len(keys)), values: make([]interface{}, len(values))}
	copy(doc.keys, keys)
	for i, v := range values {
		doc.values[i] = Encode(v)
	}
	return doc
}

// MarshalJSON implements json.Marshaler, writing keys in insertion order
// with no added whitespace.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valueJSON, err := json.Marshal(d.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(valueJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode turns a BSON value (as decoded by the mongo driver into an
// interface{}) into its EJSON representation, ready for encoding/json.
// The function is total: unrecognized BSON variants are logged once and
// mapped to nil rather than returning an error.
func Encode(v interface{}) interface{} {
	switch value := v.(type) {
	case nil:
		return nil
	case primitive.Binary:
		return map[string]interface{}{"$binary": base64.StdEncoding.EncodeToString(value.Data)}
	case primitive.DateTime:
		return map[string]interface{}{"$date": int64(value)}
	case primitive.Decimal128:
		return map[string]interface{}{"$type": "Decimal", "$value": value.String()}
	case float64:
		return encodeDouble(value)
	case primitive.ObjectID:
		return map[string]interface{}{"$type": "oid", "$value": value.Hex()}
	case primitive.Regex:
		return map[string]interface{}{"$regexp": value.Pattern, "$flags": value.Options}
	case primitive.A:
		return encodeArray([]interface{}(value))
	case []interface{}:
		return encodeArray(value)
	case primitive.D:
		return encodeD(value)
	case primitive.M:
		return encodeM(value)
	case map[string]interface{}:
		return encodeM(value)
	case bool, int32, int64, string:
		return value
	default:
		log.Warnf("Unrecognized BSON value found: %v", v)
		return nil
	}
}

func encodeDouble(v float64) interface{} {
	switch {
	case math.IsInf(v, 1):
		return map[string]interface{}{"$InfNaN": 1}
	case math.IsInf(v, -1):
		return map[string]interface{}{"$InfNaN": -1}
	case math.IsNaN(v):
		// Note the lowercase "n" -- this is the on-the-wire spelling used by
		// the upstream cultofcoders:redis-oplog protocol and must be
		// preserved verbatim even though it differs from the $InfNaN case.
		return map[string]interface{}{"$InfNan": 0}
	default:
		return v
	}
}

func encodeArray(v []interface{}) []interface{} {
	out := make([]interface{}, len(v))
	for i, element := range v {
		out[i] = Encode(element)
	}
	return out
}

// encodeD preserves bson.D key iteration order, matching the driver's
// document-ordering guarantee.
func encodeD(d primitive.D) Document {
	doc := Document{keys: make([]string, 0, len(d)), values: make([]interface{}, 0, len(d))}
	for _, element := range d {
		doc.keys = append(doc.keys, element.Key)
		doc.values = append(doc.values, Encode(element.Value))
	}
	return doc
}

func encodeM(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k, val := range v {
		out[k] = Encode(val)
	}
	return out
}
