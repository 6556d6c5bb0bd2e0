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

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func Test_NamespaceList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "owner::u1", want: []string{"owner::u1"}},
		{name: "multiple", in: "owner::u1,owner::u2", want: []string{"owner::u1", "owner::u2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Namespaces: tt.in}
			assert.Equal(t, tt.want, e.NamespaceList())
		})
	}
}

func Test_EncodedOperation_Insert(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("aaaaaaaaaaaaaaaaaaaaaaaa")
	assert.NoError(t, err)

	e := Event{
		DB:         "app",
		Collection: "tasks",
		DocumentID: oid.Hex(),
		Operation: Operation{
			E: KindInsert,
			D: primitive.D{{Key: "_id", Value: oid}, {Key: "title", Value: "x"}},
			F: []interface{}{},
		},
	}

	got, err := e.EncodedOperation()
	assert.NoError(t, err)
	assert.JSONEq(t,
		`{"e":"i","d":{"_id":{"$type":"oid","$value":"aaaaaaaaaaaaaaaaaaaaaaaa"},"title":"x"},"f":[]}`,
		got,
	)
}

func Test_EncodedOperation_PreservesDocumentFieldOrder(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("cccccccccccccccccccccccc")
	assert.NoError(t, err)

	e := Event{
		Operation: Operation{
			E: KindUpdate,
			D: primitive.D{{Key: "zebra", Value: "z"}, {Key: "_id", Value: oid}, {Key: "apple", Value: "a"}},
			F: []interface{}{},
		},
	}

	got, err := e.EncodedOperation()
	assert.NoError(t, err)
	assert.Equal(t,
		`{"e":"u","d":{"zebra":"z","_id":{"$type":"oid","$value":"cccccccccccccccccccccccc"},"apple":"a"},"f":[]}`,
		got,
	)
}

func Test_EncodedOperation_Delete(t *testing.T) {
	oid, err := primitive.ObjectIDFromHex("bbbbbbbbbbbbbbbbbbbbbbbb")
	assert.NoError(t, err)

	e := Event{
		Operation: Operation{
			E: KindRemove,
			D: primitive.D{{Key: "_id", Value: oid}},
		},
	}

	got, err := e.EncodedOperation()
	assert.NoError(t, err)
	assert.JSONEq(t,
		`{"e":"r","d":{"_id":{"$type":"oid","$value":"bbbbbbbbbbbbbbbbbbbbbbbb"}},"f":[]}`,
		got,
	)
}
