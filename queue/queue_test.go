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

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmtracker/changestream2redis/event"
)

func Test_DrainBatch_WaitsForFirstThenTakesWhateverElseIsQueued(t *testing.T) {
	q := New(8)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, event.Event{DocumentID: "1"}))
	require.NoError(t, q.Enqueue(ctx, event.Event{DocumentID: "2"}))

	batch, err := q.DrainBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "1", batch[0].DocumentID)
	assert.Equal(t, "2", batch[1].DocumentID)
}

func Test_DrainBatch_RespectsMaxBatchSize(t *testing.T) {
	q := New(8)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, event.Event{}))
	}

	batch, err := q.DrainBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, 3, q.Len())
}

func Test_DrainBatch_BlocksUntilAvailable(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(context.Background(), event.Event{DocumentID: "late"})
	}()

	batch, err := q.DrainBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "late", batch[0].DocumentID)
	wg.Wait()
}

func Test_Enqueue_BlocksWhenFull(t *testing.T) {
	q := New(1)
	require.NoError(t, q.Enqueue(context.Background(), event.Event{}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, event.Event{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_DrainBatch_PreservesOrderAcrossBatches(t *testing.T) {
	q := New(8)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(ctx, event.Event{DocumentID: string(rune('a' + i))}))
	}

	first, err := q.DrainBatch(ctx, 2)
	require.NoError(t, err)
	second, err := q.DrainBatch(ctx, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, []string{first[0].DocumentID, first[1].DocumentID})
	assert.Equal(t, []string{"c", "d"}, []string{second[0].DocumentID, second[1].DocumentID})
}
