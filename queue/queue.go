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

// Package queue provides the bounded single-producer/single-consumer
// handoff between mongoingest and redispublish (spec.md §4.3).
package queue

import (
	"context"

	"github.com/mmtracker/changestream2redis/event"
)

// Queue is a fixed-capacity SPSC channel of Events. The producer blocks
// on Enqueue when full; the consumer blocks on DrainBatch when empty.
// This is the system's only backpressure point: when Redis falls
// behind, Enqueue blocks, which in turn stalls the ingest task's cursor
// poll (spec.md §4.3).
type Queue struct {
	ch chan event.Event
}

// New allocates a Queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{ch: make(chan event.Event, capacity)}
}

// Enqueue blocks until the event is accepted or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, ev event.Event) error {
	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainBatch blocks until at least one event is available, then returns
// up to batchSize events without blocking further: whatever else is
// already queued is taken immediately, but DrainBatch never waits for
// the batch to fill (spec.md §4.3).
func (q *Queue) DrainBatch(ctx context.Context, batchSize int) ([]event.Event, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	batch := make([]event.Event, 0, batchSize)

	select {
	case ev := <-q.ch:
		batch = append(batch, ev)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(batch) < batchSize {
		select {
		case ev := <-q.ch:
			batch = append(batch, ev)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Len reports the number of events currently buffered, for diagnostics.
func (q *Queue) Len() int {
	return len(q.ch)
}
