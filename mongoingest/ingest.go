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

// Package mongoingest opens MongoDB change-stream cursors shaped by a
// server-side aggregation pipeline and yields normalized event.Event
// values to the supervisor.
package mongoingest

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/mmtracker/changestream2redis/event"
)

// Ingest multiplexes one or two change-stream cursors into a single
// stream of Events, preferring the primary cursor when both have a
// value ready (spec.md §4.2 "Dual-stream multiplexer", §9 "Dual-stream
// selection with priority").
type Ingest struct {
	primary   changeCursor
	secondary changeCursor

	primaryCh   chan pumpResult
	secondaryCh chan pumpResult
}

type pumpResult struct {
	ev  event.Event
	err error
	// done is set once the cursor's Next loop ends without error
	// (context cancellation or graceful close).
	done bool
}

// New builds an Ingest over a single cursor (no full_document_collections
// configured).
func New(primary changeCursor) *Ingest {
	return newIngest(primary, nil)
}

// NewDualStream builds an Ingest over a primary/secondary cursor pair,
// used when full_document_collections is configured.
func NewDualStream(primary, secondary changeCursor) *Ingest {
	return newIngest(primary, secondary)
}

func newIngest(primary, secondary changeCursor) *Ingest {
	in := &Ingest{
		primary:     primary,
		secondary:   secondary,
		primaryCh:   make(chan pumpResult, 1),
		secondaryCh: make(chan pumpResult, 1),
	}
	return in
}

// Start launches the pump goroutine(s) reading from the underlying
// cursor(s). Must be called once before Next.
func (in *Ingest) Start(ctx context.Context) {
	go pump(ctx, in.primary, in.primaryCh)
	if in.secondary != nil {
		go pump(ctx, in.secondary, in.secondaryCh)
	}
}

func pump(ctx context.Context, cur changeCursor, out chan<- pumpResult) {
	for cur.Next(ctx) {
		var ev event.Event
		if err := cur.Decode(&ev); err != nil {
			select {
			case out <- pumpResult{err: fmt.Errorf("failed to decode change event: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- pumpResult{ev: ev}:
		case <-ctx.Done():
			return
		}
	}
	if err := cur.Err(); err != nil {
		select {
		case out <- pumpResult{err: fmt.Errorf("change stream error: %w", err)}:
		case <-ctx.Done():
		}
		return
	}
	select {
	case out <- pumpResult{done: true}:
	case <-ctx.Done():
	}
}

// Next returns the next normalized Event, biased toward the primary
// cursor when both streams have a value ready. Returns an error if
// either underlying stream fails or decodes a BSON shape that doesn't
// fit event.Event (spec.md §7: "fatal, indicates contract violation").
func (in *Ingest) Next(ctx context.Context) (*event.Event, error) {
	if in.secondary == nil {
		return in.next(ctx, in.primaryCh)
	}
	return in.nextBiased(ctx)
}

func (in *Ingest) next(ctx context.Context, ch <-chan pumpResult) (*event.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return resultToEvent(res)
	}
}

func (in *Ingest) nextBiased(ctx context.Context) (*event.Event, error) {
	for {
		var res pumpResult
		fromPrimary := true
		// Biased: check the primary channel non-blocking first so it wins
		// every tie where both streams already have a value buffered.
		select {
		case res = <-in.primaryCh:
		default:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case res = <-in.primaryCh:
			case res = <-in.secondaryCh:
				fromPrimary = false
			}
		}

		// A cursor that ended is dropped (a nil channel never fires);
		// the stream as a whole ends only once both cursors have.
		if res.done {
			if fromPrimary {
				in.primaryCh = nil
			} else {
				in.secondaryCh = nil
			}
			if in.primaryCh != nil || in.secondaryCh != nil {
				continue
			}
		}
		return resultToEvent(res)
	}
}

func resultToEvent(res pumpResult) (*event.Event, error) {
	if res.err != nil {
		return nil, res.err
	}
	if res.done {
		return nil, nil
	}
	ev := res.ev
	return &ev, nil
}

// Close closes the underlying cursor(s).
func (in *Ingest) Close(ctx context.Context) {
	if err := in.primary.Close(ctx); err != nil {
		log.Warnf("failed to close primary change stream: %v", err)
	}
	if in.secondary != nil {
		if err := in.secondary.Close(ctx); err != nil {
			log.Warnf("failed to close secondary change stream: %v", err)
		}
	}
}
