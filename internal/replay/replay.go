// SPDX-License-Identifier: Apache-2.0

// Package replay steps through a loaded slice of events for inspection
// tooling. It never touches storage; an Engine belongs to one caller.
package replay

import (
	"context"
	"sort"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
)

// Frame is the event under the cursor with its position.
type Frame struct {
	Event domain.Event `json:"event"`
	Index int          `json:"index"`
	Total int          `json:"total"`
}

// Engine is a bounded cursor. Position -1 means before the first event.
type Engine struct {
	events []domain.Event
	pos    int
}

func New() *Engine {
	return &Engine{pos: -1}
}

// Load replaces the events, sorted ascending by timestamp with the input
// order kept for ties, and resets the cursor to before the start.
func (e *Engine) Load(events []domain.Event) {
	e.events = append([]domain.Event(nil), events...)
	sort.SliceStable(e.events, func(i, j int) bool {
		return e.events[i].Timestamp.Before(e.events[j].Timestamp)
	})
	e.pos = -1
}

func (e *Engine) Len() int {
	return len(e.events)
}

func (e *Engine) Position() int {
	return e.pos
}

// Step advances one event. At the last event it reports false and stays.
func (e *Engine) Step() (Frame, bool) {
	if e.pos+1 >= len(e.events) {
		return Frame{}, false
	}
	e.pos++
	return e.frame(), true
}

// StepBack moves back one event. At the first event or before it, it
// reports false and stays.
func (e *Engine) StepBack() (Frame, bool) {
	if e.pos <= 0 {
		return Frame{}, false
	}
	e.pos--
	return e.frame(), true
}

// JumpTo moves to index. An out of range index reports false and leaves the
// cursor where it was.
func (e *Engine) JumpTo(index int) (Frame, bool) {
	if index < 0 || index >= len(e.events) {
		return Frame{}, false
	}
	e.pos = index
	return e.frame(), true
}

func (e *Engine) Current() (domain.Event, bool) {
	if e.pos < 0 || e.pos >= len(e.events) {
		return domain.Event{}, false
	}
	return e.events[e.pos], true
}

// EventsToHere returns the events up to and including the cursor.
func (e *Engine) EventsToHere() []domain.Event {
	if e.pos < 0 {
		return []domain.Event{}
	}
	return append([]domain.Event(nil), e.events[:e.pos+1]...)
}

func (e *Engine) frame() Frame {
	return Frame{
		Event: e.events[e.pos],
		Index: e.pos,
		Total: len(e.events),
	}
}

type TraceSource interface {
	QueryByTrace(ctx context.Context, traceID string) ([]domain.Event, error)
}

// LoadTrace builds an engine over one trace's events.
func LoadTrace(ctx context.Context, source TraceSource, traceID string) (*Engine, error) {
	events, err := source.QueryByTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	e := New()
	e.Load(events)
	return e, nil
}
