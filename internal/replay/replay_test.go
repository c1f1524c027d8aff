// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Data-Downs/agentic-legibility-stack-sub000/internal/domain"
)

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func events(offsets ...int) []domain.Event {
	out := make([]domain.Event, 0, len(offsets))
	for i, off := range offsets {
		out = append(out, domain.Event{
			ID:        fmt.Sprintf("evt-%d", i),
			Timestamp: base.Add(time.Duration(off) * time.Second),
			Type:      domain.EventLLMRequest,
		})
	}
	return out
}

func ids(evs []domain.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.ID)
	}
	return out
}

func TestLoadSortsAndResets(t *testing.T) {
	e := New()
	e.Load(events(3, 1, 2, 1))

	if e.Len() != 4 || e.Position() != -1 {
		t.Fatalf("expected 4 events before start got len=%d pos=%d", e.Len(), e.Position())
	}
	if _, ok := e.Current(); ok {
		t.Fatal("expected no current event before the first step")
	}

	var order []string
	for {
		f, ok := e.Step()
		if !ok {
			break
		}
		order = append(order, f.Event.ID)
	}
	want := []string{"evt-1", "evt-3", "evt-2", "evt-0"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected %v got %v", want, order)
	}

	e.Load(events(0))
	if e.Position() != -1 {
		t.Fatalf("expected reload to reset cursor got %d", e.Position())
	}
}

func TestStepStopsAtLastEvent(t *testing.T) {
	e := New()
	e.Load(events(0, 1))

	e.Step()
	f, ok := e.Step()
	if !ok || f.Index != 1 || f.Total != 2 {
		t.Fatalf("unexpected frame %+v ok=%v", f, ok)
	}
	if _, ok := e.Step(); ok {
		t.Fatal("expected step past the end to fail")
	}
	if e.Position() != 1 {
		t.Fatalf("expected cursor to stay at 1 got %d", e.Position())
	}
}

func TestStepBackStopsAtFirstEvent(t *testing.T) {
	e := New()
	e.Load(events(0, 1, 2))

	if _, ok := e.StepBack(); ok {
		t.Fatal("expected step back before start to fail")
	}
	e.Step()
	if _, ok := e.StepBack(); ok {
		t.Fatal("expected step back at index 0 to fail")
	}
	if e.Position() != 0 {
		t.Fatalf("expected cursor to stay at 0 got %d", e.Position())
	}

	e.JumpTo(2)
	f, ok := e.StepBack()
	if !ok || f.Index != 1 {
		t.Fatalf("expected step back to index 1 got %+v ok=%v", f, ok)
	}
}

func TestJumpToBounds(t *testing.T) {
	e := New()
	e.Load(events(0, 1, 2))
	e.JumpTo(1)

	for _, idx := range []int{-1, 3, 100} {
		if _, ok := e.JumpTo(idx); ok {
			t.Fatalf("expected JumpTo(%d) to fail", idx)
		}
		if e.Position() != 1 {
			t.Fatalf("expected cursor unchanged after JumpTo(%d) got %d", idx, e.Position())
		}
	}

	f, ok := e.JumpTo(2)
	if !ok || f.Event.ID != "evt-2" {
		t.Fatalf("unexpected frame %+v ok=%v", f, ok)
	}
}

func TestEventsToHere(t *testing.T) {
	e := New()
	e.Load(events(0, 1, 2))

	if got := e.EventsToHere(); len(got) != 0 {
		t.Fatalf("expected empty prefix before start got %v", ids(got))
	}

	e.JumpTo(1)
	got := e.EventsToHere()
	if fmt.Sprint(ids(got)) != "[evt-0 evt-1]" {
		t.Fatalf("unexpected prefix %v", ids(got))
	}

	got[0].ID = "mutated"
	if cur, _ := e.JumpTo(0); cur.Event.ID != "evt-0" {
		t.Fatal("expected prefix to be a copy")
	}
}

func TestEmptyEngine(t *testing.T) {
	e := New()
	if _, ok := e.Step(); ok {
		t.Fatal("expected step on empty engine to fail")
	}
	if _, ok := e.JumpTo(0); ok {
		t.Fatal("expected jump on empty engine to fail")
	}
}

type fakeSource struct {
	events []domain.Event
	err    error
}

func (f fakeSource) QueryByTrace(context.Context, string) ([]domain.Event, error) {
	return f.events, f.err
}

func TestLoadTrace(t *testing.T) {
	e, err := LoadTrace(context.Background(), fakeSource{events: events(2, 1)}, "trace-1")
	if err != nil {
		t.Fatalf("load trace: %v", err)
	}
	if f, ok := e.Step(); !ok || f.Event.ID != "evt-1" {
		t.Fatalf("expected sorted trace got %+v ok=%v", f, ok)
	}

	boom := errors.New("boom")
	if _, err := LoadTrace(context.Background(), fakeSource{err: boom}, "trace-1"); !errors.Is(err, boom) {
		t.Fatalf("expected source error got %v", err)
	}
}
