package cascade

import (
	"context"
	"sync"
	"testing"
	"time"

	"ingresso-cascade-cli/authguard"
	"ingresso-cascade-cli/clock"
	"ingresso-cascade-cli/seats"
)

func rec(id string) Record {
	return Record{ID: id, DisplayName: id}
}

type fetchCall struct {
	stage      Stage
	lineage    Lineage
	generation uint64
	release    chan struct{}
}

// scriptSource answers fetches through respond. With hold set, every call
// waits until the test releases it.
type scriptSource struct {
	mu      sync.Mutex
	calls   []*fetchCall
	hold    bool
	respond func(stage Stage, lineage Lineage) ([]Record, error)
}

func (s *scriptSource) Fetch(ctx context.Context, stage Stage, lineage Lineage, generation uint64) FetchResult {
	call := &fetchCall{stage: stage, lineage: lineage, generation: generation, release: make(chan struct{})}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	hold := s.hold
	s.mu.Unlock()
	if hold {
		<-call.release
	}
	records, err := s.respond(stage, lineage)
	if err != nil {
		return Fail(stage, generation, err)
	}
	return Ok(stage, generation, records)
}

func (s *scriptSource) call(t *testing.T, i int) *fetchCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.calls) > i {
			call := s.calls[i]
			s.mu.Unlock()
			return call
		}
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("fetch call %d never happened", i)
	return nil
}

func (s *scriptSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubSeats struct {
	full        []seats.SeatRecord
	purchasable []seats.SeatRecord
	err         error
}

func (s *stubSeats) FetchFullRoster(ctx context.Context, key seats.ShowKey) ([]seats.SeatRecord, error) {
	return s.full, s.err
}

func (s *stubSeats) FetchPurchasable(ctx context.Context, key seats.ShowKey) ([]seats.SeatRecord, error) {
	return s.purchasable, s.err
}

func seatAt(row, col int) seats.SeatRecord {
	return seats.SeatRecord{Coordinate: seats.SeatCoordinate{Row: row, Col: col}, Identifier: seats.SeatCoordinate{Row: row, Col: col}.String()}
}

type harness struct {
	ctrl     *Controller
	source   *scriptSource
	seats    *stubSeats
	clock    *clock.FakeClock
	dispatch chan func()
	events   []Event
}

type harnessOption func(*Options)

func manual(stages ...Stage) harnessOption {
	return func(o *Options) { o.ManualStages = stages }
}

func newHarness(t *testing.T, respond func(Stage, Lineage) ([]Record, error), opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		source: &scriptSource{respond: respond},
		seats: &stubSeats{
			full:        []seats.SeatRecord{seatAt(1, 1), seatAt(1, 2), seatAt(1, 3)},
			purchasable: []seats.SeatRecord{seatAt(1, 1), seatAt(1, 3)},
		},
		clock:    clock.Fake(time.Date(2026, 2, 3, 19, 0, 0, 0, time.UTC)),
		dispatch: make(chan func(), 128),
	}
	options := Options{
		Dispatcher: DispatcherFunc(func(fn func()) { h.dispatch <- fn }),
		Observer:   func(e Event) { h.events = append(h.events, e) },
		Clock:      h.clock,
	}
	for _, opt := range opts {
		opt(&options)
	}
	h.ctrl = New(h.source, h.seats, authguard.ExtractorFunc(func(error) bool { return false }), options)
	return h
}

// step runs exactly one dispatched completion.
func (h *harness) step(t *testing.T) {
	t.Helper()
	select {
	case fn := <-h.dispatch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no completion dispatched")
	}
}

// settle runs completions until no stage is loading.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	for h.loading() {
		h.step(t)
	}
}

func (h *harness) loading() bool {
	state := h.ctrl.State()
	if state.Blocked {
		return false
	}
	for _, slot := range state.Slots {
		if slot.State == SlotLoading {
			return true
		}
	}
	return false
}

func (h *harness) count(kind EventKind) int {
	n := 0
	for _, e := range h.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) option(t *testing.T, stage Stage, id string) Record {
	t.Helper()
	option, ok := h.ctrl.Slot(stage).Option(id)
	if !ok {
		t.Fatalf("stage %s has no option %q (state %s)", stage, id, h.ctrl.Slot(stage).State)
	}
	return option
}

// chain answers every stage with one option derived from the parent.
func chain(stage Stage, lineage Lineage) ([]Record, error) {
	if parent := lineage.Parent(); parent != nil {
		return []Record{rec(parent.ID + "/" + stage.String())}, nil
	}
	return []Record{rec("Beijing"), rec("Shanghai")}, nil
}
