package cqrs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type mapViewRepository[V any] struct {
	mu      sync.Mutex
	records map[StreamID]ViewRecord[V]
	saves   int
	failErr error
}

func newMapViewRepository[V any]() *mapViewRepository[V] {
	return &mapViewRepository[V]{records: make(map[StreamID]ViewRecord[V])}
}

func (r *mapViewRepository[V]) Load(ctx context.Context, id StreamID) (ViewRecord[V], bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok, nil
}

func (r *mapViewRepository[V]) Save(ctx context.Context, rec ViewRecord[V]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.saves++
	r.records[rec.ID] = rec
	return nil
}

func sumProjector(view int, env *Envelope) int {
	if e, ok := env.Event.(incremented); ok {
		return view + e.By
	}
	return view
}

func TestViewProcessorIsIdempotent(t *testing.T) {
	repo := newMapViewRepository[int]()
	p := NewViewProcessor("sum", repo, sumProjector, nil)
	stream := NewStreamID("counter", "c1")
	history := counterHistory(1, 2, 3)

	if err := p.Dispatch(t.Context(), stream, history); err != nil {
		t.Fatal(err)
	}
	if err := p.Dispatch(t.Context(), stream, history[1:]); err != nil {
		t.Fatal(err)
	}

	rec, found, err := p.LoadRecord(t.Context(), stream)
	if err != nil || !found {
		t.Fatalf("expected record, got found=%v err=%v", found, err)
	}
	if rec.View != 6 || rec.LastSequence != 3 {
		t.Fatalf("expected 6 at 3, got %d at %d", rec.View, rec.LastSequence)
	}
	if repo.saves != 1 {
		t.Fatalf("replayed events must not save again, saved %d times", repo.saves)
	}
}

func TestViewProcessorLoadViewNotFound(t *testing.T) {
	p := NewViewProcessor("sum", newMapViewRepository[int](), sumProjector, nil)

	_, found, err := p.LoadView(t.Context(), NewStreamID("counter", "nope"))
	if err != nil || found {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}
}

func TestViewProcessorFillsGapFromStore(t *testing.T) {
	history := counterHistory(1, 2, 3)
	store := &testStore{loadFn: historyAfter(history)}
	repo := newMapViewRepository[int]()
	p := NewViewProcessor("sum", repo, sumProjector, store)
	stream := NewStreamID("counter", "c1")

	// the batch holding sequence 3 overtook the one holding 1 and 2
	if err := p.Dispatch(t.Context(), stream, history[2:]); err != nil {
		t.Fatal(err)
	}
	if err := p.Dispatch(t.Context(), stream, history[:2]); err != nil {
		t.Fatal(err)
	}

	view, _, _ := p.LoadView(t.Context(), stream)
	if view != 6 {
		t.Fatalf("expected all events applied once, got %d", view)
	}
	if len(store.loads) != 1 || store.loads[0] != 0 {
		t.Fatalf("expected a single gap load after 0, got %v", store.loads)
	}
}

func TestViewProcessorRefusesGapWithoutStore(t *testing.T) {
	repo := newMapViewRepository[int]()
	p := NewViewProcessor("sum", repo, sumProjector, nil)
	stream := NewStreamID("counter", "c1")
	history := counterHistory(1, 2, 3)

	err := p.Dispatch(t.Context(), stream, history[2:])
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
	if _, found, _ := p.LoadView(t.Context(), stream); found {
		t.Fatal("a batch past a gap must not be applied")
	}

	if err := p.Dispatch(t.Context(), stream, history); err != nil {
		t.Fatal(err)
	}
	view, _, _ := p.LoadView(t.Context(), stream)
	if view != 6 {
		t.Fatalf("expected 6 once the gap is filled, got %d", view)
	}
}

func TestViewProcessorCatchUp(t *testing.T) {
	history := counterHistory(5, 5)
	store := &testStore{loadFn: historyAfter(history)}
	p := NewViewProcessor("sum", newMapViewRepository[int](), sumProjector, store)
	stream := NewStreamID("counter", "c1")

	if err := p.CatchUp(t.Context(), stream); err != nil {
		t.Fatal(err)
	}
	view, found, _ := p.LoadView(t.Context(), stream)
	if !found || view != 10 {
		t.Fatalf("expected 10, got %d (found=%v)", view, found)
	}

	if err := NewViewProcessor("sum", newMapViewRepository[int](), sumProjector, nil).CatchUp(t.Context(), stream); err == nil {
		t.Fatal("expected catch up without store to fail")
	}
}

func TestViewProcessorSaveFailure(t *testing.T) {
	repo := newMapViewRepository[int]()
	repo.failErr = errors.New("disk gone")
	p := NewViewProcessor("sum", repo, sumProjector, nil)

	err := p.Dispatch(t.Context(), NewStreamID("counter", "c1"), counterHistory(1))
	if Classify(err) != KindStorage {
		t.Fatalf("expected view store error, got %v", err)
	}
}

type funcProcessor struct {
	name string
	fn   func(ctx context.Context, stream StreamID, events []*Envelope) error
}

func (p funcProcessor) Name() string { return p.name }
func (p funcProcessor) Dispatch(ctx context.Context, stream StreamID, events []*Envelope) error {
	return p.fn(ctx, stream, events)
}

func TestSyncDispatcherIsolatesFailures(t *testing.T) {
	var delivered atomic.Int32
	var mu sync.Mutex
	failures := map[string]error{}

	ok := funcProcessor{name: "ok", fn: func(ctx context.Context, stream StreamID, events []*Envelope) error {
		delivered.Add(int32(len(events)))
		return nil
	}}
	failing := funcProcessor{name: "failing", fn: func(ctx context.Context, stream StreamID, events []*Envelope) error {
		return errors.New("view store unavailable")
	}}
	panicking := funcProcessor{name: "panicking", fn: func(ctx context.Context, stream StreamID, events []*Envelope) error {
		panic("boom")
	}}

	d := NewSyncDispatcher(func(ctx context.Context, processor string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures[processor] = err
	}, failing, panicking, ok)

	d.Dispatch(t.Context(), NewStreamID("counter", "c1"), counterHistory(1, 2))

	if delivered.Load() != 2 {
		t.Fatalf("expected healthy processor to get 2 events, got %d", delivered.Load())
	}
	if len(failures) != 2 || failures["failing"] == nil || failures["panicking"] == nil {
		t.Fatalf("expected both failures reported, got %v", failures)
	}
}

func TestReplayGroupsByStream(t *testing.T) {
	a := counterHistory(1, 2)
	b := NewEnvelope(NewStreamID("counter", "c2"), 1, incremented{By: 5}, nil)
	all := []*Envelope{a[0], &b, a[1]}
	for i, env := range all {
		env.GlobalPosition = uint64(i + 1)
	}

	store := &allStore{testStore: &testStore{}, all: all}
	var batches []int
	recorder := funcProcessor{name: "recorder", fn: func(ctx context.Context, stream StreamID, events []*Envelope) error {
		batches = append(batches, len(events))
		return nil
	}}

	position, err := Replay(t.Context(), store, 0, recorder)
	if err != nil {
		t.Fatal(err)
	}
	if position != 3 {
		t.Fatalf("expected position 3, got %d", position)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 stream batches, got %v", batches)
	}
}

type allStore struct {
	*testStore
	all []*Envelope
}

func (s *allStore) LoadFromAll(ctx context.Context, after uint64) (*Iterator[*Envelope], error) {
	var out []*Envelope
	for _, env := range s.all {
		if env.GlobalPosition > after {
			out = append(out, env)
		}
	}
	return NewSliceIterator(out), nil
}
