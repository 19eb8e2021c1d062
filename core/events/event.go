package events

import (
	"sync"

	"ponzirep/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout forwards each event to every non-nil emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, target := range f {
		if target != nil {
			target.Emit(evt)
		}
	}
}

// Buffer holds events emitted during a transition until the transition
// either commits (Flush) or aborts (Discard).
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Flush forwards the buffered events to target in emission order.
func (b *Buffer) Flush(target Emitter) {
	if b == nil {
		return
	}
	if target != nil {
		for _, evt := range b.pending {
			target.Emit(evt)
		}
	}
	b.pending = nil
}

// Discard drops the buffered events.
func (b *Buffer) Discard() {
	if b == nil {
		return
	}
	b.pending = nil
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pending)
}

// Record is a committed event with its position in the log.
type Record struct {
	Sequence int64        `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Recorder keeps the most recent committed events in memory and optionally
// forwards them to another emitter.
type Recorder struct {
	mu      sync.RWMutex
	limit   int
	next    int64
	records []Record
	forward Emitter
	subs    map[int]chan Record
	subID   int
}

// NewRecorder creates a recorder retaining at most limit events. A
// non-positive limit defaults to 1024.
func NewRecorder(limit int, forward Emitter) *Recorder {
	if limit <= 0 {
		limit = 1024
	}
	return &Recorder{limit: limit, forward: forward}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	r.mu.Lock()
	rec := Record{Sequence: r.next, Event: payload.Clone()}
	r.records = append(r.records, rec)
	r.next++
	if len(r.records) > r.limit {
		r.records = append([]Record(nil), r.records[len(r.records)-r.limit:]...)
	}
	for id, ch := range r.subs {
		select {
		case ch <- Record{Sequence: rec.Sequence, Event: rec.Event.Clone()}:
		default:
			// Subscriber fell behind; closing lets it resume from Since.
			close(ch)
			delete(r.subs, id)
		}
	}
	forward := r.forward
	r.mu.Unlock()
	if forward != nil {
		forward.Emit(evt)
	}
}

// Since returns the retained records with a sequence >= from.
func (r *Recorder) Since(from int64) []Record {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Sequence >= from {
			out = append(out, Record{Sequence: rec.Sequence, Event: rec.Event.Clone()})
		}
	}
	return out
}

// Subscribe returns the retained records with a sequence >= from and a
// channel receiving every later record. The channel is closed when cancel is
// called or when the subscriber cannot keep up with buffer pending records.
func (r *Recorder) Subscribe(from int64, buffer int) ([]Record, <-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	r.mu.Lock()
	backlog := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Sequence >= from {
			backlog = append(backlog, Record{Sequence: rec.Sequence, Event: rec.Event.Clone()})
		}
	}
	if r.subs == nil {
		r.subs = make(map[int]chan Record)
	}
	id := r.subID
	r.subID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if sub, ok := r.subs[id]; ok {
				close(sub)
				delete(r.subs, id)
			}
		})
	}
	return backlog, ch, cancel
}

// Subscribers reports how many subscriptions are live.
func (r *Recorder) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
