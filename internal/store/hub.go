package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ajitpratap0/microplan/internal/metrics"
	"github.com/ajitpratap0/microplan/internal/models"
)

// loadFunc returns every document of a collection, sorted by ID.
type loadFunc func(collection string) ([]Document, error)

// Subscription is a live query. Receive snapshots from C until it is closed.
type Subscription struct {
	ch    chan Snapshot
	close func()
}

// C returns the snapshot channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() { s.close() }

type subscriber struct {
	query Query
	mu    sync.Mutex
	ch    chan Snapshot
	done  bool
}

// offer replaces any undelivered snapshot with snap so the consumer always
// sees the latest state and the publisher never blocks.
func (s *subscriber) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *subscriber) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.ch)
	}
}

// hub fans snapshots out to subscribers. Snapshots are computed under mu so
// that each subscriber observes states in the order writes were applied.
type hub struct {
	mu     sync.Mutex
	load   loadFunc
	subs   map[uint64]*subscriber
	next   uint64
	closed bool
	logger *slog.Logger
}

func newHub(load loadFunc, logger *slog.Logger) *hub {
	return &hub{load: load, subs: make(map[uint64]*subscriber), logger: logger}
}

func (h *hub) subscribe(ctx context.Context, q Query) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	docs, err := h.load(q.Collection)
	if err != nil {
		return nil, err
	}

	id := h.next
	h.next++
	sub := &subscriber{query: q, ch: make(chan Snapshot, 1)}
	sub.ch <- snapshotFor(q, docs)
	h.subs[id] = sub

	stop := context.AfterFunc(ctx, func() { h.remove(id) })
	return &Subscription{
		ch: sub.ch,
		close: func() {
			stop()
			h.remove(id)
		},
	}, nil
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.finish()
	}
}

// publish delivers a fresh snapshot of collection to its subscribers.
func (h *hub) publish(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var docs []Document
	loaded := false
	for _, sub := range h.subs {
		if sub.query.Collection != collection {
			continue
		}
		if !loaded {
			var err error
			if docs, err = h.load(collection); err != nil {
				h.logger.Error("loading snapshot", "collection", collection, "error", err)
				return
			}
			loaded = true
		}
		sub.offer(snapshotFor(sub.query, docs))
	}
}

func (h *hub) close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[uint64]*subscriber{}
	h.closed = true
	h.mu.Unlock()
	for _, sub := range subs {
		sub.finish()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func snapshotFor(q Query, docs []Document) Snapshot {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	return Snapshot{Collection: q.Collection, Docs: out}
}

// errorSink is the asynchronous write-error channel shared by the backends.
type errorSink struct {
	mu     sync.Mutex
	ch     chan *models.StoreError
	closed bool
	logger *slog.Logger
}

const errorBuffer = 64

func newErrorSink(logger *slog.Logger) *errorSink {
	return &errorSink{ch: make(chan *models.StoreError, errorBuffer), logger: logger}
}

func (s *errorSink) publish(e *models.StoreError) {
	metrics.Inc(metrics.StoreWriteErrors)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("store error after close", "path", e.Path, "error", e.Cause)
		return
	}
	select {
	case s.ch <- e:
	default:
		s.logger.Error("store error channel full, dropping", "path", e.Path, "error", e.Cause)
	}
}

func (s *errorSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
