// Package outbox keeps writes the record store rejected so they can be shown
// as unsynced and retried. Rejected writes are never rolled back locally.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/microplan/internal/metrics"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/store"
)

// DefaultMaxAttempts is the number of failures after which an entry is dropped.
const DefaultMaxAttempts = 5

// Entry is one unsynced write.
type Entry struct {
	Path       string         `json:"path"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"documentId"`
	Operation  string         `json:"operation"`
	Data       map[string]any `json:"data,omitempty"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"lastError"`
	FailedAt   time.Time      `json:"failedAt"`
}

// Report summarizes the results of a retry pass.
type Report struct {
	Retried   int `json:"retried"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
}

// Notifier is told about every rejected write as it is recorded.
type Notifier func(e *models.StoreError)

// Outbox collects rejected writes from a store's error channel.
type Outbox struct {
	store       store.Store
	maxAttempts int
	notify      Notifier
	logger      *slog.Logger

	mu       sync.Mutex
	pending  map[string]*Entry
	failures map[string]int
	// resubmitted holds the paths written by the last pass.
	resubmitted map[string]bool
}

// New creates an outbox. maxAttempts <= 0 selects DefaultMaxAttempts and
// notify may be nil.
func New(st store.Store, maxAttempts int, notify Notifier, logger *slog.Logger) *Outbox {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Outbox{
		store:       st,
		maxAttempts: maxAttempts,
		notify:      notify,
		logger:      logger,
		pending:     make(map[string]*Entry),
		failures:    make(map[string]int),
		resubmitted: make(map[string]bool),
	}
}

// Watch records store errors until the error channel closes or ctx is done.
func (o *Outbox) Watch(ctx context.Context) {
	errs := o.store.Errors()
	for {
		select {
		case e, ok := <-errs:
			if !ok {
				return
			}
			o.Record(e)
		case <-ctx.Done():
			return
		}
	}
}

// Record adds a rejected write to the outbox.
func (o *Outbox) Record(e *models.StoreError) {
	collection, id, _ := strings.Cut(e.Path, "/")
	data, _ := e.AttemptedData.(map[string]any)
	msg := ""
	if e.Cause != nil {
		msg = e.Cause.Error()
	}

	o.mu.Lock()
	o.failures[e.Path]++
	entry := &Entry{
		Path:       e.Path,
		Collection: collection,
		DocumentID: id,
		Operation:  e.Operation,
		Data:       data,
		Attempts:   o.failures[e.Path],
		LastError:  msg,
		FailedAt:   time.Now().UTC(),
	}
	o.pending[e.Path] = entry
	o.mu.Unlock()

	o.logger.Warn("write not synced", "path", e.Path, "attempts", entry.Attempts, "error", msg)
	if o.notify != nil {
		o.notify(e)
	}
}

// Pending returns the unsynced writes ordered by path.
func (o *Outbox) Pending() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, 0, len(o.pending))
	for _, e := range o.pending {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Run resubmits every pending write once. Entries that already failed
// maxAttempts times are dropped instead. Writes that fail again come back
// through Watch.
func (o *Outbox) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	o.mu.Lock()
	o.settleLocked()
	var retry []*Entry
	for path, e := range o.pending {
		delete(o.pending, path)
		if e.Attempts >= o.maxAttempts {
			o.logger.Error("dropping unsynced write", "path", path, "attempts", e.Attempts, "last_error", e.LastError)
			delete(o.failures, path)
			report.Dropped++
			continue
		}
		retry = append(retry, e)
		o.resubmitted[path] = true
	}
	o.mu.Unlock()

	sort.Slice(retry, func(i, j int) bool { return retry[i].Path < retry[j].Path })
	for i, e := range retry {
		if err := ctx.Err(); err != nil {
			o.requeue(retry[i:])
			return report, err
		}
		o.store.Write(ctx, e.Collection, store.Document{ID: e.DocumentID, Fields: e.Data})
		metrics.Inc(metrics.OutboxRetried)
		report.Retried++
	}
	if err := o.store.Flush(ctx); err != nil {
		return report, fmt.Errorf("flushing retried writes: %w", err)
	}

	report.Remaining = o.Len()
	o.logger.Info("outbox pass complete", "retried", report.Retried, "dropped", report.Dropped)
	return report, nil
}

// Settle forgets the failure count of every write the last pass resubmitted
// that has not failed again since. Run settles before each pass.
func (o *Outbox) Settle() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settleLocked()
}

func (o *Outbox) settleLocked() {
	for path := range o.resubmitted {
		if _, failed := o.pending[path]; !failed {
			delete(o.failures, path)
		}
		delete(o.resubmitted, path)
	}
}

func (o *Outbox) requeue(entries []*Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range entries {
		if _, ok := o.pending[e.Path]; !ok {
			o.pending[e.Path] = e
		}
	}
}

// Len returns the number of pending entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Restore queues entries saved from an earlier Pending call, such as a dump
// taken from a device that went offline. Entries without a path are skipped.
func (o *Outbox) Restore(entries []Entry) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for i := range entries {
		e := entries[i]
		if e.Path == "" {
			e.Path = store.Path(e.Collection, e.DocumentID)
		}
		collection, id, ok := strings.Cut(e.Path, "/")
		if !ok || collection == "" || id == "" {
			o.logger.Warn("skipping outbox entry without a document path", "path", e.Path)
			continue
		}
		e.Collection, e.DocumentID = collection, id
		if e.Operation == "" {
			e.Operation = store.OpWrite
		}
		if e.Attempts > o.failures[e.Path] {
			o.failures[e.Path] = e.Attempts
		}
		e.Attempts = o.failures[e.Path]
		o.pending[e.Path] = &e
		n++
	}
	return n
}

// Collect records every store error already waiting on the error channel and
// returns how many it took. It does not block.
func (o *Outbox) Collect() int {
	n := 0
	for {
		select {
		case e, ok := <-o.store.Errors():
			if !ok {
				return n
			}
			o.Record(e)
			n++
		default:
			return n
		}
	}
}
