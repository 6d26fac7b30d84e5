package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/microplan/internal/models"
)

// PermissionFunc decides whether an operation on path is allowed. A non-nil
// error rejects it. doc is empty for reads.
type PermissionFunc func(op, path string, doc Document) error

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithPermission installs rule checks in the style of a hosted document
// database's security rules.
func WithPermission(fn PermissionFunc) MemoryOption {
	return func(m *MemoryStore) { m.permission = fn }
}

// MemoryStore is an in-memory implementation of Store for tests and demo mode.
type MemoryStore struct {
	mu         sync.RWMutex
	data       map[string]map[string][]byte
	closed     bool
	permission PermissionFunc
	hub        *hub
	errs       *errorSink
	logger     *slog.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *slog.Logger, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		data:   make(map[string]map[string][]byte),
		errs:   newErrorSink(logger),
		logger: logger,
	}
	m.hub = newHub(m.load, logger)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) load(collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]Document, 0, len(m.data[collection]))
	for id, raw := range m.data[collection] {
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", Path(collection, id), err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Subscribe implements Store.
func (m *MemoryStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if q.Collection == "" {
		return nil, models.NewValidationError("collection", "is required")
	}
	if m.permission != nil {
		if err := m.permission(OpRead, q.Collection, Document{}); err != nil {
			return nil, &models.StoreError{Path: q.Collection, Operation: OpRead, Cause: err}
		}
	}
	return m.hub.subscribe(ctx, q)
}

// Write implements Store. A document without an ID is assigned a random one.
func (m *MemoryStore) Write(_ context.Context, collection string, doc Document) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	path := Path(collection, doc.ID)
	reject := func(cause error) {
		m.errs.publish(&models.StoreError{Path: path, Operation: OpWrite, AttemptedData: doc.Fields, Cause: cause})
	}

	if m.permission != nil {
		if err := m.permission(OpWrite, path, doc); err != nil {
			reject(err)
			return
		}
	}
	raw, err := encodeFields(doc.Fields)
	if err != nil {
		reject(err)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		reject(ErrClosed)
		return
	}
	if m.data[collection] == nil {
		m.data[collection] = make(map[string][]byte)
	}
	m.data[collection][doc.ID] = raw
	m.mu.Unlock()

	m.logger.Debug("document written", "path", path)
	m.hub.publish(collection)
}

// Flush implements Store. Memory writes are applied synchronously.
func (m *MemoryStore) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Errors implements Store.
func (m *MemoryStore) Errors() <-chan *models.StoreError { return m.errs.ch }

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.close()
	m.errs.close()
	return nil
}

// Len returns the number of documents in collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[collection])
}

// Subscribers returns the number of live subscriptions.
func (m *MemoryStore) Subscribers() int { return m.hub.count() }
