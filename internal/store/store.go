// Package store is the record store collaborator: realtime collection
// subscriptions plus fire-and-forget writes whose failures arrive on an
// asynchronous error channel.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ajitpratap0/microplan/internal/models"
)

// Collection names.
const (
	CollectionOutreachVisits  = "outreachVisits"
	CollectionHotspotProfiles = "hotspotProfiles"
	CollectionKPRegistry      = "kpRegistry"
	CollectionStockItems      = "stockItems"
)

// Collections lists every collection the application reads or writes.
var Collections = []string{
	CollectionOutreachVisits,
	CollectionHotspotProfiles,
	CollectionKPRegistry,
	CollectionStockItems,
}

// Operation names used in permission checks and StoreError.
const (
	OpRead  = "read"
	OpWrite = "write"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("store closed")

// Document is one record as the store sees it.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Path returns the document path "collection/id".
func Path(collection, id string) string {
	return collection + "/" + id
}

// Filter is an equality constraint on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Where      []Filter
}

// Matches reports whether doc satisfies every filter. Values are compared by
// their formatted form so that decoded JSON numbers match Go ints.
func (q Query) Matches(doc Document) bool {
	for _, f := range q.Where {
		v, ok := doc.Fields[f.Field]
		if !ok || fmt.Sprint(v) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

// Snapshot is the full current result set of a subscription.
type Snapshot struct {
	Collection string
	Docs       []Document
}

// Store defines the record store contract.
type Store interface {
	// Subscribe streams snapshots of q. The first snapshot is the current
	// state; later snapshots follow writes in the order they were applied.
	// Slow consumers only ever miss intermediate states, never the latest one.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)

	// Write upserts doc into collection. It never reports failure directly:
	// rejected or failed writes are published on Errors.
	Write(ctx context.Context, collection string, doc Document)

	// Flush waits until every write submitted before the call has been
	// applied or rejected.
	Flush(ctx context.Context) error

	// Errors delivers write failures. It is closed by Close.
	Errors() <-chan *models.StoreError

	// Close ends all subscriptions and releases resources.
	Close() error
}

// Fetch returns the current documents for q and unsubscribes.
func Fetch(ctx context.Context, st Store, q Query) ([]Document, error) {
	sub, err := st.Subscribe(ctx, q)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	select {
	case snap, ok := <-sub.C():
		if !ok {
			return nil, ErrClosed
		}
		return snap.Docs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// encodeFields and decodeFields give every backend the same stored form:
// numbers come back as float64 and nested values are never shared.
func encodeFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	return json.Marshal(fields)
}

func decodeFields(raw []byte) (map[string]any, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
