// Package stock implements commodity stock accounting. Every item satisfies
// currentStock == totalReceived - totalDispensed with no count below zero.
package stock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/microplan/internal/metrics"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/store"
)

// Level is the display status of a stock item.
type Level string

const (
	LevelOutOfStock Level = "Out of Stock"
	LevelLow        Level = "Low"
	LevelOK         Level = "OK"
)

// DefaultLowRatio marks an item Low once it falls under this share of
// everything received.
const DefaultLowRatio = 0.2

// Dispense returns item with qty units handed out.
func Dispense(item models.StockItem, qty int) (models.StockItem, error) {
	if qty <= 0 {
		return item, models.NewValidationError("quantity", "must be > 0")
	}
	if qty > item.CurrentStock {
		return item, models.NewValidationError("quantity", fmt.Sprintf("only %d %s in stock", item.CurrentStock, item.Name))
	}
	item.TotalDispensed += qty
	item.CurrentStock -= qty
	return item, nil
}

// Receive returns item with qty units added.
func Receive(item models.StockItem, qty int) (models.StockItem, error) {
	if qty <= 0 {
		return item, models.NewValidationError("quantity", "must be > 0")
	}
	item.TotalReceived += qty
	item.CurrentStock += qty
	return item, nil
}

// Reconcile recomputes currentStock from the ledger totals.
func Reconcile(item models.StockItem) models.StockItem {
	item.CurrentStock = item.TotalReceived - item.TotalDispensed
	return item
}

// Check reports every ledger rule the item violates.
func Check(item models.StockItem) error {
	var errs []models.FieldError
	if item.TotalReceived < 0 {
		errs = append(errs, models.FieldError{Field: "totalReceived", Message: "must be >= 0"})
	}
	if item.TotalDispensed < 0 {
		errs = append(errs, models.FieldError{Field: "totalDispensed", Message: "must be >= 0"})
	}
	if item.CurrentStock < 0 {
		errs = append(errs, models.FieldError{Field: "currentStock", Message: "must be >= 0"})
	}
	if item.CurrentStock != item.TotalReceived-item.TotalDispensed {
		errs = append(errs, models.FieldError{
			Field:   "currentStock",
			Message: fmt.Sprintf("%d does not equal received %d minus dispensed %d", item.CurrentStock, item.TotalReceived, item.TotalDispensed),
		})
	}
	if len(errs) > 0 {
		return models.NewValidationErrors(errs)
	}
	return nil
}

// Status classifies the current stock level.
func Status(item models.StockItem, lowRatio float64) Level {
	switch {
	case item.CurrentStock <= 0:
		return LevelOutOfStock
	case float64(item.CurrentStock) < lowRatio*float64(item.TotalReceived):
		return LevelLow
	default:
		return LevelOK
	}
}

// Line is a stock item with its status, as shown on the dashboard.
type Line struct {
	models.StockItem
	Status Level `json:"status"`
}

// Ledger applies stock movements to the stockItems collection.
type Ledger struct {
	store    store.Store
	lowRatio float64
	logger   *slog.Logger

	// mu serialises read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewLedger creates a ledger. lowRatio <= 0 selects DefaultLowRatio.
func NewLedger(st store.Store, lowRatio float64, logger *slog.Logger) *Ledger {
	if lowRatio <= 0 {
		lowRatio = DefaultLowRatio
	}
	return &Ledger{store: st, lowRatio: lowRatio, logger: logger}
}

// Items returns every stock item, optionally for one facility.
func (l *Ledger) Items(ctx context.Context, facility string) ([]models.StockItem, error) {
	q := store.Query{Collection: store.CollectionStockItems}
	if facility != "" {
		q.Where = []store.Filter{{Field: "facility", Value: facility}}
	}
	docs, err := store.Fetch(ctx, l.store, q)
	if err != nil {
		return nil, fmt.Errorf("fetching stock: %w", err)
	}
	return store.DecodeStockItems(docs, l.logger), nil
}

// Lines returns every stock item with its status.
func (l *Ledger) Lines(ctx context.Context, facility string) ([]Line, error) {
	items, err := l.Items(ctx, facility)
	if err != nil {
		return nil, err
	}
	return Lines(items, l.lowRatio), nil
}

// Line attaches the ledger's status to one item.
func (l *Ledger) Line(item models.StockItem) Line {
	return Line{StockItem: item, Status: Status(item, l.lowRatio)}
}

// Lines attaches a status to each item.
func Lines(items []models.StockItem, lowRatio float64) []Line {
	out := make([]Line, 0, len(items))
	for _, it := range items {
		out = append(out, Line{StockItem: it, Status: Status(it, lowRatio)})
	}
	return out
}

// Get returns one stock item.
func (l *Ledger) Get(ctx context.Context, id string) (*models.StockItem, error) {
	items, err := l.Items(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("%w: stock item %s", models.ErrNotFound, id)
}

// Create adds a new item with an opening balance.
func (l *Ledger) Create(ctx context.Context, name, facility string, opening int) (*models.StockItem, error) {
	if strings.TrimSpace(name) == "" {
		return nil, models.NewValidationError("name", "is required")
	}
	if opening < 0 {
		return nil, models.NewValidationError("opening", "must be >= 0")
	}
	item := models.StockItem{
		ID:            uuid.NewString(),
		Name:          name,
		Facility:      facility,
		TotalReceived: opening,
		CurrentStock:  opening,
	}
	if err := l.write(ctx, item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Dispense hands out qty units of item id.
func (l *Ledger) Dispense(ctx context.Context, id string, qty int) (*models.StockItem, error) {
	item, err := l.apply(ctx, id, func(it models.StockItem) (models.StockItem, error) { return Dispense(it, qty) })
	if err == nil {
		metrics.Add(metrics.StockDispensed, qty)
	}
	return item, err
}

// Receive adds qty units to item id.
func (l *Ledger) Receive(ctx context.Context, id string, qty int) (*models.StockItem, error) {
	return l.apply(ctx, id, func(it models.StockItem) (models.StockItem, error) { return Receive(it, qty) })
}

// ReconcileAll rewrites every item whose current stock disagrees with its
// totals and returns the IDs that changed.
func (l *Ledger) ReconcileAll(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	items, err := l.Items(ctx, "")
	if err != nil {
		return nil, err
	}
	var fixed []string
	for _, it := range items {
		if Check(it) == nil {
			continue
		}
		r := Reconcile(it)
		l.logger.Warn("reconciling stock item", "id", it.ID, "was", it.CurrentStock, "now", r.CurrentStock)
		if err := l.write(ctx, r); err != nil {
			return fixed, err
		}
		fixed = append(fixed, it.ID)
	}
	return fixed, nil
}

func (l *Ledger) apply(ctx context.Context, id string, op func(models.StockItem) (models.StockItem, error)) (*models.StockItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := op(*cur)
	if err != nil {
		return nil, err
	}
	if err := l.write(ctx, next); err != nil {
		return nil, err
	}
	l.logger.Info("stock updated", "id", id, "name", next.Name, "current", next.CurrentStock)
	return &next, nil
}

func (l *Ledger) write(ctx context.Context, item models.StockItem) error {
	doc, err := store.Encode(item)
	if err != nil {
		return err
	}
	l.store.Write(ctx, store.CollectionStockItems, doc)
	return l.store.Flush(ctx)
}
