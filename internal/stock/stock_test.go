package stock_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/stock"
	"github.com/ajitpratap0/microplan/internal/store"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func item(received, dispensed int) models.StockItem {
	return models.StockItem{ID: "s1", Name: "Male condoms", TotalReceived: received, TotalDispensed: dispensed, CurrentStock: received - dispensed}
}

func TestDispense(t *testing.T) {
	got, err := stock.Dispense(item(100, 0), 30)
	require.NoError(t, err)
	assert.Equal(t, 70, got.CurrentStock)
	assert.Equal(t, 30, got.TotalDispensed)
	assert.NoError(t, stock.Check(got))
}

func TestDispense_Rejects(t *testing.T) {
	in := item(10, 5)
	for _, qty := range []int{0, -3, 6} {
		got, err := stock.Dispense(in, qty)
		assert.ErrorIs(t, err, models.ErrValidation, "qty %d", qty)
		assert.Equal(t, in, got)
	}
}

func TestReceive(t *testing.T) {
	got, err := stock.Receive(item(10, 10), 50)
	require.NoError(t, err)
	assert.Equal(t, 50, got.CurrentStock)
	assert.Equal(t, 60, got.TotalReceived)

	_, err = stock.Receive(got, 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCheckAndReconcile(t *testing.T) {
	drifted := models.StockItem{TotalReceived: 100, TotalDispensed: 40, CurrentStock: 55}
	assert.ErrorIs(t, stock.Check(drifted), models.ErrValidation)
	fixed := stock.Reconcile(drifted)
	assert.Equal(t, 60, fixed.CurrentStock)
	assert.NoError(t, stock.Check(fixed))

	negative := models.StockItem{TotalReceived: 5, TotalDispensed: 10, CurrentStock: -5}
	var ve *models.ValidationError
	require.ErrorAs(t, stock.Check(negative), &ve)
	assert.Equal(t, "currentStock", ve.Errors[0].Field)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		item models.StockItem
		want stock.Level
	}{
		{"empty", item(100, 100), stock.LevelOutOfStock},
		{"never received", item(0, 0), stock.LevelOutOfStock},
		{"low", item(100, 85), stock.LevelLow},
		{"boundary is OK", item(100, 80), stock.LevelOK},
		{"healthy", item(100, 10), stock.LevelOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stock.Status(tc.item, stock.DefaultLowRatio))
		})
	}
}

func TestLedger(t *testing.T) {
	st := store.NewMemoryStore(logger)
	defer st.Close()
	l := stock.NewLedger(st, 0, logger)
	ctx := context.Background()

	created, err := l.Create(ctx, "HIVST kits", "Mbare Clinic", 40)
	require.NoError(t, err)

	_, err = l.Dispense(ctx, created.ID, 15)
	require.NoError(t, err)
	_, err = l.Receive(ctx, created.ID, 5)
	require.NoError(t, err)

	got, err := l.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.CurrentStock)
	assert.Equal(t, 45, got.TotalReceived)
	assert.Equal(t, 15, got.TotalDispensed)

	_, err = l.Dispense(ctx, created.ID, 31)
	assert.ErrorIs(t, err, models.ErrValidation)
	got, err = l.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.CurrentStock, "rejected dispense is not applied")

	_, err = l.Dispense(ctx, "missing", 1)
	assert.ErrorIs(t, err, models.ErrNotFound)

	lines, err := l.Lines(ctx, "Mbare Clinic")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, stock.LevelOK, lines[0].Status)
}

func TestLedger_ReconcileAll(t *testing.T) {
	st := store.NewMemoryStore(logger)
	defer st.Close()
	ctx := context.Background()

	bad := models.StockItem{ID: "bad", Name: "Lube", TotalReceived: 20, TotalDispensed: 5, CurrentStock: 3}
	doc, err := store.Encode(bad)
	require.NoError(t, err)
	st.Write(ctx, store.CollectionStockItems, doc)

	l := stock.NewLedger(st, 0, logger)
	_, err = l.Create(ctx, "Condoms", "", 10)
	require.NoError(t, err)

	fixed, err := l.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, fixed)

	got, err := l.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, 15, got.CurrentStock)
}

func TestLedger_CreateValidation(t *testing.T) {
	st := store.NewMemoryStore(logger)
	defer st.Close()
	l := stock.NewLedger(st, 0, logger)
	_, err := l.Create(context.Background(), " ", "", 1)
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = l.Create(context.Background(), "Pads", "", -1)
	assert.ErrorIs(t, err, models.ErrValidation)
}
