package store_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/store"
)

func TestEncodeDecode_KPRecord(t *testing.T) {
	rec := models.KPRecord{
		ID:                 "k1",
		UIN:                "V-M-12345",
		KPType:             models.KPFemaleSexWorker,
		RiskLevel:          models.RiskHigh,
		Ward:               "Mbare",
		VerificationStatus: models.VerificationVerified,
		MeetingCount:       3,
	}
	doc, err := store.Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, "k1", doc.ID)
	_, hasID := doc.Fields["id"]
	assert.False(t, hasID)

	got, err := store.Decode[models.KPRecord](doc)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_AppliesDefaults(t *testing.T) {
	got, err := store.Decode[models.KPRecord](store.Document{ID: "k2", Fields: map[string]any{"uin": "M-E-10000"}})
	require.NoError(t, err)
	assert.Equal(t, models.RiskUnknown, got.RiskLevel)
	assert.Equal(t, models.VerificationPending, got.VerificationStatus)
	assert.Equal(t, "k2", got.ID)
}

func TestDecodeAll_SkipsMalformed(t *testing.T) {
	docs := []store.Document{
		{ID: "v1", Fields: map[string]any{"uin": "V-M-10001", "riskLevel": "High"}},
		{ID: "v2", Fields: map[string]any{"uin": 42}},
		{ID: "v3", Fields: map[string]any{"uin": "V-M-10003"}},
	}
	visits := store.DecodeOutreachVisits(docs, logger)
	require.Len(t, visits, 2)
	assert.Equal(t, "v1", visits[0].ID)
	assert.Equal(t, models.RiskUnknown, visits[1].RiskLevel)
	assert.Equal(t, []string{}, visits[1].TopicsDiscussed)
}

func TestDecodeHotspots_DefaultPriority(t *testing.T) {
	hs := store.DecodeHotspots([]store.Document{{ID: "h1", Fields: map[string]any{"hotspotName": "Bar"}}}, logger)
	require.Len(t, hs, 1)
	assert.Equal(t, models.PriorityLow, hs[0].PriorityLevel)
	assert.NotNil(t, hs[0].PopulationData)
}

func TestDecodeStockItems(t *testing.T) {
	items := store.DecodeStockItems([]store.Document{{ID: "s1", Fields: map[string]any{"name": "Lube", "currentStock": float64(5)}}}, logger)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].CurrentStock)
}

func TestQuery_Matches(t *testing.T) {
	doc := store.Document{ID: "x", Fields: map[string]any{"ward": "Mbare", "meetingCount": float64(2)}}
	assert.True(t, store.Query{Where: []store.Filter{{Field: "ward", Value: "Mbare"}}}.Matches(doc))
	assert.True(t, store.Query{Where: []store.Filter{{Field: "meetingCount", Value: 2}}}.Matches(doc))
	assert.False(t, store.Query{Where: []store.Filter{{Field: "ward", Value: "Epworth"}}}.Matches(doc))
	assert.False(t, store.Query{Where: []store.Filter{{Field: "missing", Value: ""}}}.Matches(doc))
	assert.True(t, store.Query{}.Matches(doc))
}
