package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ajitpratap0/microplan/internal/models"
)

type defaulter interface {
	ApplyDefaults()
}

// Encode converts a record into a Document. The record's "id" field becomes
// the document ID and is not duplicated in Fields.
func Encode(record any) (Document, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Document{}, fmt.Errorf("encoding record: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Document{}, fmt.Errorf("encoding record: %w", err)
	}
	id, _ := fields["id"].(string)
	delete(fields, "id")
	return Document{ID: id, Fields: fields}, nil
}

// Decode converts one document into a record and applies its defaults.
func Decode[T any](doc Document) (T, error) {
	var out T
	fields := make(map[string]any, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		fields[k] = v
	}
	fields["id"] = doc.ID

	raw, err := json.Marshal(fields)
	if err != nil {
		return out, fmt.Errorf("decoding %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding %s: %w", doc.ID, err)
	}
	if d, ok := any(&out).(defaulter); ok {
		d.ApplyDefaults()
	}
	return out, nil
}

// DecodeAll decodes docs, skipping and logging any that do not fit T.
func DecodeAll[T any](docs []Document, logger *slog.Logger) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := Decode[T](doc)
		if err != nil {
			logger.Warn("skipping malformed document", "id", doc.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

// DecodeOutreachVisits decodes outreach visit documents.
func DecodeOutreachVisits(docs []Document, logger *slog.Logger) []models.OutreachVisit {
	return DecodeAll[models.OutreachVisit](docs, logger)
}

// DecodeHotspots decodes hotspot profile documents.
func DecodeHotspots(docs []Document, logger *slog.Logger) []models.HotspotProfile {
	return DecodeAll[models.HotspotProfile](docs, logger)
}

// DecodeKPRecords decodes registry documents.
func DecodeKPRecords(docs []Document, logger *slog.Logger) []models.KPRecord {
	return DecodeAll[models.KPRecord](docs, logger)
}

// DecodeStockItems decodes stock documents.
func DecodeStockItems(docs []Document, logger *slog.Logger) []models.StockItem {
	return DecodeAll[models.StockItem](docs, logger)
}
