// Package registry manages key-population registry entries keyed by UIN.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/microplan/internal/metrics"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/store"
	"github.com/ajitpratap0/microplan/internal/uin"
)

const dateLayout = "2006-01-02"

// Registry reads and writes the kpRegistry collection.
type Registry struct {
	store  store.Store
	gen    *uin.Generator
	logger *slog.Logger
	now    func() time.Time

	// mu serialises check-then-write sequences within this process.
	mu sync.Mutex
}

// New creates a registry. gen may be nil when UINs are always supplied.
func New(st store.Store, gen *uin.Generator, logger *slog.Logger) *Registry {
	return &Registry{store: st, gen: gen, logger: logger, now: time.Now}
}

// List returns registry entries, optionally restricted to one ward.
func (r *Registry) List(ctx context.Context, ward string) ([]models.KPRecord, error) {
	q := store.Query{Collection: store.CollectionKPRegistry}
	if ward != "" {
		q.Where = []store.Filter{{Field: "ward", Value: ward}}
	}
	docs, err := store.Fetch(ctx, r.store, q)
	if err != nil {
		return nil, fmt.Errorf("fetching registry: %w", err)
	}
	return store.DecodeKPRecords(docs, r.logger), nil
}

// Find returns the entry with the given UIN.
func (r *Registry) Find(ctx context.Context, code string) (*models.KPRecord, error) {
	docs, err := store.Fetch(ctx, r.store, store.Query{
		Collection: store.CollectionKPRegistry,
		Where:      []store.Filter{{Field: "uin", Value: code}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching registry: %w", err)
	}
	recs := store.DecodeKPRecords(docs, r.logger)
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: uin %s", models.ErrNotFound, code)
	}
	return &recs[0], nil
}

// Exists reports whether a UIN is already registered.
func (r *Registry) Exists(ctx context.Context, code string) (bool, error) {
	_, err := r.Find(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func validate(rec models.KPRecord) error {
	var errs []models.FieldError
	if strings.TrimSpace(rec.UIN) == "" {
		errs = append(errs, models.FieldError{Field: "uin", Message: "is required"})
	}
	if !rec.KPType.IsValid() {
		errs = append(errs, models.FieldError{Field: "kpType", Message: "must be FSW, MSM, TG or PWID"})
	}
	if !rec.RiskLevel.IsValid() {
		errs = append(errs, models.FieldError{Field: "riskLevel", Message: "must be Low, Medium, High or Unknown"})
	}
	if strings.TrimSpace(rec.Ward) == "" {
		errs = append(errs, models.FieldError{Field: "ward", Message: "is required"})
	}
	if len(errs) > 0 {
		return models.NewValidationErrors(errs)
	}
	return nil
}

// Register adds a new entry. A UIN that is already registered is rejected
// before anything is written.
func (r *Registry) Register(ctx context.Context, rec models.KPRecord) (*models.KPRecord, error) {
	if rec.RiskLevel == "" {
		rec.RiskLevel = models.RiskUnknown
	}
	rec.UIN = strings.TrimSpace(rec.UIN)
	if err := validate(rec); err != nil {
		return nil, err
	}
	rec.ApplyDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.Exists(ctx, rec.UIN)
	if err != nil {
		return nil, err
	}
	if exists {
		metrics.Inc(metrics.DuplicateRegistrations)
		return nil, models.NewValidationError("uin", fmt.Sprintf("%s is already registered", rec.UIN))
	}

	// Register only creates; a client ID could overwrite another entry.
	rec.ID = uuid.NewString()
	if err := r.write(ctx, rec); err != nil {
		return nil, err
	}
	metrics.Inc(metrics.Registrations)
	r.logger.Info("kp registered", "uin", rec.UIN, "kp_type", rec.KPType, "ward", rec.Ward)
	return &rec, nil
}

// NewUIN returns a UIN that is not yet registered. Nothing is reserved.
func (r *Registry) NewUIN(ctx context.Context, gender, area string) (string, error) {
	if r.gen == nil {
		return "", fmt.Errorf("registry has no UIN generator")
	}
	return r.gen.GenerateUnique(ctx, gender, area, r.Exists)
}

// Enrol generates a fresh UIN for gender and area, then registers rec under it.
func (r *Registry) Enrol(ctx context.Context, gender, area string, rec models.KPRecord) (*models.KPRecord, error) {
	code, err := r.NewUIN(ctx, gender, area)
	if err != nil {
		return nil, err
	}
	rec.UIN = code
	return r.Register(ctx, rec)
}

// Verify marks an entry as verified.
func (r *Registry) Verify(ctx context.Context, code string) (*models.KPRecord, error) {
	return r.update(ctx, code, func(rec *models.KPRecord) {
		rec.VerificationStatus = models.VerificationVerified
	})
}

// RecordMeeting counts a meeting with the person and stamps today's date as
// the last assessment.
func (r *Registry) RecordMeeting(ctx context.Context, code string) (*models.KPRecord, error) {
	return r.update(ctx, code, func(rec *models.KPRecord) {
		rec.MeetingCount++
		rec.LastAssessment = r.now().UTC().Format(dateLayout)
	})
}

// Reassess records a new risk level for the person.
func (r *Registry) Reassess(ctx context.Context, code string, level models.RiskLevel) (*models.KPRecord, error) {
	if !level.IsValid() {
		return nil, models.NewValidationError("riskLevel", "must be Low, Medium, High or Unknown")
	}
	return r.update(ctx, code, func(rec *models.KPRecord) {
		rec.RiskLevel = level
		rec.LastAssessment = r.now().UTC().Format(dateLayout)
	})
}

func (r *Registry) update(ctx context.Context, code string, mutate func(*models.KPRecord)) (*models.KPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.Find(ctx, code)
	if err != nil {
		return nil, err
	}
	mutate(rec)
	if err := r.write(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Registry) write(ctx context.Context, rec models.KPRecord) error {
	doc, err := store.Encode(rec)
	if err != nil {
		return err
	}
	r.store.Write(ctx, store.CollectionKPRegistry, doc)
	// Later checks in this process must see the write.
	return r.store.Flush(ctx)
}
