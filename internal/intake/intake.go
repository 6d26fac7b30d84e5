// Package intake validates, classifies and stores outreach visits and hotspot
// profiles submitted from the field forms.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/microplan/internal/classifier"
	"github.com/ajitpratap0/microplan/internal/metrics"
	"github.com/ajitpratap0/microplan/internal/models"
	"github.com/ajitpratap0/microplan/internal/recommend"
	"github.com/ajitpratap0/microplan/internal/store"
)

const dateLayout = "2006-01-02"

// Recommender is the subset of recommend.Service used by intake.
type Recommender interface {
	RecommendHotspot(ctx context.Context, req recommend.HotspotRequest) (*recommend.HotspotResponse, error)
	RecommendOutreach(ctx context.Context, req recommend.OutreachRequest) (*recommend.OutreachResponse, error)
}

// Service handles form submissions.
type Service struct {
	store      store.Store
	classifier *classifier.Classifier
	rec        Recommender
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an intake service. rec may be nil when recommendations are
// never requested.
func New(st store.Store, cls *classifier.Classifier, rec Recommender, logger *slog.Logger) *Service {
	return &Service{store: st, classifier: cls, rec: rec, logger: logger, now: time.Now}
}

// VisitResult is a stored outreach visit with its derived flags.
type VisitResult struct {
	Visit models.OutreachVisit `json:"visit"`
	Flags []string             `json:"flags"`
}

// HotspotResult is a stored hotspot profile with its assessment.
type HotspotResult struct {
	Profile    models.HotspotProfile        `json:"profile"`
	Assessment classifier.HotspotAssessment `json:"assessment"`
}

// ValidateVisit checks a visit before it is classified or stored.
func ValidateVisit(v models.OutreachVisit) error {
	var errs []models.FieldError
	if strings.TrimSpace(v.UIN) == "" {
		errs = append(errs, models.FieldError{Field: "uin", Message: "is required"})
	}
	if strings.TrimSpace(v.PeerEducatorID) == "" {
		errs = append(errs, models.FieldError{Field: "peerEducatorId", Message: "is required"})
	}
	if _, err := time.Parse(dateLayout, v.VisitDate); err != nil {
		errs = append(errs, models.FieldError{Field: "visitDate", Message: "must be a YYYY-MM-DD date"})
	}
	if v.RiskLevel != "" && !v.RiskLevel.IsValid() {
		errs = append(errs, models.FieldError{Field: "riskLevel", Message: "must be Low, Medium, High or Unknown"})
	}
	var ce *models.ValidationError
	if errors.As(v.Commodities.Validate(), &ce) {
		errs = append(errs, ce.Errors...)
	}
	if len(errs) > 0 {
		return models.NewValidationErrors(errs)
	}
	return nil
}

// SubmitVisit validates and stores a visit. When withRecommendation is set a
// recommendation failure is returned and nothing is stored.
func (s *Service) SubmitVisit(ctx context.Context, v models.OutreachVisit, withRecommendation bool) (*VisitResult, error) {
	if err := ValidateVisit(v); err != nil {
		return nil, err
	}
	v.TopicsDiscussed = append([]string{}, v.TopicsDiscussed...)
	v.ApplyDefaults()
	flags := s.classifier.OutreachFlags(v)

	if withRecommendation {
		resp, err := s.recommender().RecommendOutreach(ctx, recommend.NewOutreachRequest(v))
		if err != nil {
			return nil, err
		}
		v.AISummary = resp.Summary
		v.AIActions = resp.Actions
	}

	// Visits are immutable once stored, so a client ID is never reused.
	v.ID = uuid.NewString()
	v.Timestamp = s.now().UTC()
	doc, err := store.Encode(v)
	if err != nil {
		return nil, err
	}
	s.store.Write(ctx, store.CollectionOutreachVisits, doc)

	metrics.Inc(metrics.VisitsSubmitted)
	s.logger.Info("outreach visit submitted", "id", v.ID, "uin", v.UIN, "risk", v.RiskLevel, "flags", len(flags))
	return &VisitResult{Visit: v, Flags: flags}, nil
}

// NormalizePopulation enforces total == a1+a2+a3 for every group. A zero
// total is filled in; any other mismatch is rejected.
func NormalizePopulation(pop map[models.KPType]models.AgeBands) (map[models.KPType]models.AgeBands, error) {
	out := make(map[models.KPType]models.AgeBands, len(pop))
	var errs []models.FieldError
	for _, kp := range models.ValidKPTypes {
		bands, ok := pop[kp]
		if !ok {
			continue
		}
		field := "populationData." + string(kp)
		if bands.A1 < 0 || bands.A2 < 0 || bands.A3 < 0 || bands.Total < 0 {
			errs = append(errs, models.FieldError{Field: field, Message: "counts must be >= 0"})
			continue
		}
		switch sum := bands.Sum(); {
		case bands.Total == 0:
			bands.Total = sum
		case bands.Total != sum:
			errs = append(errs, models.FieldError{Field: field + ".total", Message: fmt.Sprintf("total %d does not match age bands %d", bands.Total, sum)})
			continue
		}
		out[kp] = bands
	}
	for kp := range pop {
		if !kp.IsValid() {
			errs = append(errs, models.FieldError{Field: "populationData." + string(kp), Message: "unknown key population"})
		}
	}
	if len(errs) > 0 {
		return nil, models.NewValidationErrors(errs)
	}
	return out, nil
}

// ValidateHotspot checks a profile before it is assessed or stored.
func ValidateHotspot(h models.HotspotProfile) error {
	var errs []models.FieldError
	if strings.TrimSpace(h.HotspotName) == "" {
		errs = append(errs, models.FieldError{Field: "hotspotName", Message: "is required"})
	}
	if strings.TrimSpace(h.Ward) == "" {
		errs = append(errs, models.FieldError{Field: "ward", Message: "is required"})
	}
	if h.ProfilingDate != "" {
		if _, err := time.Parse(dateLayout, h.ProfilingDate); err != nil {
			errs = append(errs, models.FieldError{Field: "profilingDate", Message: "must be a YYYY-MM-DD date"})
		}
	}
	if h.Lat < -90 || h.Lat > 90 {
		errs = append(errs, models.FieldError{Field: "lat", Message: "must be between -90 and 90"})
	}
	if h.Lng < -180 || h.Lng > 180 {
		errs = append(errs, models.FieldError{Field: "lng", Message: "must be between -180 and 180"})
	}
	if h.Services.ClinicDistance < 0 {
		errs = append(errs, models.FieldError{Field: "services.clinicDistance", Message: "must be >= 0"})
	}
	if len(errs) > 0 {
		return models.NewValidationErrors(errs)
	}
	return nil
}

// SubmitHotspot validates, assesses and stores a hotspot profile. Without a
// recommendation the priority is derived from the assessment flags.
func (s *Service) SubmitHotspot(ctx context.Context, h models.HotspotProfile, withRecommendation bool) (*HotspotResult, error) {
	if err := ValidateHotspot(h); err != nil {
		return nil, err
	}
	pop, err := NormalizePopulation(h.PopulationData)
	if err != nil {
		return nil, err
	}
	h.PopulationData = pop
	h.Typology = append([]string{}, h.Typology...)
	h.ApplyDefaults()

	a := s.classifier.AssessHotspot(h)
	h.PriorityLevel = a.Priority

	if withRecommendation {
		resp, err := s.recommender().RecommendHotspot(ctx, recommend.NewHotspotRequest(h, a))
		if err != nil {
			return nil, err
		}
		h.AIAnalysis = resp.Analysis
		h.AIRecommendations = resp.Recommendations
		h.PriorityLevel = resp.PriorityLevel
	}

	h.ID = uuid.NewString()
	h.Timestamp = s.now().UTC()
	doc, err := store.Encode(h)
	if err != nil {
		return nil, err
	}
	s.store.Write(ctx, store.CollectionHotspotProfiles, doc)

	metrics.Inc(metrics.HotspotsProfiled)
	s.logger.Info("hotspot profiled", "id", h.ID, "hotspot", h.HotspotName, "priority", h.PriorityLevel, "flags", len(a.Flags))
	return &HotspotResult{Profile: h, Assessment: a}, nil
}

func (s *Service) recommender() Recommender {
	if s.rec == nil {
		return recommend.NewService(nil, 0, s.logger)
	}
	return s.rec
}
