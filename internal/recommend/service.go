// Package recommend builds structured recommendation requests, sends them to a
// text-generation backend and validates the structured answers.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ajitpratap0/microplan/internal/metrics"
	"github.com/ajitpratap0/microplan/internal/models"
)

// DefaultTimeout bounds one recommendation round trip.
const DefaultTimeout = 30 * time.Second

// Workflow names used in errors and logs.
const (
	WorkflowRiskAssessment = "risk-assessment"
	WorkflowHotspot        = "hotspot"
	WorkflowOutreach       = "outreach"
)

// Service runs the three recommendation workflows against a Generator.
type Service struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates a recommendation service. A nil generator makes every
// workflow fail with ErrGeneratorDisabled; a non-positive timeout selects
// DefaultTimeout.
func NewService(gen Generator, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{gen: gen, timeout: timeout, logger: logger}
}

// Enabled reports whether a generator backend is configured.
func (s *Service) Enabled() bool { return s.gen != nil }

// AssessRisk summarises an individual risk assessment.
func (s *Service) AssessRisk(ctx context.Context, req RiskAssessmentRequest) (*RiskAssessmentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return roundTrip[RiskAssessmentResponse](ctx, s, WorkflowRiskAssessment, riskAssessmentPrompt(req))
}

// RecommendHotspot analyses a profiled hotspot.
func (s *Service) RecommendHotspot(ctx context.Context, req HotspotRequest) (*HotspotResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return roundTrip[HotspotResponse](ctx, s, WorkflowHotspot, hotspotPrompt(req))
}

// RecommendOutreach proposes follow-up for an outreach visit.
func (s *Service) RecommendOutreach(ctx context.Context, req OutreachRequest) (*OutreachResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return roundTrip[OutreachResponse](ctx, s, WorkflowOutreach, outreachPrompt(req))
}

// roundTrip sends p and decodes the answer into R. Every failure, including
// a well-formed answer that misses required fields, is a RecommendationError.
func roundTrip[R any, PR interface {
	*R
	Validate() error
}](ctx context.Context, s *Service, workflow string, p Prompt) (*R, error) {
	fail := func(cause error) (*R, error) {
		metrics.Inc(metrics.RecommendationFailures)
		s.logger.Warn("recommendation failed", "workflow", workflow, "error", cause)
		return nil, &models.RecommendationError{Workflow: workflow, Cause: cause}
	}
	if s.gen == nil {
		return fail(ErrGeneratorDisabled)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.gen.Generate(ctx, p)
	if err != nil {
		return fail(err)
	}

	var out R
	dec := json.NewDecoder(strings.NewReader(stripFences(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return fail(fmt.Errorf("parsing response: %w", err))
	}
	if dec.More() {
		return fail(fmt.Errorf("parsing response: trailing data after JSON object"))
	}
	if err := PR(&out).Validate(); err != nil {
		return fail(fmt.Errorf("response does not match schema: %w", err))
	}

	metrics.Inc(metrics.Recommendations)
	s.logger.Info("recommendation generated", "workflow", workflow, "elapsed", time.Since(start))
	return &out, nil
}

// stripFences removes a surrounding markdown code fence, which some models
// emit even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
