package recommend

import (
	"strings"
	"time"

	"github.com/ajitpratap0/microplan/internal/models"
)

// visitDateLayout is the calendar date layout used by the field forms.
const visitDateLayout = "2006-01-02"

// RiskAssessmentRequest asks for a summary of an individual risk assessment.
type RiskAssessmentRequest struct {
	IdentifiedRiskFactors []string         `json:"identifiedRiskFactors"`
	AssignedRiskLevel     models.RiskLevel `json:"assignedRiskLevel"`
}

// Validate checks the request before it can be sent.
func (r RiskAssessmentRequest) Validate() error {
	var errs []models.FieldError
	if len(r.IdentifiedRiskFactors) == 0 {
		errs = append(errs, models.FieldError{Field: "identifiedRiskFactors", Message: "select at least one risk factor"})
	}
	for _, f := range r.IdentifiedRiskFactors {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, models.FieldError{Field: "identifiedRiskFactors", Message: "must not contain empty factors"})
			break
		}
	}
	switch r.AssignedRiskLevel {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
	default:
		errs = append(errs, models.FieldError{Field: "assignedRiskLevel", Message: "must be Low, Medium or High"})
	}
	return fieldErrors(errs)
}

// RiskAssessmentResponse is the generated summary of a risk assessment.
type RiskAssessmentResponse struct {
	Summary   string `json:"summary"`
	Rationale string `json:"rationale"`
}

// Validate checks the generated response against its schema.
func (r *RiskAssessmentResponse) Validate() error {
	var errs []models.FieldError
	if strings.TrimSpace(r.Summary) == "" {
		errs = append(errs, models.FieldError{Field: "summary", Message: "is required"})
	}
	if strings.TrimSpace(r.Rationale) == "" {
		errs = append(errs, models.FieldError{Field: "rationale", Message: "is required"})
	}
	return fieldErrors(errs)
}

// HotspotRequest asks for an analysis of a profiled hotspot.
type HotspotRequest struct {
	HotspotName              string   `json:"hotspotName"`
	Typology                 []string `json:"typology"`
	TotalEstimatedPopulation int      `json:"totalEstimatedPopulation"`
	RiskFlags                []string `json:"riskFlags"`
	Barriers                 string   `json:"barriers"`
	ServiceGaps              []string `json:"serviceGaps"`
}

// Validate checks the request before it can be sent.
func (r HotspotRequest) Validate() error {
	var errs []models.FieldError
	if strings.TrimSpace(r.HotspotName) == "" {
		errs = append(errs, models.FieldError{Field: "hotspotName", Message: "is required"})
	}
	if r.TotalEstimatedPopulation < 0 {
		errs = append(errs, models.FieldError{Field: "totalEstimatedPopulation", Message: "must be >= 0"})
	}
	for _, t := range r.Typology {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, models.FieldError{Field: "typology", Message: "must not contain empty entries"})
			break
		}
	}
	return fieldErrors(errs)
}

// HotspotResponse is the generated analysis of a hotspot.
type HotspotResponse struct {
	Analysis        string          `json:"analysis"`
	Recommendations []string        `json:"recommendations"`
	PriorityLevel   models.Priority `json:"priorityLevel"`
}

// Validate checks the generated response against its schema.
func (r *HotspotResponse) Validate() error {
	var errs []models.FieldError
	if strings.TrimSpace(r.Analysis) == "" {
		errs = append(errs, models.FieldError{Field: "analysis", Message: "is required"})
	}
	if r.Recommendations == nil {
		errs = append(errs, models.FieldError{Field: "recommendations", Message: "is required"})
	}
	if !r.PriorityLevel.IsValid() {
		errs = append(errs, models.FieldError{Field: "priorityLevel", Message: "must be Low, Medium, High or Critical"})
	}
	return fieldErrors(errs)
}

// OutreachRequest asks for a follow-up plan after an outreach visit.
type OutreachRequest struct {
	UIN                    string           `json:"uin"`
	VisitDate              string           `json:"visitDate"`
	RiskLevel              models.RiskLevel `json:"riskLevel"`
	CommoditiesDistributed int              `json:"commoditiesDistributed"`
	IsRegisteredAtClinic   bool             `json:"isRegisteredAtClinic"`
}

// Validate checks the request before it can be sent.
func (r OutreachRequest) Validate() error {
	var errs []models.FieldError
	if strings.TrimSpace(r.UIN) == "" {
		errs = append(errs, models.FieldError{Field: "uin", Message: "is required"})
	}
	if _, err := time.Parse(visitDateLayout, r.VisitDate); err != nil {
		errs = append(errs, models.FieldError{Field: "visitDate", Message: "must be a YYYY-MM-DD date"})
	}
	if !r.RiskLevel.IsValid() {
		errs = append(errs, models.FieldError{Field: "riskLevel", Message: "must be Low, Medium, High or Unknown"})
	}
	if r.CommoditiesDistributed < 0 {
		errs = append(errs, models.FieldError{Field: "commoditiesDistributed", Message: "must be >= 0"})
	}
	return fieldErrors(errs)
}

// OutreachResponse is the generated follow-up plan for a visit.
type OutreachResponse struct {
	Summary          string          `json:"summary"`
	Actions          []string        `json:"actions"`
	FollowUpPriority models.Priority `json:"followUpPriority"`
}

// Validate checks the generated response against its schema.
func (r *OutreachResponse) Validate() error {
	var errs []models.FieldError
	if strings.TrimSpace(r.Summary) == "" {
		errs = append(errs, models.FieldError{Field: "summary", Message: "is required"})
	}
	if r.Actions == nil {
		errs = append(errs, models.FieldError{Field: "actions", Message: "is required"})
	}
	if !r.FollowUpPriority.IsValid() {
		errs = append(errs, models.FieldError{Field: "followUpPriority", Message: "must be Low, Medium, High or Critical"})
	}
	return fieldErrors(errs)
}

func fieldErrors(errs []models.FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return models.NewValidationErrors(errs)
}

var priorityEnum = []string{"Low", "Medium", "High", "Critical"}

// Response schemas declared to the generator, in JSON Schema form.
var (
	riskAssessmentSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":   map[string]any{"type": "string"},
			"rationale": map[string]any{"type": "string"},
		},
		"required": []string{"summary", "rationale"},
	}

	hotspotSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"analysis":        map[string]any{"type": "string"},
			"recommendations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"priorityLevel":   map[string]any{"type": "string", "enum": priorityEnum},
		},
		"required": []string{"analysis", "recommendations", "priorityLevel"},
	}

	outreachSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":          map[string]any{"type": "string"},
			"actions":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"followUpPriority": map[string]any{"type": "string", "enum": priorityEnum},
		},
		"required": []string{"summary", "actions", "followUpPriority"},
	}
)
