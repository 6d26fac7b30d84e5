package recommend

import (
	"github.com/ajitpratap0/microplan/internal/classifier"
	"github.com/ajitpratap0/microplan/internal/models"
)

// NewRiskAssessmentRequest builds the risk-assessment request. An empty level
// is derived from the number of factors.
func NewRiskAssessmentRequest(factors []string, level models.RiskLevel) RiskAssessmentRequest {
	if level == "" {
		level = classifier.AssessRiskLevel(factors)
	}
	return RiskAssessmentRequest{
		IdentifiedRiskFactors: append([]string(nil), factors...),
		AssignedRiskLevel:     level,
	}
}

// NewHotspotRequest builds the hotspot request from a profile and its assessment.
func NewHotspotRequest(h models.HotspotProfile, a classifier.HotspotAssessment) HotspotRequest {
	return HotspotRequest{
		HotspotName:              h.HotspotName,
		Typology:                 append([]string{}, h.Typology...),
		TotalEstimatedPopulation: a.TotalPopulation,
		RiskFlags:                append([]string{}, a.Flags...),
		Barriers:                 h.Barriers,
		ServiceGaps:              append([]string{}, a.ServiceGaps...),
	}
}

// NewOutreachRequest builds the outreach request from a visit.
func NewOutreachRequest(v models.OutreachVisit) OutreachRequest {
	return OutreachRequest{
		UIN:                    v.UIN,
		VisitDate:              v.VisitDate,
		RiskLevel:              v.RiskLevel,
		CommoditiesDistributed: v.Commodities.Total(),
		IsRegisteredAtClinic:   v.IsRegisteredAtClinic,
	}
}
