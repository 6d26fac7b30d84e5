package recommend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/microplan/pkg/tokenizer"
	"github.com/ajitpratap0/microplan/pkg/xmlutil"
)

// Field input is embedded in XML tags so it cannot masquerade as instructions.

// Token budgets for free-text field input.
const (
	barriersBudget = 300
	listBudget     = 200
)

const systemPrompt = "You are a public-health programme advisor supporting peer educators who serve key populations. " +
	"Be concrete, non-judgemental and brief. Output only valid JSON with exactly the keys requested."

func riskAssessmentPrompt(r RiskAssessmentRequest) Prompt {
	user := fmt.Sprintf(`Summarise this individual risk assessment for the peer educator and explain the assigned level.

%s

%s

Return JSON with "summary" (one or two sentences) and "rationale".`,
		xmlutil.List("risk_factors", tokenizer.Fit(r.IdentifiedRiskFactors, listBudget)),
		xmlutil.Tag("assigned_risk_level", string(r.AssignedRiskLevel)),
	)
	return Prompt{System: systemPrompt, User: user, Schema: riskAssessmentSchema}
}

func hotspotPrompt(r HotspotRequest) Prompt {
	user := fmt.Sprintf(`Analyse this hotspot profile and recommend programme actions.

%s
%s
%s

%s

%s

%s

Return JSON with "analysis", "recommendations" (short action items) and "priorityLevel" (Low, Medium, High or Critical).`,
		xmlutil.Tag("hotspot_name", r.HotspotName),
		xmlutil.Tag("typology", strings.Join(r.Typology, ", ")),
		xmlutil.Tag("total_estimated_population", strconv.Itoa(r.TotalEstimatedPopulation)),
		xmlutil.List("risk_flags", tokenizer.Fit(r.RiskFlags, listBudget)),
		xmlutil.List("service_gaps", r.ServiceGaps),
		xmlutil.Tag("barriers", tokenizer.Truncate(r.Barriers, barriersBudget)),
	)
	return Prompt{System: systemPrompt, User: user, Schema: hotspotSchema}
}

func outreachPrompt(r OutreachRequest) Prompt {
	user := fmt.Sprintf(`Summarise this outreach contact and propose follow-up actions.

%s
%s
%s
%s
%s

Return JSON with "summary", "actions" (short follow-up items) and "followUpPriority" (Low, Medium, High or Critical).`,
		xmlutil.Tag("uin", r.UIN),
		xmlutil.Tag("visit_date", r.VisitDate),
		xmlutil.Tag("risk_level", string(r.RiskLevel)),
		xmlutil.Tag("commodities_distributed", strconv.Itoa(r.CommoditiesDistributed)),
		xmlutil.Tag("registered_at_clinic", strconv.FormatBool(r.IsRegisteredAtClinic)),
	)
	return Prompt{System: systemPrompt, User: user, Schema: outreachSchema}
}
