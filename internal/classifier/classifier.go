package classifier

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ajitpratap0/microplan/internal/models"
)

// Flag texts. Order of evaluation follows the order of declaration here.
const (
	FlagCondomGap        = "CRITICAL GAP: Condoms Inaccessible"
	FlagLubeGap          = "PROGRAM GAP: Lubricants Inaccessible"
	FlagAccessRisk       = "ACCESS RISK: Distance > 5km" // with the default clinic limit
	FlagServiceQuality   = "SERVICE QUALITY RISK: Not KP Friendly"
	flagStructuralPrefix = "HIGH STRUCTURAL RISK: "

	FlagWeeklyContact = "HIGH RISK: Requires weekly contact"
	FlagNotRegistered = "REFERRAL NEEDED: not registered at clinic."
	FlagNoCommodities = "CRITICAL: no commodities distributed to high-risk node."
	FlagReactiveHIVST = "URGENT: Reactive HIV self-test requires referral for confirmatory testing"
)

// DefaultClinicLimitKm is the clinic distance above which access is flagged.
const DefaultClinicLimitKm = 5.0

// Thresholds are the head-count bounds used to label a population group.
type Thresholds struct {
	High int `mapstructure:"high" json:"high"`
	Med  int `mapstructure:"med" json:"med"`
}

// DefaultVolumeThresholds returns the per-group bounds used when none are configured.
func DefaultVolumeThresholds() map[models.KPType]Thresholds {
	return map[models.KPType]Thresholds{
		models.KPFemaleSexWorker: {High: 100, Med: 50},
		models.KPMenWhoHaveSex:   {High: 50, Med: 20},
		models.KPTransgender:     {High: 30, Med: 10},
		models.KPPeopleWhoInject: {High: 40, Med: 15},
	}
}

// DefaultCaseloadLimits returns the per-group caseload limits used when none are configured.
func DefaultCaseloadLimits() map[models.KPType]int {
	return map[models.KPType]int{
		models.KPFemaleSexWorker: 80,
		models.KPMenWhoHaveSex:   40,
		models.KPTransgender:     30,
		models.KPPeopleWhoInject: 50,
	}
}

// Rules holds the tunable parameters of the rule families.
type Rules struct {
	ClinicDistanceKm float64
	Volume           map[models.KPType]Thresholds
	Caseload         map[models.KPType]int
}

// DefaultRules returns the rule parameters used in the field.
func DefaultRules() Rules {
	return Rules{
		ClinicDistanceKm: DefaultClinicLimitKm,
		Volume:           DefaultVolumeThresholds(),
		Caseload:         DefaultCaseloadLimits(),
	}
}

// Classifier evaluates the deterministic risk rules. It never fails: fields
// that are missing are treated as the no-flag branch.
type Classifier struct {
	rules  Rules
	logger *slog.Logger
}

// NewClassifier creates a rule-based classifier. Zero-valued parts of rules
// fall back to the defaults.
func NewClassifier(rules Rules, logger *slog.Logger) *Classifier {
	if rules.ClinicDistanceKm <= 0 {
		rules.ClinicDistanceKm = DefaultClinicLimitKm
	}
	if len(rules.Volume) == 0 {
		rules.Volume = DefaultVolumeThresholds()
	}
	if len(rules.Caseload) == 0 {
		rules.Caseload = DefaultCaseloadLimits()
	}
	return &Classifier{rules: rules, logger: logger}
}

// Rules returns the parameters the classifier was built with.
func (c *Classifier) Rules() Rules { return c.rules }

// ServiceFlags evaluates the service-access rules.
func (c *Classifier) ServiceFlags(s models.Services) []string {
	var flags []string
	if !s.Condoms {
		flags = append(flags, FlagCondomGap)
	}
	if !s.Lube {
		flags = append(flags, FlagLubeGap)
	}
	if s.ClinicDistance > c.rules.ClinicDistanceKm {
		flags = append(flags, accessFlag(c.rules.ClinicDistanceKm))
	}
	if !s.KPFriendly {
		flags = append(flags, FlagServiceQuality)
	}
	return flags
}

func accessFlag(limit float64) string {
	return fmt.Sprintf("ACCESS RISK: Distance > %skm", strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", limit), "0"), "."))
}

// StructuralFlags evaluates the structural-barrier rule. At most one flag is
// produced; its text names every cause that triggered it.
func (c *Classifier) StructuralFlags(s models.Structural) []string {
	var causes []string
	if strings.EqualFold(strings.TrimSpace(s.Police), "Yes") {
		causes = append(causes, "Police Harassment")
	}
	if strings.EqualFold(strings.TrimSpace(s.Violence), "High") {
		causes = append(causes, "High Violence")
	}
	if strings.EqualFold(strings.TrimSpace(s.Stigma), "High") {
		causes = append(causes, "High Stigma")
	}
	if len(causes) == 0 {
		return nil
	}
	return []string{flagStructuralPrefix + strings.Join(causes, ", ")}
}

// Volume labels an observed group head count against thresholds:
// sum > High is High, Med <= sum <= High is Medium, otherwise Low.
func Volume(sum int, t Thresholds) models.RiskLevel {
	switch {
	case sum > t.High:
		return models.RiskHigh
	case sum >= t.Med:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Volumes labels every group present in the population data. Groups without
// configured thresholds are skipped.
func (c *Classifier) Volumes(pop map[models.KPType]models.AgeBands) map[models.KPType]models.RiskLevel {
	out := make(map[models.KPType]models.RiskLevel, len(pop))
	for group, bands := range pop {
		t, ok := c.rules.Volume[group]
		if !ok {
			continue
		}
		out[group] = Volume(bands.Sum(), t)
	}
	return out
}

// HotspotAssessment is the classifier output for one hotspot profile.
type HotspotAssessment struct {
	Flags           []string                           `json:"flags"`
	ServiceGaps     []string                           `json:"serviceGaps"`
	Volumes         map[models.KPType]models.RiskLevel `json:"volumes"`
	TotalPopulation int                                `json:"totalPopulation"`
	Priority        models.Priority                    `json:"priority"`
}

// AssessHotspot runs the service, structural and volume rules over a profile.
func (c *Classifier) AssessHotspot(h models.HotspotProfile) HotspotAssessment {
	service := c.ServiceFlags(h.Services)
	flags := append(append([]string{}, service...), c.StructuralFlags(h.Structural)...)
	a := HotspotAssessment{
		Flags:           flags,
		ServiceGaps:     service,
		Volumes:         c.Volumes(h.PopulationData),
		TotalPopulation: h.TotalPopulation(),
		Priority:        SuggestPriority(flags),
	}
	if a.Flags == nil {
		a.Flags = []string{}
	}
	if a.ServiceGaps == nil {
		a.ServiceGaps = []string{}
	}
	c.logger.Debug("assessed hotspot", "hotspot", h.HotspotName, "flags", len(a.Flags), "population", a.TotalPopulation)
	return a
}

// OutreachFlags evaluates the outreach-visit rules.
func (c *Classifier) OutreachFlags(v models.OutreachVisit) []string {
	var flags []string
	if v.RiskLevel == models.RiskHigh {
		flags = append(flags, FlagWeeklyContact)
	}
	if !v.IsRegisteredAtClinic {
		flags = append(flags, FlagNotRegistered)
	}
	if v.RiskLevel == models.RiskHigh && v.Commodities.Total() == 0 {
		flags = append(flags, FlagNoCommodities)
	}
	if v.Commodities.HIVSTResult == models.TestReactive {
		flags = append(flags, FlagReactiveHIVST)
	}
	return flags
}

// CaseloadAlert reports the caseload of one key-population group.
type CaseloadAlert struct {
	KPType     models.KPType `json:"kpType"`
	Count      int           `json:"count"`
	Limit      int           `json:"limit"`
	Overloaded bool          `json:"overloaded"`
}

// Overloaded reports whether count exceeds limit. The boundary is exclusive.
func Overloaded(count, limit int) bool {
	return count > limit
}

// Caseload compares current counts against the configured limits, in the
// display order of models.ValidKPTypes. Groups without a limit are omitted.
func (c *Classifier) Caseload(counts map[models.KPType]int) []CaseloadAlert {
	var out []CaseloadAlert
	for _, group := range models.ValidKPTypes {
		limit, ok := c.rules.Caseload[group]
		if !ok {
			continue
		}
		n := counts[group]
		out = append(out, CaseloadAlert{
			KPType:     group,
			Count:      n,
			Limit:      limit,
			Overloaded: Overloaded(n, limit),
		})
	}
	return out
}

// AssessRiskLevel maps the number of identified risk factors to a level:
// none is Low, one or two is Medium, three or more is High.
func AssessRiskLevel(factors []string) models.RiskLevel {
	n := 0
	for _, f := range factors {
		if strings.TrimSpace(f) != "" {
			n++
		}
	}
	switch {
	case n >= 3:
		return models.RiskHigh
	case n >= 1:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// SuggestPriority derives a coarse priority from flags. The text-generation
// step may replace it with its own assessment.
func SuggestPriority(flags []string) models.Priority {
	best := models.PriorityLow
	if len(flags) > 0 {
		best = models.PriorityMedium
	}
	for _, f := range flags {
		switch {
		case strings.HasPrefix(f, "CRITICAL"):
			return models.PriorityCritical
		case strings.HasPrefix(f, "HIGH") || strings.HasPrefix(f, "URGENT"):
			best = models.PriorityHigh
		}
	}
	return best
}
