package models

import "time"

// CommodityCounts holds the commodities and test kits handed out during a visit.
type CommodityCounts struct {
	MaleCondoms         int        `json:"maleCondoms"`
	FemaleCondoms       int        `json:"femaleCondoms"`
	Lubricant           int        `json:"lubricant"`
	HIVSTKits           int        `json:"hivstKits"`
	HIVSTResult         TestResult `json:"hivstResult,omitempty"`
	PregnancyTestKits   int        `json:"pregnancyTestKits"`
	PregnancyTestResult TestResult `json:"pregnancyTestResult,omitempty"`
	ReusablePads        int        `json:"reusablePads"`
	DisposablePads      int        `json:"disposablePads"`
}

// Total returns the number of commodities distributed.
func (c CommodityCounts) Total() int {
	return c.MaleCondoms + c.FemaleCondoms + c.Lubricant + c.HIVSTKits +
		c.PregnancyTestKits + c.ReusablePads + c.DisposablePads
}

// Validate checks that every counter is non-negative and results are known.
func (c CommodityCounts) Validate() error {
	counters := []struct {
		field string
		n     int
	}{
		{"commodities.maleCondoms", c.MaleCondoms},
		{"commodities.femaleCondoms", c.FemaleCondoms},
		{"commodities.lubricant", c.Lubricant},
		{"commodities.hivstKits", c.HIVSTKits},
		{"commodities.pregnancyTestKits", c.PregnancyTestKits},
		{"commodities.reusablePads", c.ReusablePads},
		{"commodities.disposablePads", c.DisposablePads},
	}
	var errs []FieldError
	for _, ctr := range counters {
		if ctr.n < 0 {
			errs = append(errs, FieldError{Field: ctr.field, Message: "must be >= 0"})
		}
	}
	if !c.HIVSTResult.IsValid() {
		errs = append(errs, FieldError{Field: "commodities.hivstResult", Message: "unknown test result"})
	}
	if !c.PregnancyTestResult.IsValid() {
		errs = append(errs, FieldError{Field: "commodities.pregnancyTestResult", Message: "unknown test result"})
	}
	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}

// OutreachVisit is one peer-educator contact with a registered person.
type OutreachVisit struct {
	ID                   string          `json:"id,omitempty"`
	PeerEducatorID       string          `json:"peerEducatorId"`
	PeerEducatorName     string          `json:"peerEducatorName"`
	UIN                  string          `json:"uin"`
	Ward                 string          `json:"ward,omitempty"`
	VisitDate            string          `json:"visitDate"`
	RiskLevel            RiskLevel       `json:"riskLevel"`
	IsRegisteredAtClinic bool            `json:"isRegisteredAtClinic"`
	Commodities          CommodityCounts `json:"commodities"`
	TopicsDiscussed      []string        `json:"topicsDiscussed"`
	AISummary            string          `json:"aiSummary,omitempty"`
	AIActions            []string        `json:"aiActions,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
}

// ApplyDefaults fills fields that may be absent in stored documents.
func (v *OutreachVisit) ApplyDefaults() {
	if !v.RiskLevel.IsValid() {
		v.RiskLevel = RiskUnknown
	}
	if v.TopicsDiscussed == nil {
		v.TopicsDiscussed = []string{}
	}
}

// AgeBands holds the estimated head count of one key-population group by age band.
type AgeBands struct {
	A1    int `json:"a1"`
	A2    int `json:"a2"`
	A3    int `json:"a3"`
	Total int `json:"total"`
}

// Sum returns a1+a2+a3.
func (b AgeBands) Sum() int { return b.A1 + b.A2 + b.A3 }

// Services records which services are reachable from a hotspot.
type Services struct {
	Condoms        bool    `json:"condoms"`
	Lube           bool    `json:"lube"`
	ClinicDistance float64 `json:"clinicDistance"`
	KPFriendly     bool    `json:"kpFriendly"`
}

// Structural records structural barriers reported at a hotspot.
type Structural struct {
	Police   string `json:"police"`
	Violence string `json:"violence"`
	Stigma   string `json:"stigma"`
}

// HotspotProfile is the profiling record of a physical or virtual site.
type HotspotProfile struct {
	ID                string              `json:"id,omitempty"`
	PeerEducatorID    string              `json:"peerEducatorId"`
	SiteName          string              `json:"siteName"`
	HotspotName       string              `json:"hotspotName"`
	Ward              string              `json:"ward"`
	Area              string              `json:"area"`
	Cluster           string              `json:"cluster"`
	ProfilingDate     string              `json:"profilingDate"`
	Microplanner      string              `json:"microplanner"`
	Lat               float64             `json:"lat"`
	Lng               float64             `json:"lng"`
	Typology          []string            `json:"typology"`
	PopulationData    map[KPType]AgeBands `json:"populationData"`
	Services          Services            `json:"services"`
	Structural        Structural          `json:"structural"`
	Barriers          string              `json:"barriers,omitempty"`
	AIAnalysis        string              `json:"aiAnalysis,omitempty"`
	AIRecommendations []string            `json:"aiRecommendations,omitempty"`
	PriorityLevel     Priority            `json:"priorityLevel,omitempty"`
	Timestamp         time.Time           `json:"timestamp"`
}

// ApplyDefaults fills fields that may be absent in stored documents.
func (h *HotspotProfile) ApplyDefaults() {
	if h.Typology == nil {
		h.Typology = []string{}
	}
	if h.PopulationData == nil {
		h.PopulationData = map[KPType]AgeBands{}
	}
	if !h.PriorityLevel.IsValid() {
		h.PriorityLevel = PriorityLow
	}
}

// TotalPopulation sums the age-band estimates across every group.
func (h *HotspotProfile) TotalPopulation() int {
	total := 0
	for _, bands := range h.PopulationData {
		total += bands.Sum()
	}
	return total
}

// StockItem is one commodity line held at a facility.
type StockItem struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Facility       string `json:"facility"`
	TotalReceived  int    `json:"totalReceived"`
	TotalDispensed int    `json:"totalDispensed"`
	CurrentStock   int    `json:"currentStock"`
}

// KPRecord is a key-population registry entry.
type KPRecord struct {
	ID                 string             `json:"id,omitempty"`
	UIN                string             `json:"uin"`
	KPType             KPType             `json:"kpType"`
	PeerEducatorID     string             `json:"peerEducatorId,omitempty"`
	RiskLevel          RiskLevel          `json:"riskLevel"`
	Ward               string             `json:"ward"`
	LastAssessment     string             `json:"lastAssessment,omitempty"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	MeetingCount       int                `json:"meetingCount"`
}

// ApplyDefaults fills fields that may be absent in stored documents.
func (k *KPRecord) ApplyDefaults() {
	if !k.RiskLevel.IsValid() {
		k.RiskLevel = RiskUnknown
	}
	if !k.VerificationStatus.IsValid() {
		k.VerificationStatus = VerificationPending
	}
	if k.MeetingCount < 0 {
		k.MeetingCount = 0
	}
}

// SocialNode is a person or place in the trust network.
type SocialNode struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Ward           string   `json:"ward"`
	InfluenceScore *float64 `json:"influenceScore,omitempty"`
	X              *float64 `json:"x,omitempty"`
	Y              *float64 `json:"y,omitempty"`
}

// TrustBridge links two social nodes. It is stored directed but read undirected.
type TrustBridge struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	Strength BridgeStrength `json:"strength"`
}

// Connects reports whether the bridge joins a and b in either direction.
func (b TrustBridge) Connects(a, c string) bool {
	return (b.From == a && b.To == c) || (b.From == c && b.To == a)
}
