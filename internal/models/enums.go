package models

// RiskLevel is the assessed risk of a person or visit.
type RiskLevel string

const (
	RiskLow     RiskLevel = "Low"
	RiskMedium  RiskLevel = "Medium"
	RiskHigh    RiskLevel = "High"
	RiskUnknown RiskLevel = "Unknown"
)

// ValidRiskLevels is the set of all valid risk levels.
var ValidRiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskUnknown}

// IsValid returns true if the risk level is recognized.
func (r RiskLevel) IsValid() bool {
	for _, v := range ValidRiskLevels {
		if r == v {
			return true
		}
	}
	return false
}

// Rank orders risk levels for monotonic comparisons. Unknown ranks lowest.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// Priority is the coarse follow-up priority of a hotspot or visit.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// ValidPriorities is the set of all valid priorities.
var ValidPriorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

// IsValid returns true if the priority is recognized.
func (p Priority) IsValid() bool {
	for _, v := range ValidPriorities {
		if p == v {
			return true
		}
	}
	return false
}

// VerificationStatus tracks whether a registry entry has been confirmed.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "Pending"
	VerificationVerified VerificationStatus = "Verified"
)

// IsValid returns true if the verification status is recognized.
func (v VerificationStatus) IsValid() bool {
	return v == VerificationPending || v == VerificationVerified
}

// KPType identifies a key-population group.
type KPType string

const (
	KPFemaleSexWorker KPType = "FSW"
	KPMenWhoHaveSex   KPType = "MSM"
	KPTransgender     KPType = "TG"
	KPPeopleWhoInject KPType = "PWID"
)

// ValidKPTypes is the set of all key-population groups, in display order.
var ValidKPTypes = []KPType{KPFemaleSexWorker, KPMenWhoHaveSex, KPTransgender, KPPeopleWhoInject}

// IsValid returns true if the key-population group is recognized.
func (k KPType) IsValid() bool {
	for _, v := range ValidKPTypes {
		if k == v {
			return true
		}
	}
	return false
}

// TestResult is the outcome of a self-test kit.
type TestResult string

const (
	TestNotDone     TestResult = ""
	TestReactive    TestResult = "Reactive"
	TestNonReactive TestResult = "Non-Reactive"
	TestInvalid     TestResult = "Invalid"
)

// IsValid returns true if the test result is recognized. An empty result
// means no test was performed.
func (t TestResult) IsValid() bool {
	switch t {
	case TestNotDone, TestReactive, TestNonReactive, TestInvalid:
		return true
	}
	return false
}

// BridgeStrength qualifies a trust relationship between two social nodes.
type BridgeStrength string

const (
	StrengthWeak     BridgeStrength = "Weak"
	StrengthModerate BridgeStrength = "Moderate"
	StrengthStrong   BridgeStrength = "Strong"
	StrengthCritical BridgeStrength = "Critical"
)

// ValidBridgeStrengths is the set of all bridge strengths, weakest first.
var ValidBridgeStrengths = []BridgeStrength{StrengthWeak, StrengthModerate, StrengthStrong, StrengthCritical}

// IsValid returns true if the strength is recognized.
func (s BridgeStrength) IsValid() bool {
	return s.Weight() > 0
}

// Weight is the numeric weight used for influence scoring (Weak=1 .. Critical=4).
func (s BridgeStrength) Weight() int {
	for i, v := range ValidBridgeStrengths {
		if s == v {
			return i + 1
		}
	}
	return 0
}
