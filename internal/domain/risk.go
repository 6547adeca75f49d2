package domain

// RiskResult is the transient outcome of a single risk check. It is
// produced per check and never persisted.
type RiskResult struct {
	Approved  bool
	Reason    string
	RiskScore float64
	Warnings  []string
}

// Approve returns an approving result carrying any accumulated warnings and
// score contributions.
func Approve(score float64, warnings []string) RiskResult {
	return RiskResult{Approved: true, RiskScore: score, Warnings: warnings}
}

// Reject returns a hard rejection with the given reason.
func Reject(reason string) RiskResult {
	return RiskResult{Approved: false, Reason: reason, RiskScore: 1.0}
}

// RiskTier classifies a position's risk exposure.
type RiskTier string

const (
	RiskTierLow    RiskTier = "LOW"
	RiskTierMedium RiskTier = "MEDIUM"
	RiskTierHigh   RiskTier = "HIGH"
)
