package topology

import (
	"regexp"
	"strings"
)

// Verdict is the governance signal detected in a node's output.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictApprove
	VerdictVeto
)

func (v Verdict) String() string {
	switch v {
	case VerdictApprove:
		return "approve"
	case VerdictVeto:
		return "veto"
	default:
		return "none"
	}
}

var (
	vetoDecision    = regexp.MustCompile(`(?i)DECISION\s*:\s*NOGO`)
	approveDecision = regexp.MustCompile(`(?i)(DECISION|STATUT)\s*:\s*GO\b`)
)

// DetectVerdict scans text for veto and approval markers. A veto always
// takes precedence over an approval in the same text.
func DetectVerdict(text string) Verdict {
	upper := strings.ToUpper(text)

	if strings.Contains(upper, "[VETO]") ||
		strings.Contains(upper, "[NOGO]") ||
		vetoDecision.MatchString(text) ||
		strings.Contains(upper, "\nNOGO\n") ||
		strings.TrimSpace(upper) == "NOGO" {
		return VerdictVeto
	}

	if strings.Contains(upper, "[APPROVE]") || approveDecision.MatchString(text) {
		return VerdictApprove
	}

	return VerdictNone
}
