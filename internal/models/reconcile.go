package models

// VerdictKind classifies one discrepancy between local belief and the
// broker's book.
type VerdictKind string

const (
	// VerdictPhantom — local believes open, broker shows none; clear local.
	VerdictPhantom VerdictKind = "phantom"
	// VerdictOrphan — broker shows a position local does not know; rebuild local.
	VerdictOrphan VerdictKind = "orphan"
	// VerdictMismatch — both show a position but quantities differ; broker wins.
	VerdictMismatch VerdictKind = "mismatch"
)

// Verdict — exactly one per (strategy, instrument) pair per reconciliation
// pass. Every verdict produces a state mutation, an alert, or both.
type Verdict struct {
	Strategy   string
	Instrument string
	Kind       VerdictKind
	LocalQty   float64
	BrokerQty  float64
	BrokerSide Side
	BrokerAvg  float64
}
