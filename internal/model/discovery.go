package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscoveryCandidate is a group of OPEN transactions sharing a description signature,
// proposed as the seed of a new rule. It is derived on demand and never persisted.
type DiscoveryCandidate struct {
	LastSeenDate         time.Time       `json:"last_seen_date"`
	DescriptionSignature string          `json:"description_signature"`
	SampleTransactionID  string          `json:"sample_transaction_id"`
	SampleDescription    string          `json:"sample_description"`
	SuggestedKeyword     string          `json:"suggested_keyword"`
	TotalAbsoluteAmount  decimal.Decimal `json:"total_absolute_amount"`
	OccurrenceCount      int             `json:"occurrence_count"`
}
