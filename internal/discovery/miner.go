// Package discovery mines OPEN transactions for recurring descriptions and proposes them
// as new rules. It never writes rules on its own.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/rules"
	"github.com/Veraticus/spice-rules/internal/service"
	"github.com/shopspring/decimal"
)

// Limits and defaults for discovery queries.
const (
	DefaultLimit          = 50
	MaxLimit              = 200
	DefaultMinOccurrences = 2
	// MinOccurrencesFloor keeps single occurrences from ever being proposed.
	MinOccurrencesFloor = 2
)

// SortKey selects the ranking of discovery candidates.
type SortKey string

// Sort keys.
const (
	SortByCount   SortKey = "count"
	SortByAmount  SortKey = "amount"
	SortByRecency SortKey = "recency"
)

// Direction is the sort direction.
type Direction string

// Sort directions.
const (
	Descending Direction = "desc"
	Ascending  Direction = "asc"
)

// Filter narrows and orders a discovery run. Amount bounds apply to each transaction's
// absolute amount.
type Filter struct {
	StartDate      *time.Time
	EndDate        *time.Time
	MinAbsAmount   *decimal.Decimal
	MaxAbsAmount   *decimal.Decimal
	SortBy         SortKey
	Direction      Direction
	MinOccurrences int
	Limit          int
}

// Validate checks the enumerated fields.
func (f Filter) Validate() error {
	switch f.SortBy {
	case "", SortByCount, SortByAmount, SortByRecency:
	default:
		return fmt.Errorf("unknown sort key %q", f.SortBy)
	}
	switch f.Direction {
	case "", Descending, Ascending:
	default:
		return fmt.Errorf("unknown sort direction %q", f.Direction)
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return fmt.Errorf("end date is before start date")
	}
	return nil
}

// Config holds miner settings.
type Config struct {
	// SignatureLength truncates signatures to this many runes; 0 keeps them whole.
	SignatureLength int
	MinOccurrences  int
	Limit           int
	PageSize        int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MinOccurrences: DefaultMinOccurrences,
		Limit:          DefaultLimit,
		PageSize:       500,
	}
}

// RuleCreator is the Rule Store entry point accepted candidates go through.
type RuleCreator interface {
	Create(ctx context.Context, in rules.NewRule) (*rules.CreateResult, error)
}

// Miner groups OPEN transactions by description signature.
type Miner struct {
	transactions service.TransactionRepository
	rules        RuleCreator
	logger       *slog.Logger
	userID       string
	config       Config
}

// NewMiner creates a miner for userID.
func NewMiner(transactions service.TransactionRepository, rules RuleCreator, userID string, config Config, logger *slog.Logger) *Miner {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.Limit <= 0 {
		config.Limit = defaults.Limit
	}
	if config.MinOccurrences <= 0 {
		config.MinOccurrences = defaults.MinOccurrences
	}
	return &Miner{
		transactions: transactions,
		rules:        rules,
		userID:       userID,
		config:       config,
		logger:       common.OrDefault(logger),
	}
}

// Discover returns ranked candidates from the user's OPEN transactions.
func (m *Miner) Discover(ctx context.Context, filter Filter) ([]model.DiscoveryCandidate, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.MinOccurrences == 0 {
		filter.MinOccurrences = m.config.MinOccurrences
	}
	if filter.Limit == 0 {
		filter.Limit = m.config.Limit
	}

	manual := false
	page := service.TransactionFilter{
		StartDate:      filter.StartDate,
		EndDate:        filter.EndDate,
		MinAbsAmount:   filter.MinAbsAmount,
		MaxAbsAmount:   filter.MaxAbsAmount,
		ManualOverride: &manual,
		States:         []model.ClassificationState{model.StateOpen},
		Limit:          m.config.PageSize,
	}

	agg := NewAggregator(m.config.SignatureLength)
	scanned := 0
	for {
		txns, err := m.transactions.ListTransactions(ctx, m.userID, page)
		if err != nil {
			return nil, fmt.Errorf("failed to load open transactions: %w", err)
		}
		for _, txn := range txns {
			agg.Add(txn)
		}
		scanned += len(txns)
		if len(txns) < page.Limit {
			break
		}
		page.AfterID = txns[len(txns)-1].ID
	}

	candidates := agg.Candidates(filter)
	m.logger.Info("Discovery complete",
		"scanned", scanned,
		"signatures", agg.Len(),
		"candidates", len(candidates))

	return candidates, nil
}

// AcceptRequest turns a discovery candidate into a rule.
type AcceptRequest struct {
	Signature string
	// Keyword defaults to the signature.
	Keyword  string
	Leaf     string
	Name     string
	Priority int
	Strict   bool
}

// AcceptCandidate creates a rule for the candidate's leaf, or merges the keyword into the
// leaf's existing rule.
func (m *Miner) AcceptCandidate(ctx context.Context, req AcceptRequest) (*rules.CreateResult, error) {
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		keyword = req.Signature
	}
	name := req.Name
	if name == "" {
		name = model.NormalizeText(req.Signature)
	}

	res, err := m.rules.Create(ctx, rules.NewRule{
		Name:       name,
		TargetLeaf: req.Leaf,
		Positive:   []string{keyword},
		Priority:   req.Priority,
		Strict:     req.Strict,
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Accepted discovery candidate",
		"signature", req.Signature,
		"keyword", model.NormalizeText(keyword),
		"rule_id", res.Rule.ID,
		"merged", res.Merged)

	return res, nil
}

// Aggregator accumulates OPEN transactions into signature groups.
type Aggregator struct {
	groups          map[string]*model.DiscoveryCandidate
	signatureLength int
}

// NewAggregator creates an empty aggregator.
func NewAggregator(signatureLength int) *Aggregator {
	return &Aggregator{
		groups:          make(map[string]*model.DiscoveryCandidate),
		signatureLength: signatureLength,
	}
}

// Len returns the number of distinct signatures seen.
func (a *Aggregator) Len() int {
	return len(a.groups)
}

// Add folds one transaction into its group. Non-OPEN transactions and descriptions that
// reduce to an empty signature are ignored.
func (a *Aggregator) Add(txn model.Transaction) {
	if txn.Classification != model.StateOpen && txn.Classification != "" {
		return
	}
	sig := Signature(txn.NormalizedDescription, a.signatureLength)
	if sig == "" {
		return
	}

	g, ok := a.groups[sig]
	if !ok {
		g = &model.DiscoveryCandidate{DescriptionSignature: sig}
		a.groups[sig] = g
	}

	g.OccurrenceCount++
	g.TotalAbsoluteAmount = g.TotalAbsoluteAmount.Add(txn.Amount.Abs())
	if g.SampleTransactionID == "" || txn.Date.After(g.LastSeenDate) {
		g.LastSeenDate = txn.Date
		g.SampleTransactionID = txn.ID
		g.SampleDescription = txn.NormalizedDescription
	}
}

// Candidates ranks the groups that pass filter. Date and amount bounds are expected to be
// applied when transactions are added.
func (a *Aggregator) Candidates(filter Filter) []model.DiscoveryCandidate {
	minOccurrences := filter.MinOccurrences
	if minOccurrences < MinOccurrencesFloor {
		minOccurrences = MinOccurrencesFloor
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	// Token frequency counts distinct signatures, not transactions.
	frequency := make(map[string]int)
	for sig := range a.groups {
		for _, t := range keywordTokens(sig) {
			frequency[t]++
		}
	}

	out := make([]model.DiscoveryCandidate, 0, len(a.groups))
	for sig, g := range a.groups {
		if g.OccurrenceCount < minOccurrences {
			continue
		}
		c := *g
		c.SuggestedKeyword = suggestKeyword(sig, frequency)
		out = append(out, c)
	}

	sortCandidates(out, filter.SortBy, filter.Direction)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortCandidates(candidates []model.DiscoveryCandidate, key SortKey, dir Direction) {
	ascending := dir == Ascending
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		var cmp int
		switch key {
		case SortByAmount:
			cmp = a.TotalAbsoluteAmount.Cmp(b.TotalAbsoluteAmount)
		case SortByRecency:
			cmp = a.LastSeenDate.Compare(b.LastSeenDate)
		default:
			cmp = compareInts(a.OccurrenceCount, b.OccurrenceCount)
		}

		if cmp != 0 {
			if ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return a.DescriptionSignature < b.DescriptionSignature
	})
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
