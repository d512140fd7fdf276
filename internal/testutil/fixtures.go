package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/spice-rules/internal/model"
)

// Leaf ids used across tests.
const (
	LeafGroceries     = "groceries"
	LeafHousehold     = "household"
	LeafDining        = "dining"
	LeafTransport     = "transport"
	LeafSubscriptions = "subscriptions"
	LeafDonations     = "donations"
	LeafSalary        = "salary"
)

// Fixture is a named, reusable taxonomy for tests.
type Fixture struct {
	name   string
	leaves []model.TaxonomyLeaf
}

// Name returns the fixture's descriptive name.
func (f Fixture) Name() string { return f.name }

// Leaves returns a copy of the fixture's taxonomy leaves.
func (f Fixture) Leaves() []model.TaxonomyLeaf {
	out := make([]model.TaxonomyLeaf, len(f.leaves))
	copy(out, f.leaves)
	return out
}

// Leaf returns the fixture leaf with id. It panics on an unknown id.
func (f Fixture) Leaf(id string) model.TaxonomyLeaf {
	for _, leaf := range f.leaves {
		if leaf.ID == id {
			return leaf
		}
	}
	panic("testutil: unknown fixture leaf " + id)
}

func leaf(id, c1, c2, c3 string, fixVar model.FixVar, txType model.TransactionType) model.TaxonomyLeaf {
	return model.TaxonomyLeaf{
		ID:            id,
		Category1:     c1,
		Category2:     c2,
		Category3:     c3,
		DefaultType:   txType,
		DefaultFixVar: fixVar,
	}
}

// Predefined fixtures for common test scenarios.
var (
	// FixtureMinimal holds a single leaf.
	FixtureMinimal = Fixture{
		name: "Minimal",
		leaves: []model.TaxonomyLeaf{
			leaf(LeafGroceries, "Living", "Food", "Groceries", model.FixVarVariable, model.TypeExpense),
		},
	}

	// FixtureStandard covers the leaves most classification tests need.
	FixtureStandard = Fixture{
		name: "Standard",
		leaves: []model.TaxonomyLeaf{
			leaf(LeafGroceries, "Living", "Food", "Groceries", model.FixVarVariable, model.TypeExpense),
			leaf(LeafHousehold, "Living", "Household", "", model.FixVarVariable, model.TypeExpense),
			leaf(LeafDining, "Living", "Food", "Restaurants", model.FixVarVariable, model.TypeExpense),
			leaf(LeafTransport, "Mobility", "Taxi", "", model.FixVarVariable, model.TypeExpense),
			leaf(LeafSubscriptions, "Leisure", "Subscriptions", "", model.FixVarFixed, model.TypeExpense),
			leaf(LeafDonations, "Social", "Donations", "", model.FixVarVariable, model.TypeExpense),
			leaf(LeafSalary, "Income", "Salary", "", model.FixVarFixed, model.TypeIncome),
		},
	}
)

// BaseDate is the date OpenTransaction offsets from.
var BaseDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// OpenTransaction builds an unclassified transaction dated day days after BaseDate.
func OpenTransaction(id, description, amount string, day int) model.Transaction {
	return model.Transaction{
		ID:                    id,
		Date:                  BaseDate.AddDate(0, 0, day),
		NormalizedDescription: description,
		Amount:                decimal.RequireFromString(amount),
		Classification:        model.StateOpen,
	}
}
