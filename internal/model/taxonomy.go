package model

import "strings"

// TransactionType is the default booking direction of a taxonomy leaf.
type TransactionType string

// Transaction types.
const (
	TypeExpense  TransactionType = "expense"
	TypeIncome   TransactionType = "income"
	TypeTransfer TransactionType = "transfer"
)

// FixVar flags whether spending in a leaf is a fixed or a variable cost.
type FixVar string

// Fixed/variable flags.
const (
	FixVarFixed    FixVar = "fixed"
	FixVarVariable FixVar = "variable"
)

// TaxonomyLeaf is the most specific node a transaction can be classified into.
type TaxonomyLeaf struct {
	ID              string          `json:"id" yaml:"id"`
	Category1       string          `json:"category1" yaml:"category1"`
	Category2       string          `json:"category2" yaml:"category2"`
	Category3       string          `json:"category3" yaml:"category3"`
	AppCategoryID   string          `json:"app_category_id" yaml:"app_category_id"`
	AppCategoryName string          `json:"app_category_name" yaml:"app_category_name"`
	DefaultType     TransactionType `json:"default_type" yaml:"default_type"`
	DefaultFixVar   FixVar          `json:"default_fix_var" yaml:"default_fix_var"`
}

// Path joins the non-empty category levels, e.g. "Living > Food > Groceries".
func (l TaxonomyLeaf) Path() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Category1, l.Category2, l.Category3} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " > ")
}
