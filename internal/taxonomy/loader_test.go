package taxonomy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/spice-rules/internal/model"
)

const seedYAML = `
leaves:
  - id: subscriptions
    category1: Living
    category2: Media
    category3: Subscriptions
    default_fix_var: fixed
  - id: groceries
    category1: Living
    category2: Food
    category3: Groceries
    app_category_id: "12"
    app_category_name: Groceries
  - id: salary
    category1: Income
    default_type: income
`

func TestLoad(t *testing.T) {
	leaves, err := Load(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.Len(t, leaves, 3)

	assert.Equal(t, "groceries", leaves[0].ID)
	assert.Equal(t, "salary", leaves[1].ID)
	assert.Equal(t, "subscriptions", leaves[2].ID)

	assert.Equal(t, model.TypeExpense, leaves[0].DefaultType)
	assert.Equal(t, model.FixVarVariable, leaves[0].DefaultFixVar)
	assert.Equal(t, "12", leaves[0].AppCategoryID)
	assert.Equal(t, model.TypeIncome, leaves[1].DefaultType)
	assert.Equal(t, model.FixVarFixed, leaves[2].DefaultFixVar)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "leaves:\n  - id: a\n    category1: A\n    colour: red\n",
			wantErr: "failed to decode taxonomy",
		},
		{
			name:    "missing id",
			yaml:    "leaves:\n  - category1: A\n",
			wantErr: "id is required",
		},
		{
			name:    "duplicate id",
			yaml:    "leaves:\n  - id: a\n    category1: A\n  - id: a\n    category1: B\n",
			wantErr: "duplicate leaf id",
		},
		{
			name:    "missing category1",
			yaml:    "leaves:\n  - id: a\n",
			wantErr: "category1 is required",
		},
		{
			name:    "bad default type",
			yaml:    "leaves:\n  - id: a\n    category1: A\n    default_type: refund\n",
			wantErr: "invalid default_type",
		},
		{
			name:    "bad fix var",
			yaml:    "leaves:\n  - id: a\n    category1: A\n    default_fix_var: sometimes\n",
			wantErr: "invalid default_fix_var",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	leaves, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, leaves, 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
