package taxonomy

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Veraticus/spice-rules/internal/model"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a taxonomy seed file:
//
//	leaves:
//	  - id: food.groceries
//	    category1: Living
//	    category2: Food
//	    category3: Groceries
//	    app_category_id: "12"
//	    app_category_name: Groceries
//	    default_type: expense
//	    default_fix_var: variable
type File struct {
	Leaves []model.TaxonomyLeaf `yaml:"leaves"`
}

// Load decodes and validates a taxonomy seed document.
func Load(r io.Reader) ([]model.TaxonomyLeaf, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy: %w", err)
	}

	for i := range file.Leaves {
		applyDefaults(&file.Leaves[i])
	}

	if err := Validate(file.Leaves); err != nil {
		return nil, err
	}

	sortLeaves(file.Leaves)
	return file.Leaves, nil
}

// LoadFile reads a taxonomy seed file from disk.
func LoadFile(path string) ([]model.TaxonomyLeaf, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open taxonomy file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Load(f)
}

// Validate checks ids are present and unique and enum fields hold known values.
func Validate(leaves []model.TaxonomyLeaf) error {
	seen := make(map[string]bool, len(leaves))
	for i, leaf := range leaves {
		if leaf.ID == "" {
			return fmt.Errorf("leaf at index %d: id is required", i)
		}
		if seen[leaf.ID] {
			return fmt.Errorf("duplicate leaf id %q", leaf.ID)
		}
		seen[leaf.ID] = true

		if leaf.Category1 == "" {
			return fmt.Errorf("leaf %q: category1 is required", leaf.ID)
		}

		switch leaf.DefaultType {
		case model.TypeExpense, model.TypeIncome, model.TypeTransfer:
		default:
			return fmt.Errorf("leaf %q: invalid default_type %q", leaf.ID, leaf.DefaultType)
		}

		switch leaf.DefaultFixVar {
		case model.FixVarFixed, model.FixVarVariable:
		default:
			return fmt.Errorf("leaf %q: invalid default_fix_var %q", leaf.ID, leaf.DefaultFixVar)
		}
	}
	return nil
}

func applyDefaults(leaf *model.TaxonomyLeaf) {
	if leaf.DefaultType == "" {
		leaf.DefaultType = model.TypeExpense
	}
	if leaf.DefaultFixVar == "" {
		leaf.DefaultFixVar = model.FixVarVariable
	}
}

func sortLeaves(leaves []model.TaxonomyLeaf) {
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].ID < leaves[j].ID })
}
