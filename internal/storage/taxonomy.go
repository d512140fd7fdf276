package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

const leafColumns = `id, category1, category2, category3, app_category_id, app_category_name,
	default_type, default_fix_var`

// GetLeaf retrieves a taxonomy leaf. Unknown ids yield common.ErrUnknownLeaf.
func (s *SQLiteStorage) GetLeaf(ctx context.Context, id string) (*model.TaxonomyLeaf, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrUnknownLeaf, err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+leafColumns+` FROM taxonomy_leaves WHERE id = ?`, id)
	leaf, err := scanLeaf(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", common.ErrUnknownLeaf, id)
		}
		return nil, fmt.Errorf("failed to get taxonomy leaf: %w", err)
	}
	return leaf, nil
}

// ListLeaves returns the whole taxonomy ordered by category path.
func (s *SQLiteStorage) ListLeaves(ctx context.Context) ([]model.TaxonomyLeaf, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leafColumns+` FROM taxonomy_leaves ORDER BY category1, category2, category3, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list taxonomy leaves: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var leaves []model.TaxonomyLeaf
	for rows.Next() {
		leaf, err := scanLeaf(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan taxonomy leaf: %w", err)
		}
		leaves = append(leaves, *leaf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating taxonomy leaves: %w", err)
	}

	return leaves, nil
}

// SaveLeaves upserts taxonomy leaves. Existing leaves not in the input are kept so rules
// pointing at them stay resolvable.
func (s *SQLiteStorage) SaveLeaves(ctx context.Context, leaves []model.TaxonomyLeaf) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLeaves(leaves); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO taxonomy_leaves (`+leafColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				category1 = excluded.category1,
				category2 = excluded.category2,
				category3 = excluded.category3,
				app_category_id = excluded.app_category_id,
				app_category_name = excluded.app_category_name,
				default_type = excluded.default_type,
				default_fix_var = excluded.default_fix_var
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, leaf := range leaves {
			if _, err := stmt.ExecContext(ctx,
				leaf.ID, leaf.Category1, leaf.Category2, leaf.Category3,
				leaf.AppCategoryID, leaf.AppCategoryName,
				string(leaf.DefaultType), string(leaf.DefaultFixVar),
			); err != nil {
				return fmt.Errorf("failed to save taxonomy leaf %q: %w", leaf.ID, err)
			}
		}
		return nil
	})
}

func scanLeaf(row rowScanner) (*model.TaxonomyLeaf, error) {
	var leaf model.TaxonomyLeaf
	var defaultType, fixVar string

	if err := row.Scan(
		&leaf.ID, &leaf.Category1, &leaf.Category2, &leaf.Category3,
		&leaf.AppCategoryID, &leaf.AppCategoryName, &defaultType, &fixVar,
	); err != nil {
		return nil, err
	}

	leaf.DefaultType = model.TransactionType(defaultType)
	leaf.DefaultFixVar = model.FixVar(fixVar)
	return &leaf, nil
}
