package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/mattn/go-sqlite3"
)

const ruleColumns = `id, user_id, name, target_leaf, positive_keywords, negative_keywords,
	priority, strict, is_active, is_system, created_at, updated_at`

// CreateRule inserts a rule. It returns common.ErrDuplicateRuleForLeaf when an active rule
// already targets the same leaf for the user.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	positive, negative, err := encodeKeywords(rule.PositiveKeywords, rule.NegativeKeywords)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (
			user_id, name, target_leaf, positive_keywords, negative_keywords,
			priority, strict, is_active, is_system, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.UserID, rule.Name, rule.TargetLeaf, positive, negative,
		rule.Priority, rule.Strict, rule.Active, rule.IsSystem, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("leaf %q: %w", rule.TargetLeaf, common.ErrDuplicateRuleForLeaf)
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule ID: %w", err)
	}

	rule.ID = id
	rule.PositiveKeywords = model.NewKeywordSet(rule.PositiveKeywords...)
	rule.NegativeKeywords = model.NewKeywordSet(rule.NegativeKeywords...)
	rule.CreatedAt = now
	rule.UpdatedAt = now

	return nil
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStorage) GetRule(ctx context.Context, userID string, id int64) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	return getRuleTx(ctx, s.db, userID, id)
}

// GetActiveRuleByLeaf retrieves the active rule that targets leaf.
func (s *SQLiteStorage) GetActiveRuleByLeaf(ctx context.Context, userID, leaf string) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(leaf, "leaf"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE user_id = ? AND target_leaf = ? AND is_active = 1`,
		userID, leaf)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("active rule for leaf %q: %w", leaf, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule for leaf: %w", err)
	}
	return rule, nil
}

// ListRules returns the user's rules ordered by id.
func (s *SQLiteStorage) ListRules(ctx context.Context, userID string, activeOnly bool) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM rules WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}

// ApplyKeywordDelta unions delta into the rule's keyword sets inside one transaction, so
// concurrent deltas against the same rule cannot lose each other's keywords.
func (s *SQLiteStorage) ApplyKeywordDelta(ctx context.Context, userID string, id int64, delta model.KeywordDelta) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	return s.rewriteKeywords(ctx, userID, id, func(rule model.Rule) model.Rule {
		return delta.ApplyTo(rule)
	})
}

// RemoveKeywords deletes keywords from the rule's sets inside one transaction.
func (s *SQLiteStorage) RemoveKeywords(ctx context.Context, userID string, id int64, positive, negative model.KeywordSet) (*model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	return s.rewriteKeywords(ctx, userID, id, func(rule model.Rule) model.Rule {
		rule.PositiveKeywords = rule.PositiveKeywords.Without(positive)
		rule.NegativeKeywords = rule.NegativeKeywords.Without(negative)
		return rule
	})
}

func (s *SQLiteStorage) rewriteKeywords(ctx context.Context, userID string, id int64, change func(model.Rule) model.Rule) (*model.Rule, error) {
	var updated *model.Rule

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getRuleTx(ctx, tx, userID, id)
		if err != nil {
			return err
		}

		next := change(*current)
		if next.PositiveKeywords.IsEmpty() {
			return fmt.Errorf("rule %d: %w", id, common.ErrInvalidKeywordSet)
		}

		positive, negative, err := encodeKeywords(next.PositiveKeywords, next.NegativeKeywords)
		if err != nil {
			return err
		}

		next.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE rules SET positive_keywords = ?, negative_keywords = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
			positive, negative, next.UpdatedAt, userID, id,
		); err != nil {
			return fmt.Errorf("failed to update rule keywords: %w", err)
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateRuleRank changes a rule's priority and strictness.
func (s *SQLiteStorage) UpdateRuleRank(ctx context.Context, userID string, id int64, rank model.MatchRank) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE rules SET priority = ?, strict = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		rank.Priority, rank.Strict, time.Now().UTC(), userID, id)
	if err != nil {
		return fmt.Errorf("failed to update rule rank: %w", err)
	}
	return requireAffected(result, "rule", id)
}

// SetRuleActive toggles a rule. Activation fails with common.ErrDuplicateRuleForLeaf when
// another active rule already targets the leaf.
func (s *SQLiteStorage) SetRuleActive(ctx context.Context, userID string, id int64, active bool) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE rules SET is_active = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		active, time.Now().UTC(), userID, id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rule %d: %w", id, common.ErrDuplicateRuleForLeaf)
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireAffected(result, "rule", id)
}

// DeleteRule deletes a rule.
func (s *SQLiteStorage) DeleteRule(ctx context.Context, userID string, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return requireAffected(result, "rule", id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRuleTx(ctx context.Context, q queryRower, userID string, id int64) (*model.Rule, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE user_id = ? AND id = ?`,
		userID, id)

	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

func scanRule(row rowScanner) (*model.Rule, error) {
	var rule model.Rule
	var positive, negative string

	err := row.Scan(
		&rule.ID, &rule.UserID, &rule.Name, &rule.TargetLeaf, &positive, &negative,
		&rule.Priority, &rule.Strict, &rule.Active, &rule.IsSystem, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rule.PositiveKeywords, err = decodeKeywords(positive); err != nil {
		return nil, fmt.Errorf("rule %d positive keywords: %w", rule.ID, err)
	}
	if rule.NegativeKeywords, err = decodeKeywords(negative); err != nil {
		return nil, fmt.Errorf("rule %d negative keywords: %w", rule.ID, err)
	}

	return &rule, nil
}

func encodeKeywords(positive, negative model.KeywordSet) (string, string, error) {
	pos, err := json.Marshal(model.NewKeywordSet(positive...).Strings())
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal positive keywords: %w", err)
	}
	neg, err := json.Marshal(model.NewKeywordSet(negative...).Strings())
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal negative keywords: %w", err)
	}
	return string(pos), string(neg), nil
}

func decodeKeywords(data string) (model.KeywordSet, error) {
	if data == "" {
		return model.KeywordSet{}, nil
	}
	var words []string
	if err := json.Unmarshal([]byte(data), &words); err != nil {
		return nil, err
	}
	return model.NewKeywordSet(words...), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func requireAffected(result sql.Result, kind string, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, common.ErrNotFound)
	}
	return nil
}
