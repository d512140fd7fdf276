package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

const transactionColumns = `id, user_id, date, normalized_description, amount,
	classification, classified_by, applied_rule_id, target_leaf, matched_keyword,
	confidence, candidates, manual_override, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// SaveTransactions inserts transactions, refreshing the raw fields of rows that already exist.
// Classification fields of existing rows are left alone; only reapplication rewrites them.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transactions (
				id, user_id, date, normalized_description, amount,
				classification, classified_by, applied_rule_id, target_leaf, matched_keyword,
				confidence, candidates, manual_override, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET
				date = excluded.date,
				normalized_description = excluded.normalized_description,
				amount = excluded.amount,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now().UTC()
		for _, txn := range transactions {
			res := txn.Result()
			candidates, err := encodeCandidates(res.Candidates)
			if err != nil {
				return err
			}

			if _, err := stmt.ExecContext(ctx,
				txn.ID,
				txn.UserID,
				txn.Date.UTC(),
				txn.NormalizedDescription,
				txn.Amount.String(),
				string(res.State),
				string(res.ClassifiedBy),
				nullableRuleID(res.AppliedRuleID),
				res.TargetLeaf,
				res.MatchedKeyword,
				res.Confidence,
				candidates,
				txn.ManualOverride,
				now,
				now,
			); err != nil {
				return fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
			}
		}
		return nil
	})
}

// GetTransaction returns one transaction.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, userID, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND id = ?`,
		userID, id)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// ListTransactions returns transactions matching filter, ordered by id.
func (s *SQLiteStorage) ListTransactions(ctx context.Context, userID string, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	where, args := transactionWhere(userID, filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where + ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// CountTransactions counts transactions matching filter. Limit is ignored.
func (s *SQLiteStorage) CountTransactions(ctx context.Context, userID string, filter service.TransactionFilter) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return 0, err
	}
	if err := validateFilter(filter); err != nil {
		return 0, err
	}

	where, args := transactionWhere(userID, filter)
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// UpdateClassification conditionally rewrites the classification of one row. Rows under
// manual override, and rows whose state no longer matches RequireState, are refused with
// common.ErrPreconditionFailed.
func (s *SQLiteStorage) UpdateClassification(ctx context.Context, update service.ClassificationUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(update.UserID, "userID"); err != nil {
		return err
	}
	if err := validateString(update.TransactionID, "transactionID"); err != nil {
		return err
	}
	if err := update.Result.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	candidates, err := encodeCandidates(update.Result.Candidates)
	if err != nil {
		return err
	}

	res := update.Result
	query := `
		UPDATE transactions SET
			classification = ?, classified_by = ?, applied_rule_id = ?, target_leaf = ?,
			matched_keyword = ?, confidence = ?, candidates = ?, manual_override = ?, updated_at = ?
		WHERE user_id = ? AND id = ? AND manual_override = 0`
	args := []any{
		string(res.State), string(res.ClassifiedBy), nullableRuleID(res.AppliedRuleID), res.TargetLeaf,
		res.MatchedKeyword, res.Confidence, candidates, update.SetManualOverride, time.Now().UTC(),
		update.UserID, update.TransactionID,
	}
	if update.RequireState != "" {
		query += ` AND classification = ?`
		args = append(args, string(update.RequireState))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update classification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	exists, err := s.transactionExists(ctx, update.UserID, update.TransactionID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("transaction %s: %w", update.TransactionID, common.ErrNotFound)
	}
	return fmt.Errorf("transaction %s: %w", update.TransactionID, common.ErrPreconditionFailed)
}

// ClearManualOverride hands a transaction back to rule-based classification.
func (s *SQLiteStorage) ClearManualOverride(ctx context.Context, userID, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET manual_override = 0, updated_at = ? WHERE user_id = ? AND id = ?`,
		time.Now().UTC(), userID, id)
	if err != nil {
		return fmt.Errorf("failed to clear manual override: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) transactionExists(ctx context.Context, userID, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = ? AND id = ?`,
		userID, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction: %w", err)
	}
	return count > 0, nil
}

func validateFilter(filter service.TransactionFilter) error {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, *filter.EndDate, *filter.StartDate)
	}
	return nil
}

func transactionWhere(userID string, filter service.TransactionFilter) (string, []any) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}

	if filter.StartDate != nil {
		clauses = append(clauses, "date >= ?")
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		clauses = append(clauses, "date <= ?")
		args = append(args, filter.EndDate.UTC())
	}
	if filter.MinAbsAmount != nil {
		clauses = append(clauses, "ABS(CAST(amount AS REAL)) >= ?")
		args = append(args, filter.MinAbsAmount.Abs().InexactFloat64())
	}
	if filter.MaxAbsAmount != nil {
		clauses = append(clauses, "ABS(CAST(amount AS REAL)) <= ?")
		args = append(args, filter.MaxAbsAmount.Abs().InexactFloat64())
	}
	if filter.ManualOverride != nil {
		clauses = append(clauses, "manual_override = ?")
		args = append(args, *filter.ManualOverride)
	}
	if filter.AfterID != "" {
		clauses = append(clauses, "id > ?")
		args = append(args, filter.AfterID)
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		clauses = append(clauses, "classification IN ("+strings.Join(placeholders, ", ")+")")
	}

	return strings.Join(clauses, " AND "), args
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var classification, classifiedBy, candidates string
	var appliedRuleID sql.NullInt64

	err := row.Scan(
		&txn.ID, &txn.UserID, &txn.Date, &txn.NormalizedDescription, &txn.Amount,
		&classification, &classifiedBy, &appliedRuleID, &txn.TargetLeaf, &txn.MatchedKeyword,
		&txn.Confidence, &candidates, &txn.ManualOverride, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.Classification = model.ClassificationState(classification)
	txn.ClassifiedBy = model.ClassifiedBy(classifiedBy)
	if appliedRuleID.Valid {
		id := appliedRuleID.Int64
		txn.AppliedRuleID = &id
	}
	if txn.Candidates, err = decodeCandidates(candidates); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txn.ID, err)
	}

	return &txn, nil
}

func encodeCandidates(candidates []model.Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return "", fmt.Errorf("failed to marshal candidates: %w", err)
	}
	return string(data), nil
}

func decodeCandidates(data string) ([]model.Candidate, error) {
	if data == "" {
		return nil, nil
	}
	var candidates []model.Candidate
	if err := json.Unmarshal([]byte(data), &candidates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidates: %w", err)
	}
	return candidates, nil
}

func nullableRuleID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
