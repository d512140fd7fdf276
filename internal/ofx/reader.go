// Package ofx reads OFX/QFX bank and credit card statements into transactions ready for classification.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	tagFixRegex   = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	leadingDate   = regexp.MustCompile(`^\d{2}/\d{2}\s+`)

	// fallbackNamespace derives stable ids for statement lines without a FITID.
	fallbackNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("spice-rules/ofx"))
)

// cardPrefixes are processor boilerplate that precede the merchant name.
var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
	"KARTENZAHLUNG ",
	"LASTSCHRIFT ",
}

// Statement is the normalized content of one OFX file.
type Statement struct {
	Transactions []model.Transaction
	Accounts     []string
	Duplicates   int
}

// TransactionSaver persists imported transactions.
type TransactionSaver interface {
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
}

// ImportResult summarizes one import.
type ImportResult struct {
	Accounts   []string `json:"accounts"`
	Saved      int      `json:"saved"`
	Duplicates int      `json:"duplicates"`
}

// Reader converts OFX statements into transactions owned by one user.
type Reader struct {
	logger *slog.Logger
	userID string
}

// NewReader creates a reader that stamps transactions with userID.
func NewReader(userID string, logger *slog.Logger) *Reader {
	return &Reader{userID: userID, logger: common.OrDefault(logger)}
}

// preprocessOFX fixes common formatting issues in OFX files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	// SGML exports sometimes drop the closing bracket of a bare opening tag.
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// Read parses an OFX/QFX document.
func (r *Reader) Read(ctx context.Context, in io.Reader) (*Statement, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if r.userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	content, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	stmt := &Statement{}
	seen := make(map[string]bool)
	accounts := make(map[string]bool)

	add := func(accountID string, list *ofxgo.TransactionList) error {
		if accountID != "" {
			accounts[accountID] = true
		}
		if list == nil {
			return nil
		}
		for _, ofxTx := range list.Transactions {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("import interrupted: %w", err)
			}
			txn, convErr := r.convertTransaction(ofxTx, accountID)
			if convErr != nil {
				r.logger.Warn("Skipping unreadable statement line",
					"account", accountID,
					"fitid", string(ofxTx.FiTID),
					"error", convErr)
				continue
			}
			if seen[txn.ID] {
				stmt.Duplicates++
				continue
			}
			seen[txn.ID] = true
			stmt.Transactions = append(stmt.Transactions, txn)
		}
		return nil
	}

	var bankStmts, ccStmts int
	for _, msg := range resp.Bank {
		if bank, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			if err := add(string(bank.BankAcctFrom.AcctID), bank.BankTranList); err != nil {
				return nil, err
			}
		}
	}
	for _, msg := range resp.CreditCard {
		if cc, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			if err := add(string(cc.CCAcctFrom.AcctID), cc.BankTranList); err != nil {
				return nil, err
			}
		}
	}

	for acct := range accounts {
		stmt.Accounts = append(stmt.Accounts, acct)
	}
	sort.Strings(stmt.Accounts)

	r.logger.Info("Parsed OFX file",
		"total_transactions", len(stmt.Transactions),
		"duplicates", stmt.Duplicates,
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return stmt, nil
}

// Import reads a statement and saves its transactions. Re-importing a file is idempotent:
// classification state and manual overrides of existing rows are preserved.
func (r *Reader) Import(ctx context.Context, repo TransactionSaver, in io.Reader) (*ImportResult, error) {
	stmt, err := r.Read(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(stmt.Transactions) > 0 {
		if err := repo.SaveTransactions(ctx, stmt.Transactions); err != nil {
			return nil, fmt.Errorf("failed to save transactions: %w", err)
		}
	}
	return &ImportResult{
		Accounts:   stmt.Accounts,
		Saved:      len(stmt.Transactions),
		Duplicates: stmt.Duplicates,
	}, nil
}

func (r *Reader) convertTransaction(ofxTx ofxgo.Transaction, accountID string) (model.Transaction, error) {
	amount, err := decimal.NewFromString(ofxTx.TrnAmt.FloatString(4))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid amount: %w", err)
	}
	if ofxTx.DtPosted.IsZero() {
		return model.Transaction{}, fmt.Errorf("missing posting date")
	}

	description := model.NormalizeText(describe(ofxTx))
	if description == "" {
		return model.Transaction{}, fmt.Errorf("missing description")
	}

	return model.Transaction{
		ID:                    transactionID(ofxTx, accountID, description, amount),
		UserID:                r.userID,
		Date:                  ofxTx.DtPosted.UTC(),
		NormalizedDescription: description,
		Amount:                amount,
		Classification:        model.StateOpen,
	}, nil
}

// transactionID scopes the bank's FITID to its account. Lines without one get a
// name-based UUID so re-imports map to the same row.
func transactionID(ofxTx ofxgo.Transaction, accountID, description string, amount decimal.Decimal) string {
	fitID := strings.TrimSpace(string(ofxTx.FiTID))
	if fitID == "" {
		key := fmt.Sprintf("%s|%s|%s|%s", accountID, ofxTx.DtPosted.UTC().Format("2006-01-02"), amount.String(), description)
		fitID = uuid.NewSHA1(fallbackNamespace, []byte(key)).String()
	}
	if accountID == "" {
		return fitID
	}
	return accountID + ":" + fitID
}

// describe builds the text rules match against: merchant name plus any memo that adds information.
func describe(tx ofxgo.Transaction) string {
	name := merchantName(tx)
	memo := strings.TrimSpace(string(tx.Memo))
	if memo == "" || strings.Contains(strings.ToUpper(name), strings.ToUpper(memo)) {
		return name
	}
	if name == "" || isGenericDescription(name) {
		return memo
	}
	return name + " " + memo
}

// merchantName extracts a clean merchant name from OFX data.
func merchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	upper := strings.ToUpper(name)
	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(leadingDate.ReplaceAllString(name, ""))
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}
