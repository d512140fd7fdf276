package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/ofx"
)

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "Import and inspect transactions",
	}
	cmd.AddCommand(transactionsImportCmd())
	cmd.AddCommand(transactionsListCmd())
	cmd.AddCommand(transactionsClearOverrideCmd())
	return cmd
}

func transactionsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files or directories...]",
		Short: "Import transactions from OFX/QFX files and classify them",
		Long: `Import bank statements exported as OFX or QFX. Directories are searched for
*.ofx and *.qfx files. Re-importing a statement is idempotent and keeps existing
classifications and manual overrides.

Examples:
  spice-rules transactions import ~/Downloads/girokonto_2024-03.ofx
  spice-rules transactions import ~/Downloads/statements/`,
		Args: cobra.MinimumNArgs(1),
		RunE: runTransactionsImport,
	}
	cmd.Flags().Bool("dry-run", false, "Parse files without saving")
	cmd.Flags().Bool("no-reapply", false, "Do not classify after importing")
	return cmd
}

func runTransactionsImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	files, err := collectStatementFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no OFX or QFX files found")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reader := ofx.NewReader(a.cfg.User.ID, a.logger)
	statements := make([]*ofx.Statement, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			f, err := os.Open(filepath.Clean(path))
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer func() { _ = f.Close() }()

			stmt, err := reader.Read(gctx, f)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", path, err)
			}
			statements[i] = stmt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := 0
	for i, stmt := range statements {
		slog.Info("Parsed statement",
			"file", files[i],
			"accounts", strings.Join(stmt.Accounts, ","),
			"transactions", len(stmt.Transactions),
			"duplicates", stmt.Duplicates)
		if dryRun || len(stmt.Transactions) == 0 {
			continue
		}
		if err := a.db.SaveTransactions(ctx, stmt.Transactions); err != nil {
			return fmt.Errorf("failed to save %s: %w", files[i], err)
		}
		total += len(stmt.Transactions)
	}

	if dryRun {
		fmt.Println(cli.FormatInfo("Dry run: nothing saved")) //nolint:forbidigo // User-facing output
		return nil
	}
	fmt.Println(cli.FormatSuccess(fmt.Sprintf("Imported %d transaction(s) from %d file(s)", total, len(files)))) //nolint:forbidigo // User-facing output
	return reapplyAfterEdit(cmd, a)
}

// collectStatementFiles expands directories to the OFX and QFX files they contain.
func collectStatementFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".ofx" || ext == ".qfx") {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	return files, nil
}

func transactionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			after, _ := cmd.Flags().GetString("after")
			manual, _ := cmd.Flags().GetBool("manual")

			filter, err := filterFromFlags(cmd)
			if err != nil {
				return err
			}
			filter.AfterID = after
			filter.Limit = limit
			if cmd.Flags().Changed("manual") {
				filter.ManualOverride = &manual
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			txns, err := a.db.ListTransactions(cmd.Context(), a.cfg.User.ID, filter)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			if asJSON {
				return printJSON(txns)
			}
			if err := printTransactions(txns); err != nil {
				return err
			}
			if limit > 0 && len(txns) == limit {
				fmt.Println(cli.SubtleStyle.Render("More rows: --after " + txns[len(txns)-1].ID)) //nolint:forbidigo // User-facing output
			}
			return nil
		},
	}
	addFilterFlags(cmd)
	cmd.Flags().Int("limit", 100, "Maximum rows")
	cmd.Flags().String("after", "", "Continue after this transaction id")
	cmd.Flags().Bool("manual", false, "Only (or, with =false, never) manually overridden rows")
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}

func transactionsClearOverrideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-override <transaction-id>",
		Short: "Return a manually classified transaction to rule-based classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.ClearManualOverride(cmd.Context(), a.cfg.User.ID, args[0]); err != nil {
				return fmt.Errorf("failed to clear override: %w", err)
			}
			txn, outcome, err := a.orchestrator.ReapplyTransaction(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to reclassify: %w", err)
			}
			fmt.Printf("%s %s (%s)\n", txn.ID, cli.FormatState(txn.Classification), outcome) //nolint:forbidigo // User-facing output
			return nil
		},
	}
}
