package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/spice-rules/internal/cli"
	"github.com/Veraticus/spice-rules/internal/taxonomy"
)

func taxonomyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "Manage the category taxonomy",
	}
	cmd.AddCommand(taxonomyImportCmd())
	cmd.AddCommand(taxonomyListCmd())
	return cmd
}

func taxonomyImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Upsert taxonomy leaves from a YAML file",
		Long: `The file lists leaves under a top-level "leaves" key:

  leaves:
    - id: groceries
      category1: Living
      category2: Food
      category3: Groceries
      default_type: expense
      default_fix_var: variable`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			leaves, err := taxonomy.LoadFile(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.resolver.Import(cmd.Context(), leaves); err != nil {
				return fmt.Errorf("failed to import taxonomy: %w", err)
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Imported %d leaves", len(leaves)))) //nolint:forbidigo // User-facing output
			return nil
		},
	}
}

func taxonomyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List taxonomy leaves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			leaves, err := a.resolver.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list taxonomy: %w", err)
			}
			if asJSON {
				return printJSON(leaves)
			}

			w := newTable()
			defer flushTable(w)
			if err := writeHeader(w, "ID", "Path", "Type", "Fix/Var"); err != nil {
				return err
			}
			for _, l := range leaves {
				if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.ID, l.Path(), l.DefaultType, l.DefaultFixVar); err != nil {
					return fmt.Errorf("failed to write leaf row: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print as JSON")
	return cmd
}
