package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ribera-group/coordina-cli/internal/roster"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load catalog data from spreadsheet exports",
	Long:  "Imports worker identities and document records from the XLSX or CSV exports produced by HR and document-management systems. Rows that cannot be interpreted are skipped and logged, never fatal.",
}

var importPeopleCmd = &cobra.Command{
	Use:   "people <file>",
	Short: "Import worker identities from an HR export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		types, err := initDoctypes()
		if err != nil {
			return err
		}

		imp := roster.NewImporter(st, types)
		stats, err := imp.ImportPeople(ctx, coordFromFlags(cmd), args[0])
		if err != nil {
			return err
		}

		zap.L().Info("people imported",
			zap.String("file", args[0]),
			zap.Int("rows", stats.RowsSeen),
			zap.Int("imported", stats.Imported),
			zap.Int("skipped", stats.Skipped),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var importDocumentsCmd = &cobra.Command{
	Use:     "documents <file>",
	Aliases: []string{"docs"},
	Short:   "Import catalog documents from a document-management export",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		types, err := initDoctypes()
		if err != nil {
			return err
		}

		imp := roster.NewImporter(st, types)
		stats, err := imp.ImportDocuments(ctx, coordFromFlags(cmd), args[0])
		if err != nil {
			return err
		}

		zap.L().Info("documents imported",
			zap.String("file", args[0]),
			zap.Int("rows", stats.RowsSeen),
			zap.Int("imported", stats.Imported),
			zap.Int("skipped", stats.Skipped),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	addCoordFlags(importPeopleCmd)
	addCoordFlags(importDocumentsCmd)
	importCmd.AddCommand(importPeopleCmd)
	importCmd.AddCommand(importDocumentsCmd)
	rootCmd.AddCommand(importCmd)
}
