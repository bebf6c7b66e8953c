package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ribera-group/coordina-cli/internal/doctypes"
)

var doctypesCmd = &cobra.Command{
	Use:   "doctypes",
	Short: "Inspect the document type registry",
}

var doctypesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known document types and their portal aliases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		types, err := initDoctypes()
		if err != nil {
			return err
		}
		formatDoctypes(os.Stdout, types.Types())
		return nil
	},
}

func init() {
	doctypesCmd.AddCommand(doctypesListCmd)
	rootCmd.AddCommand(doctypesCmd)
}

// formatDoctypes writes a tabular list of type definitions to w.
func formatDoctypes(out io.Writer, defs []doctypes.TypeDef) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSCOPE\tALIASES")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------")

	for _, d := range defs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			d.ID,
			d.Name,
			d.Scope,
			strings.Join(d.Aliases, ", "),
		)
	}
	_ = w.Flush()
}
