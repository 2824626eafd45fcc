package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"essaypipe/internal/export"
	"essaypipe/internal/model"
)

var exportFlags struct {
	Owner       string
	Out         string
	Status      string
	NeedsReview bool
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the roster CSV",
	Long: "export writes approved submissions to CSV by default. Use\n" +
		"--needs-review for the partition still awaiting a decision.",
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFlags.Owner, "owner", "", "owner whose records to export (required)")
	exportCmd.Flags().StringVar(&exportFlags.Out, "out", "roster.csv", "output file, - for stdout")
	exportCmd.Flags().StringVar(&exportFlags.Status, "status", "", "export this status instead of APPROVED")
	exportCmd.Flags().BoolVar(&exportFlags.NeedsReview, "needs-review", false, "export the needs-review partition")
	_ = exportCmd.MarkFlagRequired("owner")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := os.Stdout
	if exportFlags.Out != "-" {
		f, err := os.Create(exportFlags.Out)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportFlags.Out, err)
		}
		defer f.Close()
		out = f
	}

	n, err := a.exporter.Export(cmd.Context(), exportFlags.Owner, out, export.Options{
		Status:          model.Status(exportFlags.Status),
		NeedsReviewOnly: exportFlags.NeedsReview,
		BaseURL:         cfg.Storage.BaseURL,
	})
	if err != nil {
		return err
	}

	if exportFlags.Out != "-" && !globalFlags.Quiet {
		st := newStyles(os.Stdout, globalFlags.JSON)
		fmt.Printf("%s %d rows to %s\n", st.Success.Render("exported"), n, exportFlags.Out)
	}
	return nil
}
