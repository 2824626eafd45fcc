package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"essaypipe/internal/ingest"
	"essaypipe/internal/model"
	"essaypipe/internal/worker"
)

var enqueueFlags struct {
	Owner      string
	BatchLabel string
	OCRHint    string
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <file> [file...]",
	Short: "Queue uploaded files for processing",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueFlags.Owner, "owner", "", "owner identity for the uploads (required)")
	enqueueCmd.Flags().StringVar(&enqueueFlags.BatchLabel, "batch-label", "", "label grouping these files into one upload batch")
	enqueueCmd.Flags().StringVar(&enqueueFlags.OCRHint, "ocr-hint", "", "recognition backend hint for these files")
	_ = enqueueCmd.MarkFlagRequired("owner")
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	st := newStyles(os.Stdout, globalFlags.JSON)
	ctx := cmd.Context()

	batchID := ""
	if len(args) > 1 || enqueueFlags.BatchLabel != "" {
		batchID = uuid.NewString()
		if err := a.store.CreateBatch(ctx, &model.UploadBatch{
			BatchID: batchID,
			OwnerID: enqueueFlags.Owner,
			Label:   enqueueFlags.BatchLabel,
		}); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
	}

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		req := &model.UploadRequest{
			FileBytes:       data,
			Filename:        filepath.Base(path),
			OwnerID:         enqueueFlags.Owner,
			UploadBatchID:   batchID,
			OCRProviderHint: enqueueFlags.OCRHint,
		}
		jobID, err := worker.Enqueue(ctx, a.store, req)
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", path, err)
		}
		sid := ingest.SubmissionID(data)

		if globalFlags.JSON {
			out, _ := json.Marshal(map[string]string{
				"file":          path,
				"job_id":        jobID,
				"submission_id": sid,
				"batch_id":      batchID,
			})
			fmt.Println(string(out))
			continue
		}
		fmt.Printf("%s %s %s\n",
			st.Success.Render("queued"),
			st.Value.Render(filepath.Base(path)),
			st.dim("submission="+sid+" job="+jobID))
	}

	if batchID != "" && !globalFlags.JSON && !globalFlags.Quiet {
		fmt.Println(st.dim("batch=" + batchID))
	}
	return nil
}
