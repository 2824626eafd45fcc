package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"essaypipe/internal/model"
)

var statusFlags struct {
	Batch string
}

var statusCmd = &cobra.Command{
	Use:   "status [submission-id]",
	Short: "Show queue depth and record counts, or one submission's history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.Batch, "batch", "", "summarize one upload batch instead")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		return showSubmission(cmd, a, args[0])
	}
	if statusFlags.Batch != "" {
		return showBatch(cmd, a, statusFlags.Batch)
	}
	return showOverview(cmd, a)
}

func showOverview(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	queued, started, err := a.store.Depth(ctx)
	if err != nil {
		return err
	}
	counts, err := a.store.CountByStatus(ctx)
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		out, _ := json.Marshal(map[string]any{
			"queue":   map[string]int{"queued": queued, "started": started},
			"records": counts,
		})
		fmt.Println(string(out))
		return nil
	}

	st := newStyles(os.Stdout, false)
	fmt.Println(st.sectionHeader("Queue"))
	fmt.Println(st.kv("Queued", fmt.Sprintf("%d", queued)))
	fmt.Println(st.kv("Started", fmt.Sprintf("%d", started)))
	fmt.Println(st.sectionHeader("Records"))
	for _, status := range []model.Status{
		model.StatusProcessed, model.StatusPendingReview,
		model.StatusApproved, model.StatusFailed,
	} {
		fmt.Println(st.kv(string(status), fmt.Sprintf("%d", counts[status])))
	}
	return nil
}

func showBatch(cmd *cobra.Command, a *app, batchID string) error {
	counts, err := a.store.BatchSummary(cmd.Context(), batchID)
	if err != nil {
		return err
	}
	if globalFlags.JSON {
		out, _ := json.Marshal(counts)
		fmt.Println(string(out))
		return nil
	}
	st := newStyles(os.Stdout, false)
	fmt.Println(st.sectionHeader("Batch " + batchID))
	for status, n := range counts {
		fmt.Println(st.kv(string(status), fmt.Sprintf("%d", n)))
	}
	return nil
}

func showSubmission(cmd *cobra.Command, a *app, submissionID string) error {
	ctx := cmd.Context()
	rec, err := a.store.GetAny(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("submission %s: %w", submissionID, err)
	}
	events, err := a.store.Events(ctx, submissionID)
	if err != nil {
		return err
	}
	children, err := a.store.Children(ctx, submissionID)
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		out, _ := json.Marshal(map[string]any{
			"record":   rec,
			"events":   events,
			"children": children,
		})
		fmt.Println(string(out))
		return nil
	}

	st := newStyles(os.Stdout, false)
	fmt.Println(st.sectionHeader("Submission " + rec.SubmissionID))
	fmt.Println(st.kv("Status", st.status(rec.Status)))
	fmt.Println(st.kv("Class", string(rec.DocClass)))
	fmt.Println(st.kv("Filename", rec.Filename))
	fmt.Println(st.kv("Student", rec.Fields.StudentName))
	fmt.Println(st.kv("School", rec.Fields.SchoolName))
	fmt.Println(st.kv("Grade", rec.Fields.Grade))
	fmt.Println(st.kv("Words", fmt.Sprintf("%d", rec.WordCount)))
	fmt.Println(st.kv("OCR confidence", fmt.Sprintf("%.3f", rec.OCRConfidenceAvg)))
	if len(rec.ReviewReasonCodes) > 0 {
		fmt.Println(st.kv("Review codes", rec.ReviewReasonCodes.String()))
	}
	if rec.ParentSubmissionID != "" {
		fmt.Println(st.kv("Parent", rec.ParentSubmissionID))
	}
	if len(children) > 0 {
		ids := make([]string, len(children))
		for i, c := range children {
			ids[i] = c.SubmissionID
		}
		fmt.Println(st.kv("Children", strings.Join(ids, ", ")))
	}

	if len(events) > 0 {
		fmt.Println(st.sectionHeader("Events"))
		for _, ev := range events {
			line := fmt.Sprintf("  %s  %-22s %s",
				ev.CreatedAt.Format(time.RFC3339), ev.EventType, st.dim(ev.Payload))
			fmt.Println(line)
		}
	}
	return nil
}
