package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"essaypipe/internal/validate"
)

var reviewFlags struct {
	Reviewer string
	Reason   string
	List     bool
	Owner    string
}

var approveCmd = &cobra.Command{
	Use:   "approve [submission-id]",
	Short: "Approve a reviewed submission, or list the review queue",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <submission-id>",
	Short: "Reject a submission with a reason",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func init() {
	approveCmd.Flags().StringVar(&reviewFlags.Reviewer, "reviewer", "", "reviewer identity (required)")
	approveCmd.Flags().BoolVar(&reviewFlags.List, "list", false, "list submissions awaiting review")
	approveCmd.Flags().StringVar(&reviewFlags.Owner, "owner", "", "owner whose queue to list")

	rejectCmd.Flags().StringVar(&reviewFlags.Reviewer, "reviewer", "", "reviewer identity (required)")
	rejectCmd.Flags().StringVar(&reviewFlags.Reason, "reason", "", "why the submission is rejected (required)")
	_ = rejectCmd.MarkFlagRequired("reviewer")
	_ = rejectCmd.MarkFlagRequired("reason")
}

func runApprove(cmd *cobra.Command, args []string) error {
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

	if reviewFlags.List || len(args) == 0 {
		if reviewFlags.Owner == "" {
			return fmt.Errorf("--owner is required when listing the review queue")
		}
		recs, err := a.reviewer.Queue(cmd.Context(), reviewFlags.Owner, 100)
		if err != nil {
			return err
		}
		if globalFlags.JSON {
			out, _ := json.Marshal(recs)
			fmt.Println(string(out))
			return nil
		}
		if len(recs) == 0 {
			fmt.Println(st.dim("review queue is empty"))
			return nil
		}
		for _, rec := range recs {
			codes := st.dim(rec.ReviewReasonCodes.String())
			if len(validate.Blocking(rec.ReviewReasonCodes)) > 0 {
				codes = st.Red.Render("blocked") + " " + codes
			}
			fmt.Printf("  %s  %-30s %s\n", rec.SubmissionID, rec.Filename, codes)
		}
		return nil
	}

	if reviewFlags.Reviewer == "" {
		return fmt.Errorf("--reviewer is required to approve")
	}
	rec, err := a.reviewer.Approve(cmd.Context(), reviewFlags.Reviewer, args[0])
	if err != nil {
		return err
	}
	if globalFlags.JSON {
		out, _ := json.Marshal(rec)
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("%s %s\n", st.Success.Render("approved"), rec.SubmissionID)
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.reviewer.Reject(cmd.Context(), reviewFlags.Reviewer, args[0], reviewFlags.Reason)
	if err != nil {
		return err
	}
	st := newStyles(os.Stdout, globalFlags.JSON)
	if globalFlags.JSON {
		out, _ := json.Marshal(rec)
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("%s %s\n", st.Red.Render("rejected"), rec.SubmissionID)
	return nil
}
