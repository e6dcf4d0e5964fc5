package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/contentpipe/internal/review"
)

func reviewCMD(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List and decide pending reviews",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List review requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, appOptions{storeOnly: true})
			if err != nil {
				return err
			}
			defer a.Close()
			reqs, err := a.runner.Gate().List(cmd.Context(), review.Status(status))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTAGE\tSTATUS\tREVIEWER\tCREATED")
			for _, r := range reqs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Stage, r.Status, r.Reviewer, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&status, "status", string(review.StatusPending), "pending, approved, rejected or empty for all")

	cmd.AddCommand(list, decideCMD(flags, true), decideCMD(flags, false))
	return cmd
}

func decideCMD(flags *rootFlags, approve bool) *cobra.Command {
	var (
		feedback string
		reviewer string
		resume   bool
	)
	use, short := "approve RUN_ID STAGE", "Approve a stage"
	if !approve {
		use, short = "reject RUN_ID STAGE", "Reject a stage and stop the run"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{storeOnly: !resume})
			if err != nil {
				return err
			}
			defer a.Close()
			if reviewer == "" {
				reviewer = os.Getenv("USER")
			}
			req, err := a.runner.Decide(ctx, args[0], args[1], review.Decision{Approved: approve, Reviewer: reviewer, Feedback: feedback})
			if err != nil {
				return a.storeHint(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s review for run %s: %s\n", req.Stage, req.RunID, req.Status)
			if !resume {
				return nil
			}
			res, err := a.runner.Resume(ctx, req.RunID)
			if err != nil {
				return err
			}
			writeSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "note stored with the decision")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer name (default $USER)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the run after deciding")
	return cmd
}
