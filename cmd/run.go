package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/pipeline"
	"github.com/mohammad-safakhou/contentpipe/internal/workflow"
)

func runCMD(flags *rootFlags) *cobra.Command {
	var (
		includeNewsletter bool
		printJSON         bool
		format            string
		engineName        string
		graph             string
	)
	cmd := &cobra.Command{
		Use:   "run TOPIC",
		Short: "Run the pipeline for a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(strings.Join(args, " "))
			if topic == "" {
				return fmt.Errorf("topic is required")
			}
			if printJSON {
				format = formatJSON
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{engine: engineName})
			if err != nil {
				return err
			}
			defer a.Close()

			if graph == "" {
				graph = a.cfg.Workflow.Mode
			}
			if !cmd.Flags().Changed("include-newsletter") {
				includeNewsletter = a.cfg.Pipeline.IncludeNewsletter
			}
			opts := workflow.StartOptions{Topic: topic, IncludeNewsletter: includeNewsletter, Graph: graph}
			a.logger.Info("starting run",
				zap.String("log_id", pipeline.RunID(topic)),
				zap.String("engine", a.engine.Name()),
				zap.String("graph", graph))

			res, err := a.runner.Start(ctx, opts)
			if err != nil && graph == config.GraphV1 {
				if r, ok := a.stubFallback(err); ok {
					res, err = r.Start(ctx, opts)
				}
			}
			if err != nil {
				return err
			}
			a.warnIfEphemeral(cmd.ErrOrStderr(), res)
			return writeResult(cmd.OutOrStdout(), format, res)
		},
	}
	cmd.Flags().BoolVar(&includeNewsletter, "include-newsletter", false, "also write the newsletter")
	cmd.Flags().BoolVar(&printJSON, "print-json", false, "print the full state as JSON")
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text, json or markdown")
	cmd.Flags().StringVar(&engineName, "engine", "", "stage engine: live, adk or stub (default from config)")
	cmd.Flags().StringVar(&graph, "graph", "", "graph: v1 or v2 (default from config)")
	return cmd
}

func resumeCMD(flags *rootFlags) *cobra.Command {
	var (
		format     string
		engineName string
	)
	cmd := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Continue a run that was waiting on review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{engine: engineName})
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.runner.Resume(ctx, args[0])
			if err != nil {
				return a.storeHint(err)
			}
			return writeResult(cmd.OutOrStdout(), format, res)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text, json or markdown")
	cmd.Flags().StringVar(&engineName, "engine", "", "stage engine: live, adk or stub (default from config)")
	return cmd
}
