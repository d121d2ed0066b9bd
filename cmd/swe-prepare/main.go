package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cexll/swe-action/internal/actions"
	"github.com/cexll/swe-action/internal/config"
	"github.com/cexll/swe-action/internal/pipeline"
)

const outputTriggered = "triggered"

var (
	loadDotEnv  = godotenv.Load
	loadConfig  = config.Load
	newPipeline = pipeline.New
)

// notifier is implemented by output sinks that can annotate the run.
type notifier interface {
	Notice(msg string)
}

func main() {
	runner := actions.New()
	if err := newRootCommand(runner).Execute(); err != nil {
		runner.Fail(err)
		os.Exit(1)
	}
}

func newRootCommand(out pipeline.Outputs) *cobra.Command {
	var envFiles []string
	cmd := &cobra.Command{
		Use:           "swe-prepare",
		Short:         "Gate a GitHub event and prepare the agent run",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), envFiles, out)
		},
	}
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment")
	return cmd
}

func run(ctx context.Context, envFiles []string, out pipeline.Outputs) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(envFiles) > 0 {
		if err := loadDotEnv(envFiles...); err != nil {
			return fmt.Errorf("failed to load env files: %w", err)
		}
	} else {
		// Load .env file (ignore error if file doesn't exist)
		_ = loadDotEnv()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	payload, err := os.ReadFile(cfg.EventPath)
	if err != nil {
		return fmt.Errorf("failed to read event payload: %w", err)
	}

	log.Printf("[Prepare] %s event for %s (run %s)", cfg.EventName, cfg.Repository, cfg.RunID)

	p := newPipeline(pipeline.Deps{
		Auth:              pipeline.NewAuth(cfg.Credentials, cfg.APIURL, cfg.CallTimeout),
		Outputs:           out,
		Config:            cfg.Pipeline,
		RunID:             cfg.RunID,
		Workspace:         cfg.Workspace,
		ContextOutputPath: cfg.ContextOutputPath,
	})
	report, err := p.Run(ctx, pipeline.Event{
		Name:       cfg.EventName,
		Payload:    payload,
		Repository: cfg.Repository,
	})
	if err != nil {
		return err
	}

	out.SetOutput(outputTriggered, strconv.FormatBool(report.Triggered))
	if !report.Triggered {
		log.Printf("[Prepare] not triggered: %s", report.SkipReason)
		return nil
	}
	if n, ok := out.(notifier); ok && len(report.Degraded) > 0 {
		n.Notice("Degraded stages: " + strings.Join(report.Degraded, ", "))
	}
	log.Printf("[Prepare] ready: comment %d, branch %s", report.CommentID, report.Branch.CurrentBranch)
	return nil
}
