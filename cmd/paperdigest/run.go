package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/paperdigest/pkg/steps"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one workflow in the foreground and print its summary",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workflow",
				Aliases: []string{"w"},
				Usage:   "Workflow type (daily_digest, user_digest)",
				Value:   steps.DailyDigest,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Run even when no new announcement is available",
			},
			&cli.StringFlag{
				Name:  "date",
				Usage: "Announcement date (YYYY-MM-DD) to process instead of the latest one",
			},
			&cli.StringSliceFlag{
				Name:  "user",
				Usage: "Restrict filtering and reports to these profile ids",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			initial := workflow.Context{}

			if command.Bool("force") {
				initial[workflow.KeyForce] = true
			}

			if date := command.String("date"); date != "" {
				if _, err := time.Parse(time.DateOnly, date); err != nil {
					return fmt.Errorf("invalid --date %q: %w", date, err)
				}

				initial[workflow.KeyAnnouncementDate] = date
			}

			if users := command.StringSlice("user"); len(users) > 0 {
				initial[workflow.KeyUserIDs] = users
			}

			a, err := newApp(ctx, command)
			if err != nil {
				return err
			}

			defer a.close(context.WithoutCancel(ctx))

			id, runErr := a.runner.Run(ctx, command.String("workflow"), initial)
			if id == "" {
				return runErr
			}

			if err := printSummary(context.WithoutCancel(ctx), a, id); err != nil {
				a.logger.Error("Failed to load execution summary", "execution_id", id, "error", err)
			}

			return runErr
		},
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume a failed execution from its first unfinished step",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, command *cli.Command) error {
			id := command.Args().First()
			if id == "" {
				return fmt.Errorf("execution id is required")
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, command)
			if err != nil {
				return err
			}

			defer a.close(context.WithoutCancel(ctx))

			task, err := a.runner.Resume(ctx, id)
			if err != nil {
				return err
			}

			runErr := task.Wait(ctx)

			if err := printSummary(context.WithoutCancel(ctx), a, id); err != nil {
				a.logger.Error("Failed to load execution summary", "execution_id", id, "error", err)
			}

			return runErr
		},
	}
}

func printSummary(ctx context.Context, a *app, id string) error {
	execution, records, err := a.store.ExecutionWithSteps(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println(workflow.Summary(execution, records))

	return nil
}
