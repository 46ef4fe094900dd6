package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dukex/paperdigest/pkg/services"
	"github.com/urfave/cli/v3"
)

func executionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "executions",
		Aliases: []string{"exec"},
		Usage:   "Inspect recorded workflow executions",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the most recent executions",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Value:   20,
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					_, store, err := openStore(ctx, command)
					if err != nil {
						return err
					}

					defer func() { _ = store.Close(ctx) }()

					executions, err := services.NewExecution(store).ListExecutions(ctx, command.Int("limit"))
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					_, _ = fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tSTEPS\tCOST\tCREATED")

					for _, e := range executions {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t$%.4f\t%s\n",
							e.ID, e.WorkflowType, e.Status, e.CompletedSteps, e.TotalSteps,
							e.TotalCost, e.CreatedAt.Format(time.DateTime))
					}

					return w.Flush()
				},
			},
			{
				Name:      "show",
				Usage:     "Print the step summary of one execution",
				ArgsUsage: "<execution-id>",
				Action: func(ctx context.Context, command *cli.Command) error {
					id := command.Args().First()
					if id == "" {
						return fmt.Errorf("execution id is required")
					}

					_, store, err := openStore(ctx, command)
					if err != nil {
						return err
					}

					defer func() { _ = store.Close(ctx) }()

					details, err := services.NewExecution(store).GetExecution(ctx, id, true)
					if err != nil {
						return err
					}

					fmt.Println(details.Summary)

					if details.Execution.ErrorMessage != "" {
						fmt.Println("error:", details.Execution.ErrorMessage)
					}

					return nil
				},
			},
		},
	}
}
