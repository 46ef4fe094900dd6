package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dukex/paperdigest/pkg/notify"
	"github.com/urfave/cli/v3"
)

func profilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "profiles",
		Usage: "Manage subscriber profiles",
		Commands: []*cli.Command{
			{
				Name:  "seed",
				Usage: "Store the profiles declared in the config file",
				Action: func(ctx context.Context, command *cli.Command) error {
					logger, store, err := openStore(ctx, command)
					if err != nil {
						return err
					}

					defer func() { _ = store.Close(ctx) }()

					pipeline, err := loadPipeline(command)
					if err != nil {
						return err
					}

					if err := seedProfiles(ctx, store, pipeline); err != nil {
						return err
					}

					logger.InfoContext(ctx, "Profiles seeded", "count", len(pipeline.Profiles))

					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List active profiles",
				Action: func(ctx context.Context, command *cli.Command) error {
					_, store, err := openStore(ctx, command)
					if err != nil {
						return err
					}

					defer func() { _ = store.Close(ctx) }()

					profiles, err := store.ActiveProfiles(ctx)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					_, _ = fmt.Fprintln(w, "ID\tEMAIL\tCATEGORIES\tMIN SCORE\tMAX PAPERS")

					for _, p := range profiles {
						_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%d\n",
							p.ID, p.Email, strings.Join(p.Categories, ","), p.MinScore, p.MaxPapers)
					}

					return w.Flush()
				},
			},
		},
	}
}

func alertsCommand() *cli.Command {
	return &cli.Command{
		Name:  "alerts",
		Usage: "Show the most recent operator alerts kept in Redis",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			url := command.String("redis-url")
			if url == "" {
				return fmt.Errorf("--redis-url is required to read alerts")
			}

			notifier, err := notify.NewRedisNotifierFromURL(url)
			if err != nil {
				return err
			}

			defer func() { _ = notifier.Close() }()

			alerts, err := notifier.Recent(ctx, int64(command.Int("limit")))
			if err != nil {
				return err
			}

			for _, alert := range alerts {
				fmt.Printf("%s  %-18s %s\n", alert.Timestamp.Format(time.DateTime), alert.Category, alert.Message)
			}

			return nil
		},
	}
}
