package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/paperdigest/pkg/eventbus"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/scheduler"
	"github.com/dukex/paperdigest/pkg/steps"
	"github.com/dukex/paperdigest/pkg/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the HTTP API and the daily schedule",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression (UTC) for the daily digest; empty disables it",
				Sources: cli.EnvVars("SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "access-log",
				Usage:   "Log every HTTP request",
				Sources: cli.EnvVars("ACCESS_LOG"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, command)
			if err != nil {
				return err
			}

			defer a.close(context.WithoutCancel(ctx))

			expression := a.pipeline.Schedule
			if command.IsSet("schedule") {
				expression = command.String("schedule")
			}

			var schedules []*models.Schedule

			if expression != "" {
				schedule, err := models.NewSchedule(steps.DailyDigest, expression, nil)
				if err != nil {
					return err
				}

				schedules = append(schedules, schedule)
			}

			if err := eventbus.LogLifecycle(a.bus, a.logger.With("component", "lifecycle")); err != nil {
				return err
			}

			if err := a.bus.Subscribe(ctx); err != nil {
				return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
			}

			sched, err := scheduler.New(a.logger, a.runner, schedules...)
			if err != nil {
				return err
			}

			sched.Start()

			app := web.NewApp(web.Config{
				Store:     a.store,
				Executor:  a.runner,
				Gatherer:  prometheus.DefaultGatherer,
				AccessLog: command.Bool("access-log"),
			})

			errc := make(chan error, 1)

			go func() {
				errc <- app.Listen(":" + strconv.Itoa(command.Int("port")))
			}()

			a.logger.InfoContext(ctx, "paperdigest serving", "port", command.Int("port"), "schedule", expression)

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			a.logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			return errors.Join(
				sched.Stop(shutdownCtx),
				app.ShutdownWithContext(shutdownCtx),
				a.runner.Shutdown(shutdownCtx),
			)
		},
	}
}
