package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/paperdigest/pkg/arxiv"
	"github.com/dukex/paperdigest/pkg/cmd"
	"github.com/dukex/paperdigest/pkg/config"
	"github.com/dukex/paperdigest/pkg/eventbus"
	"github.com/dukex/paperdigest/pkg/log"
	"github.com/dukex/paperdigest/pkg/mail"
	"github.com/dukex/paperdigest/pkg/otelhelper"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/steps"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

// app holds the long-lived collaborators every command shares.
type app struct {
	logger   *slog.Logger
	pipeline config.Pipeline
	store    persistence.Persistence
	bus      eventbus.EventBus
	runner   *workflow.Runner

	closers []func(context.Context) error
}

// loadPipeline reads the config file and applies explicitly set flags over it.
func loadPipeline(command *cli.Command) (config.Pipeline, error) {
	pipeline, err := config.Load(command.String("config"))
	if err != nil {
		return pipeline, err
	}

	if command.IsSet("categories") {
		pipeline.Categories = command.StringSlice("categories")
	}

	if command.IsSet("analysis-batch-size") {
		pipeline.AnalysisBatchSize = command.Int("analysis-batch-size")
	}

	if command.IsSet("analysis-batch-delay") {
		pipeline.AnalysisBatchDelay = command.Duration("analysis-batch-delay")
	}

	if command.IsSet("analysis-workers") {
		pipeline.AnalysisWorkers = command.Int("analysis-workers")
	}

	if command.IsSet("filter-workers") {
		pipeline.FilterWorkers = command.Int("filter-workers")
	}

	if command.IsSet("retry-base-delay") {
		pipeline.RetryBaseDelay = command.Duration("retry-base-delay")
	}

	return pipeline, pipeline.Validate()
}

// openStore sets up logging and opens persistence only, for read-only commands.
func openStore(ctx context.Context, command *cli.Command) (*slog.Logger, persistence.Persistence, error) {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("paperdigest")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	return logger, store, nil
}

// newApp wires the full pipeline: store, event bus, model client, mail,
// alerts, tracing, metrics and the workflow runner.
func newApp(ctx context.Context, command *cli.Command) (_ *app, err error) {
	logger, store, err := openStore(ctx, command)
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, store: store}
	a.closers = append(a.closers, store.Close)

	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	a.pipeline, err = loadPipeline(command)
	if err != nil {
		return nil, err
	}

	if err := seedProfiles(ctx, store, a.pipeline); err != nil {
		return nil, err
	}

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return nil, err
	}

	a.bus = bus
	a.closers = append(a.closers, func(context.Context) error { return bus.Close() })

	model, closeModel, err := cmd.NewLLMClient(ctx, cmd.LLMConfig{
		Provider: command.String("llm-provider"),
		APIKey:   command.String("llm-api-key"),
		Model:    command.String("llm-model"),
		BaseURL:  command.String("llm-base-url"),
	})
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, func(context.Context) error { return closeModel() })

	notifier, closeNotifier, err := cmd.NewNotifier(logger, command.String("redis-url"))
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, func(context.Context) error { return closeNotifier() })

	opts := []workflow.Option{
		workflow.WithNotifier(notifier),
		workflow.WithPublisher(bus),
		workflow.WithMetrics(workflow.NewMetrics(prometheus.DefaultRegisterer)),
		workflow.WithRetryBaseDelay(a.pipeline.RetryBaseDelay),
	}

	if command.Bool("tracing") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, "paperdigest")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		a.closers = append(a.closers, shutdown)
		opts = append(opts, workflow.WithTracer(tracer))
	}

	deps := steps.Deps{
		Store:  store,
		Source: arxiv.NewClient(logger),
		LLM:    model,
		Mail: cmd.NewMailSender(logger, mail.SMTPConfig{
			Host:     command.String("smtp-host"),
			Port:     command.Int("smtp-port"),
			Username: command.String("smtp-username"),
			Password: command.String("smtp-password"),
			From:     command.String("smtp-from"),
		}),
		Config: a.pipeline,
		Logger: logger,
	}

	registry := workflow.NewRegistry(steps.Definitions(deps)...)
	a.runner = workflow.NewRunner(logger, store, registry, opts...)

	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.ErrorContext(ctx, "Failed to release resource", "error", err)
		}
	}
}

// seedProfiles stores the profiles declared in the config file.
func seedProfiles(ctx context.Context, store persistence.PaperRepository, pipeline config.Pipeline) error {
	var errs []error

	for _, p := range pipeline.Profiles {
		if err := store.SaveProfile(ctx, p.Profile()); err != nil {
			errs = append(errs, fmt.Errorf("failed to seed profile %s: %w", p.ID, err))
		}
	}

	return errors.Join(errs...)
}
