// Command paperdigest runs the research-paper digest pipeline: as a server
// with a schedule and an HTTP API, or one run at a time from the shell.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/paperdigest/pkg/config"
	"github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	defaults := config.Default()

	cmd := &cli.Command{
		Name:                  "paperdigest",
		Usage:                 "Crawl, analyse and mail personalised research-paper digests",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (postgres://, sqlite://, file://, memory://)",
				Value:   "sqlite://paperdigest.db",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML file with pipeline settings and profiles",
				Value:   "paperdigest.yaml",
				Sources: cli.EnvVars("PAPERDIGEST_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "llm-provider",
				Usage:   "Language model provider (anthropic, openai, deepseek, gemini)",
				Value:   "anthropic",
				Sources: cli.EnvVars("LLM_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Usage:   "Model name; empty uses the provider default",
				Sources: cli.EnvVars("LLM_MODEL"),
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "API key of the language model provider",
				Sources: cli.EnvVars("LLM_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "llm-base-url",
				Usage:   "Base URL for OpenAI-compatible providers",
				Sources: cli.EnvVars("LLM_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for the kafka event bus",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for operator alerts; empty logs alerts only",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "smtp-host",
				Usage:   "SMTP relay host; empty logs digests instead of mailing them",
				Sources: cli.EnvVars("SMTP_HOST"),
			},
			&cli.IntFlag{
				Name:    "smtp-port",
				Value:   587,
				Sources: cli.EnvVars("SMTP_PORT"),
			},
			&cli.StringFlag{
				Name:    "smtp-username",
				Sources: cli.EnvVars("SMTP_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "smtp-password",
				Sources: cli.EnvVars("SMTP_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "smtp-from",
				Value:   "digest@paperdigest.local",
				Sources: cli.EnvVars("SMTP_FROM"),
			},
			&cli.StringSliceFlag{
				Name:    "categories",
				Usage:   "arXiv categories to crawl",
				Value:   defaults.Categories,
				Sources: cli.EnvVars("CATEGORIES"),
			},
			&cli.IntFlag{
				Name:    "analysis-batch-size",
				Value:   defaults.AnalysisBatchSize,
				Sources: cli.EnvVars("ANALYSIS_BATCH_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "analysis-batch-delay",
				Value:   defaults.AnalysisBatchDelay,
				Sources: cli.EnvVars("ANALYSIS_BATCH_DELAY"),
			},
			&cli.IntFlag{
				Name:    "analysis-workers",
				Value:   defaults.AnalysisWorkers,
				Sources: cli.EnvVars("ANALYSIS_WORKERS"),
			},
			&cli.IntFlag{
				Name:    "filter-workers",
				Value:   defaults.FilterWorkers,
				Sources: cli.EnvVars("FILTER_WORKERS"),
			},
			&cli.DurationFlag{
				Name:    "retry-base-delay",
				Usage:   "First backoff between step attempts",
				Value:   defaults.RetryBaseDelay,
				Sources: cli.EnvVars("RETRY_BASE_DELAY"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP (OTEL_EXPORTER_OTLP_* variables)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			runCommand(),
			resumeCommand(),
			executionsCommand(),
			profilesCommand(),
			alertsCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
