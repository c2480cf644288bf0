// Package main runs one pipeline invocation: fetch, extract, dedupe and,
// depending on tier, embed, cluster, summarize and score the day's feed
// entries. The process exits when the run completes; scheduling and the
// trigger API live in cmd/server.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/AteetVatan/masx-geosignal/internal/alert"
	"github.com/AteetVatan/masx-geosignal/internal/config"
	"github.com/AteetVatan/masx-geosignal/internal/embed"
	"github.com/AteetVatan/masx-geosignal/internal/enrich"
	"github.com/AteetVatan/masx-geosignal/internal/fetch"
	"github.com/AteetVatan/masx-geosignal/internal/pipeline"
	"github.com/AteetVatan/masx-geosignal/internal/storage"
	"github.com/AteetVatan/masx-geosignal/internal/summary"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "pipeline"
)

const dateLayout = "2006-01-02"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	dateFlag := flag.String("date", "", "target date (YYYY-MM-DD), defaults to today UTC")
	tierFlag := flag.String("tier", "", "pipeline tier override (A, B or C), defaults to PIPELINE_TIER")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	targetDate := *dateFlag
	if targetDate == "" {
		targetDate = time.Now().UTC().Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, targetDate); err != nil {
		logger.Error("Invalid --date value", slog.String("date", targetDate))
		os.Exit(1)
	}

	pipelineConfig := config.LoadPipeline()
	if *tierFlag != "" {
		pipelineConfig.Tier = config.Tier(strings.ToUpper(*tierFlag))
	}

	if err := pipelineConfig.Validate(); err != nil {
		logger.Error("Invalid pipeline configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Starting pipeline run",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("tier", string(pipelineConfig.Tier)),
		slog.String("target_date", targetDate),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	logger.Info("Database connected",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	fetcher := fetch.NewFetcher(fetch.Config{
		MaxConcurrent: pipelineConfig.MaxConcurrentFetches,
		PerDomain:     pipelineConfig.PerDomainConcurrency,
		Timeout:       pipelineConfig.FetchTimeout,
		Delay:         pipelineConfig.RequestDelay,
	})
	defer fetcher.Close()

	opts := pipeline.Options{
		Fetcher:  fetcher,
		Enricher: newEnricher(),
	}

	if pipelineConfig.Tier.ClusteringEnabled() {
		embedder, err := newEmbedder(pipelineConfig)
		if err != nil {
			logger.Error("Embedding service not configured", slog.String("error", err.Error()))

			_ = dbConn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		opts.Embedder = embedder
	}

	if pipelineConfig.Tier.LLMEnabled() {
		opts.Summarizer = newSummarizer(pipelineConfig, logger)
	}

	dispatchers, closers := newDispatchers(logger)
	opts.Dispatchers = dispatchers

	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	orchestrator, err := pipeline.NewOrchestrator(dbConn, pipelineConfig, opts)
	if err != nil {
		logger.Error("Failed to build orchestrator", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	result, err := orchestrator.Execute(context.Background(), targetDate)
	if err != nil {
		logger.Error("Pipeline run failed",
			slog.String("target_date", targetDate),
			slog.String("error", err.Error()),
		)

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Pipeline run completed",
		slog.String("run_id", result.RunID),
		slog.String("target_date", result.TargetDate),
		slog.Int("total_entries", result.TotalEntries),
		slog.Int("processed", result.Processed),
		slog.Int("failed", result.Failed),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("embedded", result.Embedded),
		slog.Int("clusters_created", result.ClustersCreated),
		slog.Int("top_hotspots", result.TopHotspots),
		slog.Duration("duration", result.Duration),
	)
}

// newEnricher wires the optional NER and translation providers. Unset base
// URLs leave the corresponding enrichment step disabled.
func newEnricher() *enrich.Enricher {
	opts := enrich.Options{}

	if baseURL := config.GetEnvStr("NER_BASE_URL", ""); baseURL != "" {
		opts.Recognizer = enrich.NewHTTPRecognizer(
			baseURL,
			config.GetEnvStr("NER_MODEL", ""),
			config.GetEnvDuration("NER_TIMEOUT", 30*time.Second),
		)
	}

	if baseURL := config.GetEnvStr("TRANSLATE_BASE_URL", ""); baseURL != "" {
		opts.Translator = enrich.NewHTTPTranslator(
			baseURL,
			config.GetEnvDuration("TRANSLATE_TIMEOUT", 30*time.Second),
		)
	}

	return enrich.NewEnricher(opts)
}

// errNoEmbeddingService reports a tier B/C run without EMBEDDING_BASE_URL.
type errNoEmbeddingService struct{}

func (errNoEmbeddingService) Error() string {
	return "EMBEDDING_BASE_URL must be set for tier B and C runs"
}

func newEmbedder(pipelineConfig *config.Pipeline) (embed.Embedder, error) {
	baseURL := config.GetEnvStr("EMBEDDING_BASE_URL", "")
	if baseURL == "" {
		return nil, errNoEmbeddingService{}
	}

	return embed.NewHTTPEmbedder(embed.Config{
		BaseURL:   baseURL,
		Model:     pipelineConfig.EmbeddingModel,
		Dimension: pipelineConfig.EmbeddingDimension,
	}), nil
}

// newSummarizer builds the LLM failover chain: the primary provider first,
// then an optional fallback provider for when the primary is down or over
// quota.
func newSummarizer(pipelineConfig *config.Pipeline, logger *slog.Logger) summary.Summarizer {
	providers := []summary.Summarizer{
		summary.NewHTTPSummarizer(summary.LoadLLMConfig(pipelineConfig)),
	}

	if baseURL := config.GetEnvStr("LLM_FALLBACK_BASE_URL", ""); baseURL != "" {
		providers = append(providers, summary.NewHTTPSummarizer(summary.LLMConfig{
			BaseURL: baseURL,
			APIKey:  config.GetEnvStr("LLM_FALLBACK_API_KEY", ""),
			Model:   config.GetEnvStr("LLM_FALLBACK_MODEL", ""),
			RPM:     pipelineConfig.LLMRPMLimit,
			Timeout: config.GetEnvDuration("LLM_TIMEOUT", time.Minute),
		}))

		logger.Info("LLM fallback provider configured")
	}

	if len(providers) == 1 {
		return providers[0]
	}

	return summary.NewFailoverSummarizer(providers...)
}

// newDispatchers wires the configured alert transports. Every transport is
// optional; an empty return means hotspot alerts are logged but not sent.
func newDispatchers(logger *slog.Logger) ([]alert.Dispatcher, []interface{ Close() error }) {
	var (
		dispatchers []alert.Dispatcher
		closers     []interface{ Close() error }
	)

	if url := config.GetEnvStr("ALERT_WEBHOOK_URL", ""); url != "" {
		dispatchers = append(dispatchers, alert.NewWebhookDispatcher(url))

		logger.Info("Webhook alert dispatcher configured")
	}

	if url := config.GetEnvStr("SLACK_WEBHOOK_URL", ""); url != "" {
		dispatchers = append(dispatchers, alert.NewSlackDispatcher(url))

		logger.Info("Slack alert dispatcher configured")
	}

	if brokers := config.GetEnvStr("KAFKA_BROKERS", ""); brokers != "" {
		publisher := alert.NewKafkaPublisher(
			config.ParseCommaSeparatedList(brokers),
			config.GetEnvStr("KAFKA_ALERT_TOPIC", alert.DefaultTopic),
		)

		dispatchers = append(dispatchers, publisher)
		closers = append(closers, publisher)

		logger.Info("Kafka alert publisher configured")
	}

	return dispatchers, closers
}
