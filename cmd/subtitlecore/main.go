// Command subtitlecore runs the subtitle generation pipeline orchestrator:
// it wires the configured ASR/LLM providers, the URL ingestion cache, the
// ffmpeg-backed audio extractor, and the pipeline engine into a job manager,
// then serves ambient health and metrics endpoints until signalled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subtitleworks/core/internal/asr"
	"github.com/subtitleworks/core/internal/asr/cloud"
	"github.com/subtitleworks/core/internal/asr/local"
	"github.com/subtitleworks/core/internal/asrdispatch"
	"github.com/subtitleworks/core/internal/config"
	"github.com/subtitleworks/core/internal/drift"
	"github.com/subtitleworks/core/internal/ffmpeg"
	"github.com/subtitleworks/core/internal/health"
	"github.com/subtitleworks/core/internal/jobmanager"
	"github.com/subtitleworks/core/internal/observe"
	"github.com/subtitleworks/core/internal/pipeline"
	"github.com/subtitleworks/core/internal/protocol"
	"github.com/subtitleworks/core/internal/resilience"
	"github.com/subtitleworks/core/internal/store"
	"github.com/subtitleworks/core/internal/store/mock"
	"github.com/subtitleworks/core/internal/store/postgres"
	"github.com/subtitleworks/core/internal/translate"
	"github.com/subtitleworks/core/internal/urlcache"
	"github.com/subtitleworks/core/pkg/provider/llm"
	"github.com/subtitleworks/core/pkg/provider/llm/anyllm"
	"github.com/subtitleworks/core/pkg/provider/llm/openai"
	"github.com/subtitleworks/core/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "subtitlecore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "subtitlecore: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("subtitlecore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Observe.ServiceName,
	})
	if err != nil {
		slog.Error("failed to initialize telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	asrProviders, err := buildASRProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build asr providers", "err", err)
		return 1
	}
	translators, translatorEntries, err := buildTranslators(cfg, reg)
	if err != nil {
		slog.Error("failed to build llm providers", "err", err)
		return 1
	}
	probeCache := protocol.NewProbeCache()

	dispatcher := asrdispatch.New(asrProviders, resilience.CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  3,
	})

	jobStore, storeCloser, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open job store", "err", err)
		return 1
	}
	defer storeCloser()

	var urlIngestor *urlcache.Ingestor
	if cfg.URLCache.Root != "" {
		cacheStore, err := urlcache.Open(cfg.URLCache.Root, time.Duration(cfg.URLCache.TTLDays)*24*time.Hour, int64(cfg.URLCache.MaxSizeGB)<<30)
		if err != nil {
			slog.Error("failed to open url cache", "err", err)
			return 1
		}
		urlIngestor = urlcache.NewIngestor(cacheStore, cfg.YTDLP.ExecutablePath, time.Duration(cfg.URLCache.DownloadTimeoutSeconds)*time.Second)
	}

	engine := pipeline.New(pipeline.Deps{
		Extractor:   ffmpeg.NewExtractor(cfg.FFmpeg.BinaryPath),
		URLIngestor: urlIngestor,
		ASR:         dispatcher,
		TranslatorFor: func(opts types.Options) (translate.Strategy, error) {
			provider, ok := translators[opts.LLMModel]
			if !ok {
				return nil, fmt.Errorf("%w: llm model %q has no configured provider", config.ErrProviderNotRegistered, opts.LLMModel)
			}
			entry := translatorEntries[opts.LLMModel]
			return translate.NewStrategyWithProtocol(provider, opts.LLMModel, entry.BaseURL, entry.APIKey, probeCache, metrics), nil
		},
		DriftThresholds: driftThresholds(cfg.Drift),
		Metrics:         metrics,
	})

	manager, err := jobmanager.New(jobmanager.Config{
		JobManager: cfg.JobManager,
		WorkRoot:   cfg.WorkRoot,
		Store:      jobStore,
		Runner:     engine,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		slog.Error("failed to start job manager", "err", err)
		return 1
	}

	healthHandler := health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := jobStore.ListAll(ctx)
			return err
		},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.Healthz)
	mux.HandleFunc("/readyz", healthHandler.Readyz)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serveErrs := make(chan error, 1)
	go func() {
		slog.Info("ambient http server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	slog.Info("subtitlecore ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErrs:
		if err != nil {
			slog.Error("ambient http server failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ambient http server shutdown error", "err", err)
	}
	manager.Close()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders registers every known ASR/LLM factory under the
// provider names a config file may reference. Lookup is by provider name, so
// only "cloud_paraformer_v2" and "cloud_qwen3_asr_flash_filetrans" resolve to
// the cloud ASR factory; both share it, it passes the entry's Model through to
// the cloud client, and either fills the dispatcher's single cloud-primary slot.
func registerBuiltinProviders(reg *config.Registry) {
	cloudFactory := func(entry config.ProviderEntry) (asr.Provider, error) {
		return cloud.New(entry.Name, entry.Model, entry.BaseURL, entry.APIKey, protocol.ShouldFallback), nil
	}
	reg.RegisterASR("cloud_paraformer_v2", cloudFactory)
	reg.RegisterASR("cloud_qwen3_asr_flash_filetrans", cloudFactory)

	localFactory := func(entry config.ProviderEntry) (asr.Provider, error) {
		modelPath := modelPathOption(entry)
		if modelPath == "" {
			return nil, fmt.Errorf("asr/%s: options.model_path is required", entry.Name)
		}
		return local.New(entry.Name, modelPath, local.WithLanguage(languageOption(entry)))
	}
	reg.RegisterASR(asrdispatch.NameLocalWhisperX, localFactory)
	reg.RegisterASR(asrdispatch.NameLocalFasterWhisper, localFactory)

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})
	for _, name := range []string{"anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(name, entry.Model, anyllmOpts(entry)...)
		})
	}
}

// anyllmOpts translates a ProviderEntry's credentials into any-llm-go's
// functional options.
func anyllmOpts(entry config.ProviderEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return opts
}

func driftThresholds(cfg config.DriftConfig) drift.Thresholds {
	return drift.Thresholds{
		StartGapSeconds:       cfg.StartGapThresholdSeconds,
		EndGapSeconds:         cfg.EndGapThresholdSeconds,
		QualityScoreThreshold: cfg.QualityScoreThreshold,
		FFTMinScore:           cfg.FFTMinScore,
	}
}

func languageOption(entry config.ProviderEntry) string {
	if v, ok := entry.Options["language"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "en"
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Storage.PostgresDSN == "" {
		return mock.New(), func() {}, nil
	}
	pg, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres store: %w", err)
	}
	return pg, func() { pg.Close() }, nil
}

func modelPathOption(entry config.ProviderEntry) string {
	if v, ok := entry.Options["model_path"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// buildASRProviders resolves cfg's single cloud and single local ASR entry
// through reg, skipping whichever side is left unconfigured.
func buildASRProviders(cfg *config.Config, reg *config.Registry) (asrdispatch.Providers, error) {
	var providers asrdispatch.Providers

	if cfg.Providers.CloudASR.Name != "" {
		p, err := reg.CreateASR(cfg.Providers.CloudASR)
		if err != nil {
			return providers, fmt.Errorf("cloud asr provider %q: %w", cfg.Providers.CloudASR.Name, err)
		}
		providers.CloudPrimary = p
	}

	if cfg.Providers.LocalASR.Name != "" {
		p, err := reg.CreateASR(cfg.Providers.LocalASR)
		if err != nil {
			return providers, fmt.Errorf("local asr provider %q: %w", cfg.Providers.LocalASR.Name, err)
		}
		switch cfg.Providers.LocalASR.Name {
		case asrdispatch.NameLocalWhisperX:
			providers.LocalWhisperX = p
		default:
			providers.LocalFasterWhisper = p
		}
	}

	return providers, nil
}

// buildTranslators constructs one llm.Provider per configured
// providers.llm[] entry through reg, keyed by that entry's Model so
// TranslatorFor can look the right one up for a job's requested LLM model.
// Each returned provider is a [resilience.LLMFallback] chain with that entry
// as primary and every other configured entry as an ordered fallback, so a
// job's requested model degrades to the next configured backend instead of
// failing outright when its primary is down — the generic fallback group
// multi-provider translation failover the engine expects (SPEC_FULL.md
// §4.4). Chains are built once here, not per request, so each backend's
// circuit breaker accumulates health state across the process lifetime, the
// same way asrdispatch's breakers do.
func buildTranslators(cfg *config.Config, reg *config.Registry) (map[string]llm.Provider, map[string]config.ProviderEntry, error) {
	type resolved struct {
		model    string
		provider llm.Provider
	}

	all := make([]resolved, 0, len(cfg.Providers.LLM))
	entriesByModel := make(map[string]config.ProviderEntry, len(cfg.Providers.LLM))
	for _, entry := range cfg.Providers.LLM {
		provider, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("llm provider %q: %w", entry.Name, err)
		}
		all = append(all, resolved{model: entry.Model, provider: provider})
		entriesByModel[entry.Model] = entry
	}

	out := make(map[string]llm.Provider, len(all))
	for _, primary := range all {
		chain := resilience.NewLLMFallback(primary.provider, primary.model, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
				HalfOpenMax:  3,
			},
		})
		for _, other := range all {
			if other.model == primary.model {
				continue
			}
			chain.AddFallback(other.model, other.provider)
		}
		out[primary.model] = chain
	}
	return out, entriesByModel, nil
}
