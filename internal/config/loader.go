package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// defaults applied to zero-valued fields after decode, matching the teacher's
// soft-default convention (warn, don't reject, when a value is merely unusual).
const (
	defaultGlobalConcurrencyLimit = 3
	defaultPerUserConcurrencyLimit = 1
	defaultRequeueBackoffMs       = 200
	defaultRetentionDays          = 7
	defaultConsumedRetentionMins  = 10
	defaultCacheTTLDays           = 14
	defaultCacheMaxSizeGB         = 30
	defaultDownloadTimeoutSeconds = 900
	minDownloadTimeoutSeconds     = 60

	defaultDriftStartGap     = 0.12
	defaultDriftEndGap       = 0.18
	defaultDriftQualityScore = 0.92
	defaultDriftFFTMinScore  = 0.35
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the literal defaults named in
// the specification, so a minimal config file is still a working one.
func applyDefaults(cfg *Config) {
	if cfg.JobManager.GlobalConcurrencyLimit == 0 {
		cfg.JobManager.GlobalConcurrencyLimit = defaultGlobalConcurrencyLimit
	}
	if cfg.JobManager.PerUserConcurrencyLimit == 0 {
		cfg.JobManager.PerUserConcurrencyLimit = defaultPerUserConcurrencyLimit
	}
	if cfg.JobManager.RequeueBackoffMs == 0 {
		cfg.JobManager.RequeueBackoffMs = defaultRequeueBackoffMs
	}
	if cfg.JobManager.RetentionDays == 0 {
		cfg.JobManager.RetentionDays = defaultRetentionDays
	}
	if cfg.JobManager.ConsumedRetentionMinutes == 0 {
		cfg.JobManager.ConsumedRetentionMinutes = defaultConsumedRetentionMins
	}

	if cfg.URLCache.TTLDays == 0 {
		cfg.URLCache.TTLDays = defaultCacheTTLDays
	}
	if cfg.URLCache.MaxSizeGB == 0 {
		cfg.URLCache.MaxSizeGB = defaultCacheMaxSizeGB
	}
	if cfg.URLCache.DownloadTimeoutSeconds == 0 {
		cfg.URLCache.DownloadTimeoutSeconds = defaultDownloadTimeoutSeconds
	}

	if cfg.Drift.StartGapThresholdSeconds == 0 {
		cfg.Drift.StartGapThresholdSeconds = defaultDriftStartGap
	}
	if cfg.Drift.EndGapThresholdSeconds == 0 {
		cfg.Drift.EndGapThresholdSeconds = defaultDriftEndGap
	}
	if cfg.Drift.QualityScoreThreshold == 0 {
		cfg.Drift.QualityScoreThreshold = defaultDriftQualityScore
	}
	if cfg.Drift.FFTMinScore == 0 {
		cfg.Drift.FFTMinScore = defaultDriftFFTMinScore
	}

	if cfg.WorkRoot == "" {
		cfg.WorkRoot = "/var/lib/subtitlecore/work"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.JobManager.GlobalConcurrencyLimit < 1 {
		errs = append(errs, fmt.Errorf("job_manager.global_concurrency_limit must be ≥ 1, got %d", cfg.JobManager.GlobalConcurrencyLimit))
	}
	if cfg.JobManager.PerUserConcurrencyLimit < 1 {
		errs = append(errs, fmt.Errorf("job_manager.per_user_concurrency_limit must be ≥ 1, got %d", cfg.JobManager.PerUserConcurrencyLimit))
	}
	if cfg.JobManager.PerUserConcurrencyLimit > cfg.JobManager.GlobalConcurrencyLimit {
		slog.Warn("job_manager.per_user_concurrency_limit exceeds global_concurrency_limit; the per-user cap can never bind",
			"per_user", cfg.JobManager.PerUserConcurrencyLimit, "global", cfg.JobManager.GlobalConcurrencyLimit)
	}

	if cfg.Providers.CloudASR.Name == "" && cfg.Providers.LocalASR.Name == "" {
		slog.Warn("no cloud_asr or local_asr provider configured; jobs will fail at the asr stage")
	}
	if len(cfg.Providers.LLM) == 0 {
		slog.Warn("no llm providers configured; jobs will fail at the llm_translate stage")
	}
	for i, entry := range cfg.Providers.LLM {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm[%d].name is required", i))
		}
	}

	if cfg.URLCache.DownloadTimeoutSeconds < minDownloadTimeoutSeconds {
		errs = append(errs, fmt.Errorf("url_cache.download_timeout_seconds must be ≥ %d, got %d", minDownloadTimeoutSeconds, cfg.URLCache.DownloadTimeoutSeconds))
	}
	if cfg.URLCache.Root == "" {
		slog.Warn("url_cache.root is empty; URL ingestion will be disabled")
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; using in-memory job store (not durable across restarts)")
	}

	return errors.Join(errs...)
}
