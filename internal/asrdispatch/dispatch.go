// Package asrdispatch builds the ordered ASR provider chain for a job's
// (runtime, profile, fallback) options and executes it with per-provider
// circuit breakers, surfacing the first success or an aggregated failure
// (Component C, §4.3).
package asrdispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/subtitleworks/core/internal/asr"
	"github.com/subtitleworks/core/internal/resilience"
	"github.com/subtitleworks/core/pkg/types"
)

// Provider names as they appear in configuration and in Stats.ASRProviderEffective.
const (
	NameCloudPrimary       = "cloud_primary"
	NameLocalWhisperX      = "local_whisperx"
	NameLocalFasterWhisper = "local_faster_whisper"
)

// ErrChainEmpty indicates the requested (runtime, profile, fallback) options
// produced an empty provider chain — e.g. a runtime was requested whose
// corresponding provider was never registered.
var ErrChainEmpty = errors.New("asrdispatch: provider chain empty")

// ErrAllProvidersFailed indicates every entry in the resolved chain failed.
var ErrAllProvidersFailed = errors.New("asrdispatch: all providers failed")

// Providers holds every ASR backend the dispatcher may wire into a chain.
// Entries may be nil when not configured; chain construction skips them.
type Providers struct {
	CloudPrimary       asr.Provider // cloud_paraformer_v2 or cloud_qwen3_asr_flash_filetrans, whichever is configured
	LocalWhisperX      asr.Provider
	LocalFasterWhisper asr.Provider
}

// Dispatcher resolves and executes provider chains for incoming jobs. A
// single Dispatcher's breakers are shared across all jobs so that a
// provider's health state accumulates across the whole process, not per call.
type Dispatcher struct {
	providers Providers
	breakers  map[string]*resilience.CircuitBreaker
	cbConfig  resilience.CircuitBreakerConfig
}

// New returns a Dispatcher over providers, creating one circuit breaker per
// configured backend using cbConfig as the template (Name is overridden per
// entry).
func New(providers Providers, cbConfig resilience.CircuitBreakerConfig) *Dispatcher {
	d := &Dispatcher{providers: providers, breakers: make(map[string]*resilience.CircuitBreaker), cbConfig: cbConfig}
	for _, name := range []string{NameCloudPrimary, NameLocalWhisperX, NameLocalFasterWhisper} {
		cfg := cbConfig
		cfg.Name = name
		d.breakers[name] = resilience.NewCircuitBreaker(cfg)
	}
	return d
}

// buildChain constructs the ordered provider chain per SPEC_FULL.md §4.3,
// pairing each entry with its persistent, process-lifetime breaker.
func (d *Dispatcher) buildChain(opts types.Options) []resilience.FallbackEntry[asr.Provider] {
	var chain []resilience.FallbackEntry[asr.Provider]
	add := func(name string, p asr.Provider) {
		if p == nil {
			return
		}
		chain = append(chain, resilience.FallbackEntry[asr.Provider]{Name: name, Value: p, Breaker: d.breakers[name]})
	}

	switch opts.ASRRuntime {
	case "local":
		if opts.ASRProfile == "accurate" {
			add(NameLocalWhisperX, d.providers.LocalWhisperX)
			if opts.FallbackEnabled {
				add(NameLocalFasterWhisper, d.providers.LocalFasterWhisper)
			}
		} else {
			add(NameLocalFasterWhisper, d.providers.LocalFasterWhisper)
		}
		if opts.FallbackEnabled && opts.AllowCloudFallback {
			add(NameCloudPrimary, d.providers.CloudPrimary)
		}
	default: // "cloud" and empty default to cloud-primary-first
		add(NameCloudPrimary, d.providers.CloudPrimary)
		if opts.FallbackEnabled && opts.AllowLocalFallback {
			if opts.ASRProfile == "accurate" {
				add(NameLocalWhisperX, d.providers.LocalWhisperX)
			}
			add(NameLocalFasterWhisper, d.providers.LocalFasterWhisper)
		}
	}
	return chain
}

// Transcribe builds the provider chain for opts and executes req against it
// through the generic [resilience.FallbackGroup] machinery (Component M),
// stopping at the first success. On success it reports the effective
// provider name, whether a fallback entry (not the chain's first member)
// served the request, and the result.
func (d *Dispatcher) Transcribe(ctx context.Context, opts types.Options, req asr.TranscribeRequest) (result *asr.TranscribeResult, effectiveProvider string, fallbackUsed bool, err error) {
	chain := d.buildChain(opts)
	if len(chain) == 0 {
		return nil, "", false, ErrChainEmpty
	}

	fg := resilience.NewFallbackGroupFromEntries(resilience.FallbackConfig{CircuitBreaker: d.cbConfig}, chain...)
	result, effectiveProvider, fallbackUsed, err = resilience.ExecuteWithResultNamed(fg, func(p asr.Provider) (*asr.TranscribeResult, error) {
		return p.Transcribe(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", false, ctx.Err()
		}
		return nil, "", false, fmt.Errorf("%w: %v", ErrAllProvidersFailed, err)
	}
	return result, effectiveProvider, fallbackUsed, nil
}
