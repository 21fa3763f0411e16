// Package mock provides a test double for [asr.Provider], mirroring the
// teacher's mock-subpackage-per-provider convention.
package mock

import (
	"context"

	"github.com/subtitleworks/core/internal/asr"
)

// Provider is a configurable fake implementing asr.Provider.
type Provider struct {
	ProviderName string

	TranscribeResult *asr.TranscribeResult
	TranscribeErr    error
	TranscribeCalls  []asr.TranscribeRequest
}

var _ asr.Provider = (*Provider)(nil)

func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

func (p *Provider) Transcribe(ctx context.Context, req asr.TranscribeRequest) (*asr.TranscribeResult, error) {
	p.TranscribeCalls = append(p.TranscribeCalls, req)
	if p.TranscribeErr != nil {
		return nil, p.TranscribeErr
	}
	if p.TranscribeResult != nil {
		return p.TranscribeResult, nil
	}
	return &asr.TranscribeResult{}, nil
}
