package protocol

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// probeTTL is how long a successful protocol probe result is trusted before
// the pipeline renegotiates, per SPEC_FULL.md §4.2.
const probeTTL = 600 * time.Second

// ProbeCache remembers, per provider configuration, which protocol last
// succeeded — so repeated jobs against the same provider skip renegotiation.
// Owned by a single long-lived instance (the pipeline engine process), never
// a package-level global, per Design Note §9.
type ProbeCache struct {
	mu      sync.Mutex
	entries map[string]probeEntry
}

type probeEntry struct {
	protocol Protocol
	expires  time.Time
}

// NewProbeCache returns an empty, ready-to-use ProbeCache.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{entries: make(map[string]probeEntry)}
}

// Key computes the cache key for a provider configuration: sha1 of the
// pipe-joined base URL, model, API key, and protocol candidate order.
func Key(baseURL, model, apiKey string, candidates []Protocol) string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = string(c)
	}
	raw := strings.Join([]string{baseURL, model, apiKey, strings.Join(names, ",")}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the last successful protocol for key if it was recorded
// within the TTL window.
func (c *ProbeCache) Lookup(key string) (Protocol, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.protocol, true
}

// Record stores p as the last successful protocol for key, valid for probeTTL.
func (c *ProbeCache) Record(key string, p Protocol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = probeEntry{protocol: p, expires: time.Now().Add(probeTTL)}
}
