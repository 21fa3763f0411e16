package protocol

import (
	"testing"
	"time"
)

func TestProbeCache_LookupMissBeforeRecord(t *testing.T) {
	c := NewProbeCache()
	key := Key("https://api.example.com/v1", "gpt-4o-mini", "sk-test", []Protocol{ProtocolChat, ProtocolResponses})

	if _, ok := c.Lookup(key); ok {
		t.Fatal("expected miss before any Record")
	}
}

func TestProbeCache_RecordThenLookupHits(t *testing.T) {
	c := NewProbeCache()
	key := Key("https://api.example.com/v1", "gpt-4o-mini", "sk-test", []Protocol{ProtocolChat, ProtocolResponses})

	c.Record(key, ProtocolResponses)
	got, ok := c.Lookup(key)
	if !ok {
		t.Fatal("expected hit after Record")
	}
	if got != ProtocolResponses {
		t.Fatalf("got = %v, want responses", got)
	}
}

func TestProbeCache_ExpiredEntryMisses(t *testing.T) {
	c := NewProbeCache()
	key := Key("https://api.example.com/v1", "gpt-4o-mini", "sk-test", []Protocol{ProtocolChat, ProtocolResponses})

	c.mu.Lock()
	c.entries[key] = probeEntry{protocol: ProtocolChat, expires: time.Now().Add(-time.Second)}
	c.mu.Unlock()

	if _, ok := c.Lookup(key); ok {
		t.Fatal("expected miss for an expired entry")
	}
}

func TestKey_DiffersByModelAndCandidateOrder(t *testing.T) {
	a := Key("https://api.example.com/v1", "gpt-4o-mini", "sk-test", []Protocol{ProtocolChat, ProtocolResponses})
	b := Key("https://api.example.com/v1", "gpt-4o", "sk-test", []Protocol{ProtocolChat, ProtocolResponses})
	c := Key("https://api.example.com/v1", "gpt-4o-mini", "sk-test", []Protocol{ProtocolResponses, ProtocolChat})

	if a == b {
		t.Fatal("keys for different models should differ")
	}
	if a == c {
		t.Fatal("keys for different candidate orders should differ")
	}
}
