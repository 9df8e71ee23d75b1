package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestMemoryLoggerNormalizesEntries(t *testing.T) {
	logger := NewMemoryLogger()
	meta := json.RawMessage(`{"from":"active","to":"acknowledged"}`)
	if err := logger.Log(context.Background(), Entry{
		Actor:        "ops-7",
		Role:         "operator",
		Action:       "alert.acknowledge",
		ResourceType: "alert",
		ResourceID:   "alert-1",
		Metadata:     meta,
	}); err != nil {
		t.Fatalf("log: %v", err)
	}

	entries := logger.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if !strings.HasPrefix(entry.ID, "audit-") {
		t.Fatalf("expected generated id, got %q", entry.ID)
	}
	if entry.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
	if entry.PayloadDigest != DigestJSON(meta) || len(entry.PayloadDigest) != 64 {
		t.Fatalf("unexpected digest %q", entry.PayloadDigest)
	}
}

func TestDigestJSONEmpty(t *testing.T) {
	if got := DigestJSON(nil); got != "" {
		t.Fatalf("expected empty digest, got %q", got)
	}
}
