package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	ledger "routewatch/internal/ledger/domain"
)

// Store is an append-only in-process execution ledger.
type Store struct {
	mu      sync.RWMutex
	records []ledger.ExecutionRecord
	ids     map[string]struct{}
}

// NewStore constructs a store.
func NewStore() *Store {
	return &Store{ids: make(map[string]struct{})}
}

// AppendExecutionRecord appends a sealed record.
func (s *Store) AppendExecutionRecord(ctx context.Context, record ledger.ExecutionRecord) error {
	_ = ctx
	if !record.Sealed() {
		return errors.New("memory ledger: record not sealed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ids[record.ID]; exists {
		return ledger.ErrAlreadySealed
	}
	s.ids[record.ID] = struct{}{}
	s.records = append(s.records, record)
	return nil
}

// ListExecutionRecords returns records started at or after since, oldest first.
func (s *Store) ListExecutionRecords(ctx context.Context, agentName string, since time.Time) ([]ledger.ExecutionRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.ExecutionRecord
	for _, record := range s.records {
		if agentName != "" && record.AgentName != agentName {
			continue
		}
		if !since.IsZero() && record.StartedAt.Before(since) {
			continue
		}
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
