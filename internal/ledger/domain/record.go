package ledger

import (
	"context"
	"errors"
	"time"
)

// Outcome is the terminal result of an agent tick.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

var (
	// ErrAlreadySealed indicates a second attempt to seal a record.
	ErrAlreadySealed = errors.New("ledger: record already sealed")
	// ErrInvalidOutcome indicates a seal with a non-terminal outcome.
	ErrInvalidOutcome = errors.New("ledger: invalid outcome")
)

// Terminal returns true for outcomes a record can be sealed with.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeTimeout:
		return true
	default:
		return false
	}
}

// ExecutionRecord describes one agent tick.
type ExecutionRecord struct {
	ID             string    `json:"id"`
	AgentName      string    `json:"agent_name"`
	Generation     uint64    `json:"generation"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	CandidateCount int       `json:"candidate_count"`
	AlertsEmitted  int       `json:"alerts_emitted"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
}

// Open starts a pending record.
func Open(id, agentName string, generation uint64, at time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		ID:         id,
		AgentName:  agentName,
		Generation: generation,
		StartedAt:  at.UTC(),
		Outcome:    OutcomePending,
	}
}

// Seal finalises the record. A record is sealed at most once.
func (r *ExecutionRecord) Seal(outcome Outcome, at time.Time, candidates, emitted int, detail string) error {
	if r == nil {
		return errors.New("ledger: nil record")
	}
	if r.Outcome != OutcomePending {
		return ErrAlreadySealed
	}
	if !outcome.Terminal() {
		return ErrInvalidOutcome
	}
	r.Outcome = outcome
	r.EndedAt = at.UTC()
	r.CandidateCount = candidates
	r.AlertsEmitted = emitted
	r.ErrorDetail = detail
	return nil
}

// Sealed reports whether the record is final.
func (r ExecutionRecord) Sealed() bool {
	return r.Outcome.Terminal()
}

// Duration returns the wall time of a sealed record.
func (r ExecutionRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store appends sealed records; records are never updated.
type Store interface {
	AppendExecutionRecord(ctx context.Context, record ExecutionRecord) error
	// ListExecutionRecords returns records started at or after since, oldest first. An empty agent lists all.
	ListExecutionRecords(ctx context.Context, agentName string, since time.Time) ([]ExecutionRecord, error)
}
