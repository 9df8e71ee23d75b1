package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	ledger "routewatch/internal/ledger/domain"
)

// Store persists execution records in agent_executions.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Postgres ledger store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendExecutionRecord inserts a sealed record. Existing ids are never overwritten.
func (s *Store) AppendExecutionRecord(ctx context.Context, record ledger.ExecutionRecord) error {
	if s == nil || s.db == nil {
		return errors.New("ledger store: nil db")
	}
	if !record.Sealed() {
		return errors.New("ledger store: record not sealed")
	}
	result, err := s.db.ExecContext(ctx, `
INSERT INTO agent_executions (
	id, agent_name, generation, started_at, ended_at, outcome,
	candidate_count, alerts_emitted, error_detail
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`,
		record.ID, record.AgentName, int64(record.Generation), record.StartedAt.UTC(), record.EndedAt.UTC(),
		string(record.Outcome), record.CandidateCount, record.AlertsEmitted, nullableString(record.ErrorDetail))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ledger.ErrAlreadySealed
	}
	return nil
}

// ListExecutionRecords returns records started at or after since, oldest first.
func (s *Store) ListExecutionRecords(ctx context.Context, agentName string, since time.Time) ([]ledger.ExecutionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("ledger store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, agent_name, generation, started_at, ended_at, outcome,
	candidate_count, alerts_emitted, error_detail
FROM agent_executions
WHERE ($1 = '' OR agent_name = $1)
	AND started_at >= $2
ORDER BY started_at ASC, id ASC`, agentName, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.ExecutionRecord
	for rows.Next() {
		var (
			record     ledger.ExecutionRecord
			generation int64
			outcome    string
			detail     sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.AgentName, &generation, &record.StartedAt, &record.EndedAt, &outcome,
			&record.CandidateCount, &record.AlertsEmitted, &detail); err != nil {
			return nil, err
		}
		record.Generation = uint64(generation)
		record.Outcome = ledger.Outcome(outcome)
		record.StartedAt = record.StartedAt.UTC()
		record.EndedAt = record.EndedAt.UTC()
		if detail.Valid {
			record.ErrorDetail = detail.String
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
