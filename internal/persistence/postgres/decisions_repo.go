// Package postgres implements the Gatekeeper's persistence interfaces
// against PostgreSQL. Grounded on
// sawpanic-cryptorun's internal/persistence/postgres/trades_repo.go
// (sqlx.DB with a per-call context.WithTimeout, QueryRowxContext/
// QueryxContext, JSONB marshal/unmarshal for free-form attributes,
// pq.Error code inspection for constraint violations), generalized from
// trade execution records to admission-decision audit records.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/gatekeeper/internal/persistence"
)

type decisionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionsRepo creates a PostgreSQL-backed DecisionsRepo.
func NewDecisionsRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionsRepo {
	return &decisionsRepo{db: db, timeout: timeout}
}

func (r *decisionsRepo) Insert(ctx context.Context, rec persistence.DecisionRecord) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	traceJSON, err := json.Marshal(rec.GateTrace)
	if err != nil {
		return 0, fmt.Errorf("persistence: marshal gate trace: %w", err)
	}

	query := `
		INSERT INTO admission_decisions
			(ts, instrument, portfolio_id, allowed, reason, rejected_at_gate,
			 allowed_risk_pct, size_qty, size_notional_usd, drp_state, gate_trace)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var id int64
	err = r.db.QueryRowxContext(ctx, query,
		rec.Timestamp, rec.Instrument, rec.PortfolioID, rec.Allowed, rec.Reason,
		rec.RejectedAtGate, rec.AllowedRiskPct, rec.SizeQty, rec.SizeNotionalUSD,
		rec.DRPState, traceJSON).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, fmt.Errorf("persistence: duplicate decision record: %w", err)
		}
		return 0, fmt.Errorf("persistence: insert decision: %w", err)
	}
	return id, nil
}

func (r *decisionsRepo) ListByPortfolio(ctx context.Context, portfolioID int64, tr persistence.TimeRange, limit int) ([]persistence.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, instrument, portfolio_id, allowed, reason, rejected_at_gate,
		       allowed_risk_pct, size_qty, size_notional_usd, drp_state, gate_trace, created_at
		FROM admission_decisions
		WHERE portfolio_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, portfolioID, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: list by portfolio: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func (r *decisionsRepo) ListBlocked(ctx context.Context, tr persistence.TimeRange, limit int) ([]persistence.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, instrument, portfolio_id, allowed, reason, rejected_at_gate,
		       allowed_risk_pct, size_qty, size_notional_usd, drp_state, gate_trace, created_at
		FROM admission_decisions
		WHERE allowed = false AND ts >= $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: list blocked: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func (r *decisionsRepo) CountByReason(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT reason, COUNT(*)
		FROM admission_decisions
		WHERE allowed = false AND ts >= $1 AND ts <= $2
		GROUP BY reason
		ORDER BY reason`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("persistence: count by reason: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var reason string
		var count int64
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("persistence: scan reason count: %w", err)
		}
		counts[reason] = count
	}
	return counts, rows.Err()
}

func scanDecisions(rows *sqlx.Rows) ([]persistence.DecisionRecord, error) {
	var out []persistence.DecisionRecord
	for rows.Next() {
		rec, err := scanDecisionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persistence: iterate rows: %w", err)
	}
	return out, nil
}

func scanDecisionRow(rows *sqlx.Rows) (*persistence.DecisionRecord, error) {
	var rec persistence.DecisionRecord
	var traceJSON []byte

	err := rows.Scan(
		&rec.ID, &rec.Timestamp, &rec.Instrument, &rec.PortfolioID, &rec.Allowed,
		&rec.Reason, &rec.RejectedAtGate, &rec.AllowedRiskPct, &rec.SizeQty,
		&rec.SizeNotionalUSD, &rec.DRPState, &traceJSON, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("persistence: scan decision row: %w", err)
	}

	if len(traceJSON) > 0 {
		if err := json.Unmarshal(traceJSON, &rec.GateTrace); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal gate trace: %w", err)
		}
	} else {
		rec.GateTrace = make(map[string]interface{})
	}
	return &rec, nil
}
