// Package reservation implements the risk-reservation ledger and
// single-writer portfolio commit protocol of spec.md §4.11: atomic RESERVE
// via Redis, TTL floors and heartbeat-loss detection (there is no lease
// renewal operation), an optimistic-concurrency check for fill commits, and
// orphan-sweep reconciliation. Grounded on
// sawpanic-cryptorun's data/cache/cache.go (Redis-or-memory adapter pattern)
// for the atomic scalar ledger and internal/persistence/postgres's sqlx
// upsert idiom for durable audit.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// OrderType selects the TTL floor and renewal cadence for a reservation.
type OrderType string

const (
	OrderMaker OrderType = "maker"
	OrderTaker OrderType = "taker"
	OrderStop  OrderType = "stop"
)

// State is the reservation lifecycle's closed set of states.
type State string

const (
	StateReserved State = "RESERVED"
	StateCommitted State = "COMMITTED"
	StateCancelled State = "CANCELLED"
	StateExpired   State = "EXPIRED"
)

// Record is one reservation's full ledger entry, per spec.md §4.11.
type Record struct {
	ReservationID           uuid.UUID
	SnapshotIDUsed          int64
	Instrument              string
	ClusterID               string
	ReservedRiskPct         float64
	ReservedClusterRiskPct  float64
	ReservedSumAbsRiskPct   float64
	ReservedHeatUpperBoundPct float64
	ExpiresAt               time.Time
	LeaseID                 uuid.UUID
	LeaseRenewalDeadline    time.Time
	OrderType               OrderType
	State                   State
	LastHeartbeatAt         time.Time
}

// ConflictError is returned by Reserve when a scalar cap is exceeded.
type ConflictError struct {
	Kind string // portfolio_limit_exceeded | cluster_limit_exceeded | gross_limit_exceeded | heat_budget_exceeded
}

func (e *ConflictError) Error() string { return "reservation: conflict: " + e.Kind }

var (
	ErrStalePortfolioSnapshot   = errors.New("reservation: stale_portfolio_snapshot")
	ErrReservationExpiredFill  = errors.New("reservation: reservation_expired_fill")
	ErrPortfolioWriterOverload = errors.New("reservation: portfolio_writer_overload_block")
)

// TTLFloors gives the minimum reservation TTL by order type, per spec.md §4.11.
type TTLFloors struct {
	MakerSec             float64
	TakerSec             float64
	StopSec              float64
	PassiveFadeHardTimeoutSec float64
}

// MinTTL returns the floor for an order type, enforcing maker TTL to be at
// least the passive-fade hard timeout.
func (f TTLFloors) MinTTL(ot OrderType) time.Duration {
	switch ot {
	case OrderMaker:
		sec := f.MakerSec
		if f.PassiveFadeHardTimeoutSec > sec {
			sec = f.PassiveFadeHardTimeoutSec
		}
		return time.Duration(sec * float64(time.Second))
	case OrderTaker:
		return time.Duration(f.TakerSec * float64(time.Second))
	case OrderStop:
		return time.Duration(f.StopSec * float64(time.Second))
	default:
		panic(fmt.Sprintf("reservation: unhandled order type %q", ot))
	}
}

// Ledger is the atomic scalar reservation store, backed by Redis for the
// check-and-set path and sqlx/Postgres for durable audit.
type Ledger struct {
	redis   *redis.Client
	db      *sqlx.DB
	limiter *rate.Limiter

	writerQueueHardCap int
	queueDepth         func() int
}

// NewLedger wires the Redis client (atomic RESERVE ledger) and the sqlx
// handle (decision/reservation audit persistence).
func NewLedger(redisClient *redis.Client, db *sqlx.DB, writerQueueHardCap int, queueDepth func() int, overloadRPS float64) *Ledger {
	return &Ledger{
		redis:              redisClient,
		db:                 db,
		limiter:            rate.NewLimiter(rate.Limit(overloadRPS), 1),
		writerQueueHardCap: writerQueueHardCap,
		queueDepth:         queueDepth,
	}
}

// reserveScript is a Lua script performing the atomic check-and-set across
// portfolio, cluster, gross, and heat-budget scalar caps in one round trip.
const reserveScript = `
local portfolio_key = KEYS[1]
local cluster_key = KEYS[2]
local gross_key = KEYS[3]
local heat_key = KEYS[4]

local portfolio_cap = tonumber(ARGV[1])
local cluster_cap = tonumber(ARGV[2])
local gross_cap = tonumber(ARGV[3])
local heat_cap = tonumber(ARGV[4])
local add_risk = tonumber(ARGV[5])
local add_cluster_risk = tonumber(ARGV[6])
local add_gross = tonumber(ARGV[7])
local add_heat = tonumber(ARGV[8])

local portfolio_cur = tonumber(redis.call('GET', portfolio_key) or '0')
local cluster_cur = tonumber(redis.call('GET', cluster_key) or '0')
local gross_cur = tonumber(redis.call('GET', gross_key) or '0')
local heat_cur = tonumber(redis.call('GET', heat_key) or '0')

if portfolio_cur + add_risk > portfolio_cap then return 'portfolio_limit_exceeded' end
if cluster_cur + add_cluster_risk > cluster_cap then return 'cluster_limit_exceeded' end
if gross_cur + add_gross > gross_cap then return 'gross_limit_exceeded' end
if heat_cur + add_heat > heat_cap then return 'heat_budget_exceeded' end

redis.call('SET', portfolio_key, portfolio_cur + add_risk)
redis.call('SET', cluster_key, cluster_cur + add_cluster_risk)
redis.call('SET', gross_key, gross_cur + add_gross)
redis.call('SET', heat_key, heat_cur + add_heat)
return 'ok'
`

// ReserveRequest is the scalar check-and-set input for one candidate trade.
type ReserveRequest struct {
	PortfolioID             int64
	Instrument              string
	ClusterID               string
	RiskPct, ClusterRiskPct float64
	GrossAbsRiskPct         float64
	HeatContributionPct     float64
	PortfolioCapPct         float64
	ClusterCapPct           float64
	GrossCapPct             float64
	HeatCapPct              float64
	SnapshotIDUsed          int64
	OrderType               OrderType
	TTL                     time.Duration
}

// Reserve performs the atomic scalar check-and-set and, on success, writes
// the reservation record for durable audit.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (Record, error) {
	if l.writerQueueHardCap > 0 && l.queueDepth != nil && l.queueDepth() > l.writerQueueHardCap {
		return Record{}, ErrPortfolioWriterOverload
	}
	if !l.limiter.Allow() {
		return Record{}, ErrPortfolioWriterOverload
	}

	keys := []string{
		fmt.Sprintf("gk:risk:portfolio:%d", req.PortfolioID),
		fmt.Sprintf("gk:risk:cluster:%d:%s", req.PortfolioID, req.ClusterID),
		fmt.Sprintf("gk:risk:gross:%d", req.PortfolioID),
		fmt.Sprintf("gk:risk:heat:%d", req.PortfolioID),
	}
	args := []any{
		req.PortfolioCapPct, req.ClusterCapPct, req.GrossCapPct, req.HeatCapPct,
		req.RiskPct, req.ClusterRiskPct, req.GrossAbsRiskPct, req.HeatContributionPct,
	}

	res, err := l.redis.Eval(ctx, reserveScript, keys, args...).Result()
	if err != nil {
		return Record{}, fmt.Errorf("reservation: reserve eval failed: %w", err)
	}
	status, _ := res.(string)
	if status != "ok" {
		return Record{}, &ConflictError{Kind: status}
	}

	rec := Record{
		ReservationID:             uuid.New(),
		SnapshotIDUsed:            req.SnapshotIDUsed,
		Instrument:                req.Instrument,
		ClusterID:                 req.ClusterID,
		ReservedRiskPct:           req.RiskPct,
		ReservedClusterRiskPct:    req.ClusterRiskPct,
		ReservedSumAbsRiskPct:     req.GrossAbsRiskPct,
		ReservedHeatUpperBoundPct: req.RiskPct,
		ExpiresAt:                 time.Now().Add(req.TTL),
		LeaseID:                   uuid.New(),
		OrderType:                 req.OrderType,
		State:                     StateReserved,
		LastHeartbeatAt:           time.Now(),
	}

	if l.db != nil {
		_, err = l.db.ExecContext(ctx, `
			INSERT INTO risk_reservations
			(reservation_id, snapshot_id_used, instrument, cluster_id, reserved_risk_pct,
			 reserved_cluster_risk_pct, reserved_sum_abs_risk_pct, reserved_heat_upper_bound_pct,
			 expires_at, lease_id, order_type, state)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (reservation_id) DO NOTHING`,
			rec.ReservationID, rec.SnapshotIDUsed, rec.Instrument, rec.ClusterID,
			rec.ReservedRiskPct, rec.ReservedClusterRiskPct, rec.ReservedSumAbsRiskPct,
			rec.ReservedHeatUpperBoundPct, rec.ExpiresAt, rec.LeaseID, string(rec.OrderType), string(rec.State))
		if err != nil {
			return Record{}, fmt.Errorf("reservation: audit insert failed: %w", err)
		}
	}

	return rec, nil
}

// releaseScript reverses reserveScript's scalar deltas; used when a
// reservation succeeds but a later, independent check (e.g. sizing
// deviation) rejects the same candidate.
const releaseScript = `
local portfolio_key = KEYS[1]
local cluster_key = KEYS[2]
local gross_key = KEYS[3]
local heat_key = KEYS[4]

local sub_risk = tonumber(ARGV[1])
local sub_cluster_risk = tonumber(ARGV[2])
local sub_gross = tonumber(ARGV[3])
local sub_heat = tonumber(ARGV[4])

local portfolio_cur = tonumber(redis.call('GET', portfolio_key) or '0')
local cluster_cur = tonumber(redis.call('GET', cluster_key) or '0')
local gross_cur = tonumber(redis.call('GET', gross_key) or '0')
local heat_cur = tonumber(redis.call('GET', heat_key) or '0')

redis.call('SET', portfolio_key, math.max(portfolio_cur - sub_risk, 0))
redis.call('SET', cluster_key, math.max(cluster_cur - sub_cluster_risk, 0))
redis.call('SET', gross_key, math.max(gross_cur - sub_gross, 0))
redis.call('SET', heat_key, math.max(heat_cur - sub_heat, 0))
return 'ok'
`

// Release undoes a reservation made with the same ReserveRequest, rolling
// back its scalar contributions and marking the audit row CANCELLED. Callers
// use this when a reservation is granted but a later gate in the same
// admission call independently rejects the candidate.
func (l *Ledger) Release(ctx context.Context, rec Record, req ReserveRequest) error {
	keys := []string{
		fmt.Sprintf("gk:risk:portfolio:%d", req.PortfolioID),
		fmt.Sprintf("gk:risk:cluster:%d:%s", req.PortfolioID, req.ClusterID),
		fmt.Sprintf("gk:risk:gross:%d", req.PortfolioID),
		fmt.Sprintf("gk:risk:heat:%d", req.PortfolioID),
	}
	args := []any{req.RiskPct, req.ClusterRiskPct, req.GrossAbsRiskPct, req.HeatContributionPct}
	if err := l.redis.Eval(ctx, releaseScript, keys, args...).Err(); err != nil {
		return fmt.Errorf("reservation: release eval failed: %w", err)
	}
	if l.db != nil {
		if _, err := l.db.ExecContext(ctx,
			`UPDATE risk_reservations SET state = $1 WHERE reservation_id = $2`,
			string(StateCancelled), rec.ReservationID); err != nil {
			return fmt.Errorf("reservation: release audit update failed: %w", err)
		}
	}
	return nil
}

// Fill is the two-phase commit input emitted by the execution manager.
type Fill struct {
	ReservationID  uuid.UUID
	SnapshotIDUsed int64
	FilledQty      float64
	FillPrice      float64
}

// Writer performs the optimistic-concurrency check for fill commits. It holds
// no PortfolioState and does not change it or the portfolio ID.
type Writer struct {
	currentPortfolioID func() int64
	commitRetryCount   int
}

// NewWriter constructs a Writer reading the authoritative current portfolio
// ID via the supplied accessor (typically backed by clock.Registry).
func NewWriter(currentPortfolioID func() int64, commitRetryCount int) *Writer {
	return &Writer{currentPortfolioID: currentPortfolioID, commitRetryCount: commitRetryCount}
}

// Commit checks a fill against the writer's current portfolio ID. It returns
// ErrReservationExpiredFill for an expired reservation, and nil as soon as
// the current portfolio ID equals fill.SnapshotIDUsed; otherwise it calls
// recheck (returning its error, if any) and checks again, up to
// commitRetryCount attempts, after which it returns ErrStalePortfolioSnapshot.
// It does not apply the fill or change the reservation's state.
func (w *Writer) Commit(ctx context.Context, rec Record, fill Fill, recheck func() error) error {
	if rec.State == StateExpired {
		return ErrReservationExpiredFill
	}
	for attempt := 0; attempt < w.commitRetryCount; attempt++ {
		if w.currentPortfolioID() == fill.SnapshotIDUsed {
			return nil
		}
		if err := recheck(); err != nil {
			return err
		}
	}
	return ErrStalePortfolioSnapshot
}

// HeartbeatMonitor detects a reservation whose heartbeat has lapsed beyond
// the configured grace period (see IsLost); it does not release the
// reservation itself.
type HeartbeatMonitor struct {
	PeriodMs int64
	GraceMs  int64
}

// IsLost reports whether the reservation's last heartbeat exceeds the grace
// window relative to now.
func (h HeartbeatMonitor) IsLost(lastHeartbeat, now time.Time) bool {
	return now.Sub(lastHeartbeat).Milliseconds() > h.GraceMs
}

// OrphanSweepResult summarizes a reconciliation pass against REST-fetched
// open orders/positions.
type OrphanSweepResult struct {
	OrphansDetected []string // order IDs with no local reservation_id
	InProgress      bool
}

// Sweep reconciles a REST-reported order-ID set against locally tracked
// reservation IDs (keyed by order ID in execution_shadow), flagging orphans.
func Sweep(restOrderIDs []string, localReservationByOrderID map[string]uuid.UUID) OrphanSweepResult {
	var orphans []string
	for _, id := range restOrderIDs {
		if _, ok := localReservationByOrderID[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	return OrphanSweepResult{OrphansDetected: orphans}
}
