package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gatekeeper/internal/clock"
	"github.com/sawpanic/gatekeeper/internal/dqs"
	"github.com/sawpanic/gatekeeper/internal/gatekeeper"
	"github.com/sawpanic/gatekeeper/internal/gates"
	"github.com/sawpanic/gatekeeper/internal/metrics"
	"github.com/sawpanic/gatekeeper/internal/persistence"
	"github.com/sawpanic/gatekeeper/internal/snapshot"

	promclient "github.com/prometheus/client_golang/prometheus"
)

// fakeDecisionsRepo records Insert calls in memory so tests can assert the
// HTTP layer audits outcomes without standing up Postgres.
type fakeDecisionsRepo struct {
	mu      sync.Mutex
	inserts []persistence.DecisionRecord
}

func (f *fakeDecisionsRepo) Insert(ctx context.Context, rec persistence.DecisionRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, rec)
	return int64(len(f.inserts)), nil
}

func (f *fakeDecisionsRepo) ListByPortfolio(ctx context.Context, portfolioID int64, tr persistence.TimeRange, limit int) ([]persistence.DecisionRecord, error) {
	return nil, nil
}

func (f *fakeDecisionsRepo) ListBlocked(ctx context.Context, tr persistence.TimeRange, limit int) ([]persistence.DecisionRecord, error) {
	return nil, nil
}

func (f *fakeDecisionsRepo) CountByReason(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	return nil, nil
}

func (f *fakeDecisionsRepo) snapshot() []persistence.DecisionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]persistence.DecisionRecord, len(f.inserts))
	copy(out, f.inserts)
	return out
}

func testEngine() *Engine {
	return &Engine{
		Cfg:     gates.Default(),
		Machine: nil,
		DRP:     nil,
		Metrics: metrics.New(promclient.NewRegistry()),
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Port = 0 // find any free port via net.Listen("tcp", host:0) semantics is not supported by our NewServer (it probes a fixed port), so tests drive handlers directly via httptest instead of Start().
	s := &Server{router: nil, engine: testEngine(), config: cfg}
	s.router = muxRouterForTest(s)
	return s
}

// muxRouterForTest builds the same route table NewServer would, without the
// port-availability probe, so handler tests don't need a real listener.
func muxRouterForTest(s *Server) *mux.Router {
	s.setupRoutes()
	return s.router
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestHandleSnapshotWithNoMachineReportsUnpublished(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Published)
}

func TestHandleSnapshotReflectsPublishedRegistryEntry(t *testing.T) {
	s := newTestServer(t)
	registry := clock.NewRegistry(5000)
	registry.Publish(snapshot.Snapshot{
		LogicalClockMs: 42,
		PublishedAtUTC: time.Now(),
		Market:         snapshot.MarketState{TsUTCMs: 42},
	})
	s.engine.Machine = &gatekeeper.Machinery{Snapshots: registry}

	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Published)
	assert.Equal(t, int64(42), body.LogicalClockMs)
	assert.False(t, body.Stale)
}

func TestHandleEvaluateManualHaltRejected(t *testing.T) {
	s := newTestServer(t)

	sig := snapshot.EngineSignal{
		Instrument: "BTC-PERP",
		Engine:     snapshot.EngineTrend,
		Direction:  snapshot.DirLong,
		Levels:     snapshot.Levels{EntryPrice: 50000, TakeProfit: 52000, StopLoss: 49000},
		Context:    snapshot.SignalContext{ExpectedHoldingHours: 12},
		Constraints: snapshot.SignalConstraints{RRMinEngine: 1.0, SLMinATRMult: 0.1, SLMaxATRMult: 10},
	}
	reqBody := evaluateRequest{
		Request: gatekeeper.Request{
			Signal: sig,
			Market: snapshot.MarketState{
				Price:      snapshot.PriceState{Last: 50000, TickSize: 0.5},
				Volatility: snapshot.VolatilityState{ATR: 500, ATRZShort: 0.5},
				Liquidity: snapshot.LiquidityState{
					BidDepthUSD: 1000000, AskDepthUSD: 1000000, SpreadBps: 2, Volume24hUSD: 10000000,
				},
				Correlations: snapshot.CorrelationsState{TailReliabilityScore: 1, LambdaUsed: 0.2},
			},
			Portfolio: snapshot.PortfolioState{
				PortfolioID: 1, EquityUSD: 100000, TradingMode: snapshot.TradingModeLive,
				ManualHaltAllTrading: true,
			},
			MRCRegime:      snapshot.RegimeTrendUp,
			BaselineRegime: snapshot.RegimeTrendUp,
			MRCConfidence:  0.95,
			MarketCtx:      gatekeeper.MarketContext{ClusterID: "btc"},
		},
		Base: gates.Context{DQSResult: dqs.Result{DQS: 1, DQSMult: 1}},
	}

	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var out gatekeeper.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.Allowed)
	assert.Equal(t, "gate1", out.RejectedAtGate)
}

func TestHandleEvaluateInvalidBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvaluateAuditsDecisionAsynchronously(t *testing.T) {
	repo := &fakeDecisionsRepo{}
	s := newTestServer(t)
	s.engine.Decisions = repo

	sig := snapshot.EngineSignal{
		Instrument: "ETH-PERP",
		Engine:     snapshot.EngineTrend,
		Direction:  snapshot.DirLong,
		Levels:     snapshot.Levels{EntryPrice: 3000, TakeProfit: 3200, StopLoss: 2900},
		Context:    snapshot.SignalContext{ExpectedHoldingHours: 12},
		Constraints: snapshot.SignalConstraints{RRMinEngine: 1.0, SLMinATRMult: 0.1, SLMaxATRMult: 10},
	}
	reqBody := evaluateRequest{
		Request: gatekeeper.Request{
			Signal: sig,
			Portfolio: snapshot.PortfolioState{
				PortfolioID: 7, EquityUSD: 50000, TradingMode: snapshot.TradingModeLive,
				ManualHaltAllTrading: true,
			},
			MRCRegime:      snapshot.RegimeTrendUp,
			BaselineRegime: snapshot.RegimeTrendUp,
			MRCConfidence:  0.9,
		},
		Base: gates.Context{DQSResult: dqs.Result{DQS: 1, DQSMult: 1}},
	}
	payload, err := json.Marshal(reqBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(repo.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	rec0 := repo.snapshot()[0]
	assert.Equal(t, "ETH-PERP", rec0.Instrument)
	assert.Equal(t, int64(7), rec0.PortfolioID)
	assert.False(t, rec0.Allowed)
	assert.Equal(t, "gate1", rec0.RejectedAtGate)
}

func TestNotFoundHandler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
