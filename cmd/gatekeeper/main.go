// Command gatekeeper is the risk-admission engine's entrypoint: a cobra CLI
// exposing a `serve` subcommand (HTTP admission API), an `evaluate`
// subcommand (one-shot JSON-in/JSON-out admission check for scripting), a
// `replay` subcommand (print the audited decision log), a `compound`
// subcommand (offline compounding/variance-drag diagnostic), and a
// `healthcheck` subcommand. Grounded on
// sawpanic-cryptorun's cmd/cryptorun/main.go (a root cobra.Command with
// Use/Short/Version/Long, subcommands built with cobra.Command{RunE: ...},
// shared flags registered via cmd.Flags() loops, a global zerolog logger
// configured once at startup), scaled down from the teacher's dozens of
// trading-scanner subcommands to the handful the admission engine needs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/gatekeeper/internal/clock"
	"github.com/sawpanic/gatekeeper/internal/compounding"
	"github.com/sawpanic/gatekeeper/internal/config"
	"github.com/sawpanic/gatekeeper/internal/corrmatrix"
	"github.com/sawpanic/gatekeeper/internal/drp"
	"github.com/sawpanic/gatekeeper/internal/gatekeeper"
	"github.com/sawpanic/gatekeeper/internal/gates"
	"github.com/sawpanic/gatekeeper/internal/gklog"
	"github.com/sawpanic/gatekeeper/internal/httpapi"
	"github.com/sawpanic/gatekeeper/internal/metrics"
	"github.com/sawpanic/gatekeeper/internal/persistence"
	"github.com/sawpanic/gatekeeper/internal/persistence/postgres"
	"github.com/sawpanic/gatekeeper/internal/reservation"

	promclient "github.com/prometheus/client_golang/prometheus"
)

const (
	appName = "gatekeeper"
	version = "v0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Crypto-derivatives risk admission engine",
		Version: version,
		Long: `gatekeeper evaluates trading-engine signals against a fixed-order
admission chain (DQS/DRP health gates, signal sanity, microstructure,
funding/basis, portfolio heat, sizing, and reservation) before a candidate
is allowed to reach an exchange.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP admission API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Path to gatekeeper.yaml (defaults built in if omitted)")
	serveCmd.Flags().String("redis-addr", "", "Redis address for the reservation ledger (ledger disabled if empty)")
	serveCmd.Flags().String("postgres-dsn", "", "Postgres DSN for reservation/decision audit (audit disabled if empty)")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single admission request from stdin JSON",
		Long:  "Reads a gatekeeper.Request+gates.Context JSON payload from stdin, prints the resulting Outcome as JSON.",
		RunE:  runEvaluate,
	}
	evaluateCmd.Flags().String("config", "", "Path to gatekeeper.yaml (defaults built in if omitted)")

	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running gatekeeper server's /health endpoint",
		RunE:  runHealthcheck,
	}
	healthcheckCmd.Flags().String("addr", "http://127.0.0.1:8090", "Base URL of a running gatekeeper server")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Print audited admission decisions from the Postgres decision log",
		Long:  "Reads back admission_decisions rows for offline WFO/backtest reconciliation against live outcomes.",
		RunE:  runReplay,
	}
	replayCmd.Flags().String("postgres-dsn", "", "Postgres DSN the decision log was written to (required)")
	replayCmd.Flags().Int64("portfolio-id", 0, "Portfolio ID to replay (0 = blocked decisions across all portfolios)")
	replayCmd.Flags().Int("limit", 100, "Maximum number of decisions to print")

	compoundCmd := &cobra.Command{
		Use:   "compound",
		Short: "Compound a closed-trade return series and report variance drag",
		Long:  "Reads {\"starting_equity\":..., \"returns\":[...]} JSON from stdin, prints the compounded equity and variance-drag diagnostic used to flag a compounding-domain DRP escalation.",
		RunE:  runCompound,
	}
	compoundCmd.Flags().String("config", "", "Path to gatekeeper.yaml (defaults built in if omitted)")
	compoundCmd.Flags().Float64("trades-per-year", 250, "Annualization factor for the variance-drag diagnostic")
	compoundCmd.Flags().Float64("target-return-annual", 0.20, "Target annual return used as the variance-drag breach denominator")

	for _, cmd := range []*cobra.Command{serveCmd, evaluateCmd, healthcheckCmd, replayCmd, compoundCmd} {
		cmd.Flags().String("log-level", "info", "Log level (debug|info|warn|error)")
		cmd.Flags().Bool("log-json", true, "Force JSON log output even on a TTY")
	}

	rootCmd.AddCommand(serveCmd, evaluateCmd, healthcheckCmd, replayCmd, compoundCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfigFromFlag(cmd *cobra.Command) (config.Root, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func configureLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	forceJSON, _ := cmd.Flags().GetBool("log-json")
	gklog.Configure(level, forceJSON)
}

func runServe(cmd *cobra.Command, args []string) error {
	configureLogging(cmd)
	root, err := loadConfigFromFlag(cmd)
	if err != nil {
		return fmt.Errorf("gatekeeper: load config: %w", err)
	}

	drpMachine := drp.NewMachine(3)
	logSink := gklog.NewSink(1024)
	defer logSink.Close()

	var db *sqlx.DB
	if pgDSN, _ := cmd.Flags().GetString("postgres-dsn"); pgDSN != "" {
		conn, err := sqlx.Connect("postgres", pgDSN)
		if err != nil {
			log.Error().Err(err).Msg("gatekeeper: postgres connect failed; reservation ledger and decision audit disabled")
		} else {
			db = conn
		}
	}

	machinery := buildMachinery(cmd, root, drpMachine, db)
	machinery.Log = logSink

	promReg := promclient.NewRegistry()
	engine := &httpapi.Engine{
		Cfg:     root.Gates,
		Machine: machinery,
		DRP:     drpMachine,
		Metrics: metrics.New(promReg),
	}
	if db != nil {
		engine.Decisions = postgres.NewDecisionsRepo(db, 5*time.Second)
	}

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = "0.0.0.0"

	srv, err := httpapi.NewServer(httpCfg, engine)
	if err != nil {
		return fmt.Errorf("gatekeeper: start http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("gatekeeper: http server: %w", err)
		}
	case <-sigCh:
		log.Info().Msg("gatekeeper: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
	return nil
}

func buildMachinery(cmd *cobra.Command, root config.Root, drpMachine *drp.Machine, db *sqlx.DB) *gatekeeper.Machinery {
	redisAddr, _ := cmd.Flags().GetString("redis-addr")

	ttl := reservation.TTLFloors{
		MakerSec:                  root.Reservation.TTLSecMinMaker,
		TakerSec:                  root.Reservation.TTLSecMinTaker,
		StopSec:                   root.Reservation.TTLSecMinStop,
		PassiveFadeHardTimeoutSec: root.Reservation.PassiveFadeHardTimeoutSec,
	}

	logicalClock := clock.NewLogicalClock(time.Now().UnixMilli())
	snapshots := clock.NewRegistry(5000)

	if redisAddr == "" || db == nil {
		log.Warn().Msg("gatekeeper: reservation ledger disabled (redis-addr/postgres-dsn not set); running admission-only")
		return &gatekeeper.Machinery{DRP: drpMachine, TTL: ttl, Clock: logicalClock, Snapshots: snapshots}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	corrCache := corrmatrix.NewSnapshotCache(redisClient, 30*time.Second)

	queueDepth := func() int { return 0 }
	ledger := reservation.NewLedger(redisClient, db, root.Reservation.WriterQueueHardCap, queueDepth, 50.0)
	writer := reservation.NewWriter(func() int64 { return 0 }, 3)

	return &gatekeeper.Machinery{
		DRP: drpMachine, Ledger: ledger, Writer: writer, TTL: ttl,
		CorrCache: corrCache, Clock: logicalClock, Snapshots: snapshots,
	}
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	configureLogging(cmd)
	root, err := loadConfigFromFlag(cmd)
	if err != nil {
		return fmt.Errorf("gatekeeper: load config: %w", err)
	}

	var payload struct {
		Request gatekeeper.Request `json:"request"`
		Base    gates.Context      `json:"base"`
	}
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		return fmt.Errorf("gatekeeper: decode stdin: %w", err)
	}

	out, err := gatekeeper.Evaluate(context.Background(), root.Gates, nil, drp.Normal, payload.Base, payload.Request)
	if err != nil {
		return fmt.Errorf("gatekeeper: evaluate: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	configureLogging(cmd)
	addr, _ := cmd.Flags().GetString("addr")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return fmt.Errorf("gatekeeper: healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gatekeeper: healthcheck returned status %d", resp.StatusCode)
	}
	fmt.Println("ok")
	return nil
}

// runCompound is an offline diagnostic: it does not touch the admission
// chain, it reports whether a closed-trade return series would itself
// warrant a compounding-domain DRP escalation before the next live tick
// sees it.
func runCompound(cmd *cobra.Command, args []string) error {
	configureLogging(cmd)
	root, err := loadConfigFromFlag(cmd)
	if err != nil {
		return fmt.Errorf("gatekeeper: load config: %w", err)
	}
	tradesPerYear, _ := cmd.Flags().GetFloat64("trades-per-year")
	targetReturnAnnual, _ := cmd.Flags().GetFloat64("target-return-annual")

	var payload struct {
		StartingEquity float64   `json:"starting_equity"`
		Returns        []float64 `json:"returns"`
	}
	if err := json.NewDecoder(os.Stdin).Decode(&payload); err != nil {
		return fmt.Errorf("gatekeeper: decode stdin: %w", err)
	}

	equity, err := compounding.CompoundEquity(payload.StartingEquity, payload.Returns, root.Gates.Log1pSwitchThreshold, root.Gates.CompoundingRFloorEps)
	if err != nil {
		return fmt.Errorf("gatekeeper: compound equity: %w", err)
	}
	drag, err := compounding.VarianceDrag(payload.Returns, tradesPerYear, root.Gates.VarianceDragCriticalFrac, targetReturnAnnual, root.Gates.Log1pSwitchThreshold, root.Gates.CompoundingRFloorEps)
	if err != nil {
		return fmt.Errorf("gatekeeper: variance drag: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Equity      float64                       `json:"equity"`
		VarianceDrag compounding.VarianceDragResult `json:"variance_drag"`
	}{Equity: equity, VarianceDrag: drag})
}

// runReplay reads back the audited decision log for post-hoc reconciliation
// against a backtest/WFO run over the same window: with no portfolio-id it
// lists blocked decisions across the book, otherwise one portfolio's full
// history.
func runReplay(cmd *cobra.Command, args []string) error {
	configureLogging(cmd)

	pgDSN, _ := cmd.Flags().GetString("postgres-dsn")
	if pgDSN == "" {
		return fmt.Errorf("gatekeeper: replay requires --postgres-dsn")
	}
	portfolioID, _ := cmd.Flags().GetInt64("portfolio-id")
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := sqlx.Connect("postgres", pgDSN)
	if err != nil {
		return fmt.Errorf("gatekeeper: postgres connect: %w", err)
	}
	defer db.Close()

	repo := postgres.NewDecisionsRepo(db, 10*time.Second)
	ctx := context.Background()
	window := persistence.TimeRange{From: time.Unix(0, 0), To: time.Now()}

	var records []persistence.DecisionRecord
	if portfolioID != 0 {
		records, err = repo.ListByPortfolio(ctx, portfolioID, window, limit)
	} else {
		records, err = repo.ListBlocked(ctx, window, limit)
	}
	if err != nil {
		return fmt.Errorf("gatekeeper: replay query: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
