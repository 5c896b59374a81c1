package corrmatrix

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache publishes a Publisher's latest Snapshot somewhere other
// consumers (other processes evaluating the same portfolio, or a dashboard)
// can read it without recomputing the shrinkage/PSD/stress/blend pipeline.
// Grounded on sawpanic-cryptorun's data/cache/cache.go Redis-or-memory
// adapter: a process with no REDIS_ADDR still runs, it just can't share
// snapshots across processes.
type SnapshotCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSnapshotCache wires a Redis client for cross-process snapshot sharing.
// A nil client makes every method a no-op, mirroring the teacher's in-memory
// fallback without needing a second implementation of the same interface.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{redis: client, ttl: ttl}
}

func cacheKey(portfolioID int64) string {
	return "gatekeeper:corrmatrix:" + itoa(portfolioID)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// wireSnapshot is Snapshot flattened to fields encoding/json can actually
// round-trip: Matrix.Data is a *mat.SymDense, whose fields are unexported,
// so the matrix itself travels as a row-major slice instead.
type wireSnapshot struct {
	CorrMatrixSnapshotID int64     `json:"corr_matrix_snapshot_id"`
	ComputedAtUnixMs     int64     `json:"computed_at_unix_ms"`
	ValidFromUnixMs      int64     `json:"valid_from_unix_ms"`
	MatrixAgeSec         float64   `json:"matrix_age_sec"`
	GammaS               float64   `json:"gamma_s"`
	SHA256               string    `json:"sha256"`
	MatrixN              int       `json:"matrix_n"`
	MatrixRows           []float64 `json:"matrix_rows"`
}

func toWire(snap Snapshot) wireSnapshot {
	n := snap.MatrixData.N
	rows := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			rows = append(rows, snap.MatrixData.At(i, j))
		}
	}
	return wireSnapshot{
		CorrMatrixSnapshotID: snap.CorrMatrixSnapshotID,
		ComputedAtUnixMs:     snap.ComputedAtUnixMs,
		ValidFromUnixMs:      snap.ValidFromUnixMs,
		MatrixAgeSec:         snap.MatrixAgeSec,
		GammaS:               snap.GammaS,
		SHA256:               snap.SHA256,
		MatrixN:              n,
		MatrixRows:           rows,
	}
}

func fromWire(w wireSnapshot) (Snapshot, error) {
	rows := make([][]float64, w.MatrixN)
	for i := 0; i < w.MatrixN; i++ {
		rows[i] = w.MatrixRows[i*w.MatrixN : (i+1)*w.MatrixN]
	}
	m, err := NewMatrixFromRows(rows)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		CorrMatrixSnapshotID: w.CorrMatrixSnapshotID,
		ComputedAtUnixMs:     w.ComputedAtUnixMs,
		ValidFromUnixMs:      w.ValidFromUnixMs,
		MatrixAgeSec:         w.MatrixAgeSec,
		GammaS:               w.GammaS,
		SHA256:               w.SHA256,
		MatrixData:           m,
	}, nil
}

// Store publishes snap for portfolioID. Errors are non-fatal: the matrix
// stays usable for the process that computed it, it just won't be visible
// to others until the next successful publish.
func (c *SnapshotCache) Store(ctx context.Context, portfolioID int64, snap Snapshot) error {
	if c == nil || c.redis == nil {
		return nil
	}
	payload, err := json.Marshal(toWire(snap))
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, cacheKey(portfolioID), payload, c.ttl).Err()
}

// Load reads back the latest shared Snapshot for portfolioID, if any.
func (c *SnapshotCache) Load(ctx context.Context, portfolioID int64) (Snapshot, bool) {
	if c == nil || c.redis == nil {
		return Snapshot{}, false
	}
	raw, err := c.redis.Get(ctx, cacheKey(portfolioID)).Bytes()
	if err != nil {
		return Snapshot{}, false
	}
	var w wireSnapshot
	if err := json.Unmarshal(raw, &w); err != nil {
		return Snapshot{}, false
	}
	snap, err := fromWire(w)
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}
