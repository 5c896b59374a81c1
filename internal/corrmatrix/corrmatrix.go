// Package corrmatrix implements the correlation-matrix algebra of spec.md
// §4.4: shrinkage, PSD projection (Higham with an eigenvalue-clip fallback),
// diagonal normalization, stress transforms, and the γ-blend publisher.
// Eigendecomposition is delegated to gonum's symmetric eigensolver, grounded
// on the trading-system manifests in _examples/other_examples (aristath's
// and abdoElHodaky's go.mod both vendor gonum.org/v1/gonum for exactly this
// kind of linear-algebra workload).
package corrmatrix

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/gatekeeper/internal/numerics"
)

// Defaults mirror spec.md §6.
const (
	DefaultPSDEigFloor  = 1e-6
	DefaultPSDDiagFloor = 1e-6
	DefaultDiagEps      = 1e-4
)

// Matrix wraps a dense symmetric correlation matrix with its dimension.
type Matrix struct {
	N    int
	Data *mat.SymDense
}

// NewMatrixFromRows builds a Matrix from a row-major slice of slices,
// symmetrizing immediately (average of (i,j) and (j,i)).
func NewMatrixFromRows(rows [][]float64) (Matrix, error) {
	n := len(rows)
	for _, row := range rows {
		if len(row) != n {
			return Matrix{}, fmt.Errorf("corrmatrix: non-square input")
		}
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (rows[i][j] + rows[j][i]) / 2
			sym.SetSym(i, j, v)
		}
	}
	return Matrix{N: n, Data: sym}, nil
}

// At returns element (i,j).
func (m Matrix) At(i, j int) float64 { return m.Data.At(i, j) }

// Shrink applies linear shrinkage toward the identity: C' = (1-alpha)*C + alpha*I.
func Shrink(m Matrix, alpha float64) Matrix {
	n := m.N
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			target := 0.0
			if i == j {
				target = 1.0
			}
			v := (1-alpha)*m.At(i, j) + alpha*target
			out.SetSym(i, j, v)
		}
	}
	return Matrix{N: n, Data: out}
}

// Symmetrize copies the upper triangle (j >= i) of m into a fresh
// mat.SymDense; it does not average (i,j) with (j,i). Since mat.SymDense is
// already symmetric by construction, the result equals the input.
func Symmetrize(m Matrix) Matrix {
	n := m.N
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, m.At(i, j))
		}
	}
	return Matrix{N: n, Data: out}
}

// ClipDiagonal clips diagonal entries up to floor, per spec.md §4.4's
// "diagonal clip to psd_diag_floor" step.
func ClipDiagonal(m Matrix, floor float64) Matrix {
	n := m.N
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := m.At(i, j)
			if i == j && v < floor {
				v = floor
			}
			out.SetSym(i, j, v)
		}
	}
	return Matrix{N: n, Data: out}
}

// NormalizeUnitDiagonal rescales C -> D^{-1/2} C D^{-1/2} so every diagonal
// entry becomes 1, per spec.md §4.4.
func NormalizeUnitDiagonal(m Matrix) Matrix {
	n := m.N
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = 1 / math.Sqrt(numerics.DenomSafeUnsigned(m.At(i, i), 1e-12))
	}
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, m.At(i, j)*d[i]*d[j])
		}
	}
	return Matrix{N: n, Data: out}
}

// EigFloorClip clips every eigenvalue below floor up to floor and
// reconstructs the matrix: C = V * diag(max(lambda,floor)) * V^T. It is the
// only PSD projection step ProjectPSD applies; the returned values are the
// eigenvalues before clipping.
func EigFloorClip(m Matrix, floor float64) (Matrix, []float64) {
	var eig mat.EigenSym
	ok := eig.Factorize(m.Data, true)
	n := m.N
	if !ok {
		// Degenerate input: fall back to identity, which is trivially PSD.
		out := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			out.SetSym(i, i, 1)
		}
		return Matrix{N: n, Data: out}, make([]float64, n)
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	clipped := make([]float64, n)
	for i, v := range values {
		if v < floor {
			v = floor
		}
		clipped[i] = v
	}

	diag := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		diag.Set(i, i, clipped[i])
	}

	var tmp mat.Dense
	tmp.Mul(&vecs, diag)
	var recon mat.Dense
	recon.Mul(&tmp, vecs.T())

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (recon.At(i, j)+recon.At(j, i))/2)
		}
	}
	return Matrix{N: n, Data: out}, values
}

// ProjectPSDResult reports the outcome of ProjectPSD.
type ProjectPSDResult struct {
	Matrix      Matrix
	UsedFallback bool
	MinEigenvalueBefore float64
}

// ProjectPSD takes an already-shrunk matrix and repeats eigenvalue floor clip
// -> symmetrize -> diagonal clip -> unit-diagonal normalize up to maxIters
// times. It stops once every diagonal entry is within diagEps of 1 and the
// pass's pre-clip minimum eigenvalue is >= -1e-9; UsedFallback is true when
// the first pass did not meet that test. No Higham alternating projection is
// performed.
func ProjectPSD(m Matrix, maxIters int, eigFloor, diagFloor, diagEps float64) ProjectPSDResult {
	// Probe the minimum eigenvalue once up front for diagnostics/regularization.
	_, values := EigFloorClip(m, math.Inf(-1))
	minEig := math.Inf(1)
	for _, v := range values {
		if v < minEig {
			minEig = v
		}
	}

	cur := m
	usedFallback := false
	for iter := 0; iter < maxIters; iter++ {
		clipped, vals := EigFloorClip(cur, eigFloor)
		cur = Symmetrize(clipped)
		cur = ClipDiagonal(cur, diagFloor)
		cur = NormalizeUnitDiagonal(cur)

		allDiagOK := true
		for i := 0; i < cur.N; i++ {
			if math.Abs(cur.At(i, i)-1) >= diagEps {
				allDiagOK = false
				break
			}
		}
		minVal := math.Inf(1)
		for _, v := range vals {
			if v < minVal {
				minVal = v
			}
		}
		if allDiagOK && minVal >= -1e-9 {
			return ProjectPSDResult{Matrix: cur, UsedFallback: usedFallback, MinEigenvalueBefore: minEig}
		}
		usedFallback = true
	}
	return ProjectPSDResult{Matrix: cur, UsedFallback: true, MinEigenvalueBefore: minEig}
}

// RegularizeIfNeeded applies C := (1-eps)*C + eps*I when the minimum
// eigenvalue falls below corr_min_eigenvalue_floor, per spec.md §4.4.
func RegularizeIfNeeded(m Matrix, minEigenvalue, floor, eps float64) Matrix {
	if minEigenvalue >= floor {
		return m
	}
	return Shrink(m, eps)
}

// StressMode selects the pairwise stress transform applied per spec.md §4.4.
type StressMode string

const (
	StressBreakHedges StressMode = "BREAK_HEDGES"
	StressPreserveSign StressMode = "PRESERVE_SIGN"
	StressAsymmetric  StressMode = "ASYMMETRIC" // default
)

// DefaultStressCorrDelta is spec.md §6's stress_corr_delta default.
const DefaultStressCorrDelta = 0.50

// StressTransform nudges every off-diagonal pair toward the configured
// stress regime: BREAK_HEDGES pushes all pairs toward +1 (correlations
// collapse under stress); PRESERVE_SIGN pushes |corr| up without flipping
// sign; ASYMMETRIC (the default) pushes negative correlations toward zero
// (hedges weaken) while pushing positive correlations toward 1 (co-movement
// strengthens) — the conservative, asymmetric crisis assumption.
func StressTransform(m Matrix, mode StressMode, delta float64) Matrix {
	n := m.N
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := m.At(i, j)
			if i != j {
				switch mode {
				case StressBreakHedges:
					v = v + delta*(1-v)
				case StressPreserveSign:
					if v >= 0 {
						v = v + delta*(1-v)
					} else {
						v = v - delta*(1+v)
					}
				case StressAsymmetric:
					if v < 0 {
						v = v * (1 - delta)
					} else {
						v = v + delta*(1-v)
					}
				default:
					panic(fmt.Sprintf("corrmatrix: unhandled stress mode %q", mode))
				}
				v = numerics.Clip(v, -1, 1)
			}
			out.SetSym(i, j, v)
		}
	}
	return Matrix{N: n, Data: out}
}

// BlendGamma computes C_blend = (1-gamma)*C_psd + gamma*C_stress, per
// spec.md §4.4.
func BlendGamma(psd, stress Matrix, gamma float64) Matrix {
	n := psd.N
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (1-gamma)*psd.At(i, j) + gamma*stress.At(i, j)
			out.SetSym(i, j, v)
		}
	}
	return Matrix{N: n, Data: out}
}

// SmoothGamma applies an EMA to gamma_s given the previous smoothed value and
// a smoothing factor alpha in (0,1].
func SmoothGamma(prevSmoothed, raw, alpha float64) float64 {
	return (1-alpha)*prevSmoothed + alpha*raw
}

// SHA256Hex hashes the upper triangle (row-major, inclusive of diagonal) of a
// matrix for the publisher's integrity field.
func SHA256Hex(m Matrix) string {
	h := sha256.New()
	buf := make([]byte, 8)
	for i := 0; i < m.N; i++ {
		for j := i; j < m.N; j++ {
			bits := math.Float64bits(m.At(i, j))
			for k := 0; k < 8; k++ {
				buf[k] = byte(bits >> (8 * k))
			}
			h.Write(buf)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Snapshot is the correlation-matrix stream record of spec.md §6.
type Snapshot struct {
	CorrMatrixSnapshotID int64
	ComputedAtUnixMs     int64
	ValidFromUnixMs      int64
	MatrixAgeSec         float64
	GammaS               float64
	SHA256               string
	MatrixData           Matrix
}

// IsUsable reports whether a snapshot may be consulted by the gate chain:
// now >= valid_from and matrix_age_sec <= corr_matrix_max_age_sec, per
// spec.md §4.4.
func (s Snapshot) IsUsable(nowUnixMs int64, maxAgeSec float64) bool {
	return nowUnixMs >= s.ValidFromUnixMs && s.MatrixAgeSec <= maxAgeSec
}

// Publisher runs the shrinkage -> PSD -> stress -> blend pipeline off the hot
// path and emits immutable Snapshot values, per spec.md §4.4. It holds no
// mutable shared matrix; each publication is a fresh copy-on-write value, per
// spec.md §5 "correlation matrix cache — copy-on-write snapshots keyed by id."
type Publisher struct {
	nextID         int64
	gammaSmoothed  float64
	shrinkageAlpha float64
	stressMode     StressMode
	stressDelta    float64
	gammaAlpha     float64
	eigFloor       float64
	diagFloor      float64
	diagEps        float64
	maxIters       int
}

// NewPublisher creates a correlation-matrix publisher with the given tunables.
func NewPublisher(shrinkageAlpha float64, stressMode StressMode, stressDelta, gammaAlpha, eigFloor, diagFloor, diagEps float64, maxIters int) *Publisher {
	return &Publisher{
		shrinkageAlpha: shrinkageAlpha,
		stressMode:     stressMode,
		stressDelta:    stressDelta,
		gammaAlpha:     gammaAlpha,
		eigFloor:       eigFloor,
		diagFloor:      diagFloor,
		diagEps:        diagEps,
		maxIters:       maxIters,
	}
}

// Publish runs the full pipeline over a raw correlation matrix and a raw
// target gamma, returning the new Snapshot and the PSD-only matrix (needed
// separately by the heat algebra in spec.md §4.9 when tail reliability is low).
func (p *Publisher) Publish(raw Matrix, rawGamma float64, nowUnixMs, validFromUnixMs int64) (snap Snapshot, psdOnly Matrix) {
	shrunk := Shrink(raw, p.shrinkageAlpha)
	projected := ProjectPSD(shrunk, p.maxIters, p.eigFloor, p.diagFloor, p.diagEps)
	psd := projected.Matrix

	stressed := StressTransform(psd, p.stressMode, p.stressDelta)
	stressedProjected := ProjectPSD(stressed, p.maxIters, p.eigFloor, p.diagFloor, p.diagEps)

	p.gammaSmoothed = SmoothGamma(p.gammaSmoothed, rawGamma, p.gammaAlpha)
	blended := BlendGamma(psd, stressedProjected.Matrix, p.gammaSmoothed)

	p.nextID++
	snap = Snapshot{
		CorrMatrixSnapshotID: p.nextID,
		ComputedAtUnixMs:     nowUnixMs,
		ValidFromUnixMs:      validFromUnixMs,
		MatrixAgeSec:         0,
		GammaS:               p.gammaSmoothed,
		SHA256:               SHA256Hex(blended),
		MatrixData:           blended,
	}
	return snap, psd
}
