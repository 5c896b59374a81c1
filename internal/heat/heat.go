// Package heat implements the portfolio heat algebra of spec.md §4.9:
// H(x) = sqrt(max(R^T C R, 0)), the candidate-admission quadratic solver, and
// soft/hard heat-limit enforcement with forced-hedge capping. Grounded on
// sawpanic-cryptorun's internal/score/portfolio sector-concentration check
// (a single scalar constraint against PortfolioState), generalized here to
// the full quadratic-form risk norm over the correlation matrix.
package heat

import (
	"math"

	"github.com/sawpanic/gatekeeper/internal/corrmatrix"
	"github.com/sawpanic/gatekeeper/internal/numerics"
)

// Norm computes H(R) = sqrt(max(R^T C R, 0)) for a signed-risk vector R
// against correlation matrix C.
func Norm(r []float64, c corrmatrix.Matrix) float64 {
	return math.Sqrt(math.Max(quadForm(r, c), 0))
}

// UniAbs computes the collapse-scenario heat H_uni_abs = sum(|R_i|).
func UniAbs(r []float64) float64 {
	var sum float64
	for _, v := range r {
		sum += math.Abs(v)
	}
	return sum
}

func quadForm(v []float64, m corrmatrix.Matrix) float64 {
	n := len(v)
	var sum float64
	for i := 0; i < n; i++ {
		var rowSum float64
		for j := 0; j < n; j++ {
			rowSum += m.At(i, j) * v[j]
		}
		sum += v[i] * rowSum
	}
	return sum
}

// WorstForLimits returns heat_worst_for_limits = max(H(C_psd), H(C_blend), H_uni_abs).
func WorstForLimits(r []float64, psd, blend corrmatrix.Matrix) float64 {
	return math.Max(Norm(r, psd), math.Max(Norm(r, blend), UniAbs(r)))
}

// SelectMatrix picks C_psd when tail reliability is below the blend-min
// threshold, else C_blend, per spec.md §4.9.
func SelectMatrix(tailReliabilityScore, heatBlendMinReliability float64, psd, blend corrmatrix.Matrix) corrmatrix.Matrix {
	if tailReliabilityScore < heatBlendMinReliability {
		return psd
	}
	return blend
}

// CandidateAdmission solves for the maximum signed risk x admissible on
// instrument index j with sign s, given existing signed-risk vector r and
// correlation matrix c, against heat ceiling hMax, per spec.md §4.9's
// quadratic solve.
type CandidateAdmission struct {
	XMax         float64
	Disc         float64
	UsedIterativeHalving bool
	Rejected     bool
}

// Solve implements the disc = b^2 + hMax^2 - c quadratic, with the
// near-zero-b shortcut and iterative halving fallback.
func Solve(r []float64, c corrmatrix.Matrix, j int, s float64, hMax, discFloorEps, lotStepQty float64) CandidateAdmission {
	cVal := quadForm(r, c)
	u := colDot(c, r, j)
	b := s * u

	if math.Abs(b) < 1e-12 {
		xMax := math.Sqrt(math.Max(hMax*hMax-cVal, 0))
		return CandidateAdmission{XMax: xMax}
	}

	disc := b*b + hMax*hMax - cVal
	if disc > discFloorEps {
		xMax := math.Max(0, -b+math.Sqrt(math.Max(disc, 0)))
		return CandidateAdmission{XMax: xMax, Disc: disc}
	}

	if cVal < hMax*hMax {
		xTry := math.Abs(b)
		for xTry >= lotStepQty {
			xTry /= 2
			trial := append(append([]float64{}, r...))
			if j < len(trial) {
				trial[j] += s * xTry
			}
			if quadForm(trial, c) <= hMax*hMax {
				return CandidateAdmission{XMax: xTry, UsedIterativeHalving: true}
			}
		}
	}
	return CandidateAdmission{Rejected: true}
}

// Slope returns b = s*(C R)_j, the signed-risk quadratic's linear
// coefficient for instrument index j, used to decide forced-hedge
// eligibility above H_hard.
func Slope(c corrmatrix.Matrix, r []float64, j int, s float64) float64 {
	return s * colDot(c, r, j)
}

func colDot(c corrmatrix.Matrix, r []float64, j int) float64 {
	var sum float64
	for i := 0; i < len(r); i++ {
		sum += c.At(i, j) * r[i]
	}
	return sum
}

// Limits bundles soft/hard heat thresholds derived from the portfolio cap.
type Limits struct {
	HMax     float64
	HSoft    float64
	AboveHardReduceByBps float64
}

// NewLimits computes H_soft = heat_soft_frac * H_max.
func NewLimits(hMax, heatSoftFrac float64) Limits {
	return Limits{HMax: hMax, HSoft: heatSoftFrac * hMax}
}

// HedgeCap computes x_hedge_cap = min(hedgeOptMult*max(0,-b), hedgeAbsCapPct, remainingCluster, remainingPortfolio).
func HedgeCap(b, hedgeOptMult, hedgeAbsCapPct, remainingCluster, remainingPortfolio float64) float64 {
	v := hedgeOptMult * math.Max(0, -b)
	v = math.Min(v, hedgeAbsCapPct)
	v = math.Min(v, remainingCluster)
	v = math.Min(v, remainingPortfolio)
	return v
}

// AboveHardAllowed reports whether a candidate trade with signed-risk slope b
// is permitted above H_hard: only trades that reduce heat (b<0) by at least
// heatMinReductionBps qualify.
func AboveHardAllowed(b, currentHeat, candidateHeat, heatMinReductionBps float64) bool {
	if b >= 0 {
		return false
	}
	reductionBps := 10000 * (currentHeat - candidateHeat)
	return reductionBps >= heatMinReductionBps
}

// AssertUnitDiagonal checks |C_ii - 1| < diagEps, per spec.md §4.9's
// required invariant on every heat computation.
func AssertUnitDiagonal(c corrmatrix.Matrix, diagEps float64) bool {
	for i := 0; i < c.N; i++ {
		if !numerics.IsCloseTol(c.At(i, i), 1, numerics.Tolerance{RTol: 0, ATol: diagEps}) {
			return false
		}
	}
	return true
}

// RemainingHeatLimits returns the final remaining_heat_limits: the minimum
// across the three candidate-admission solves (C_psd, C_blend, uniform-abs).
func RemainingHeatLimits(xPSD, xBlend, xUniAbs float64) float64 {
	return math.Min(xPSD, math.Min(xBlend, xUniAbs))
}
