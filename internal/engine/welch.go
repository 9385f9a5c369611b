package engine

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// WelchResult is the outcome of a two-sample unequal-variance t-test.
type WelchResult struct {
	MeanA  float64
	MeanB  float64
	T      float64
	DF     float64
	PValue float64
}

// WelchTTest compares a and b without assuming equal variances and returns the
// two-sided p-value. Both samples need at least two observations. When both
// samples have zero variance the p-value is 1 for equal means and 0 otherwise.
func WelchTTest(a, b []float64) WelchResult {
	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)
	res := WelchResult{MeanA: meanA, MeanB: meanB}

	na, nb := float64(len(a)), float64(len(b))
	qa, qb := varA/na, varB/nb
	se := math.Sqrt(qa + qb)
	if se == 0 || math.IsNaN(se) {
		if meanA == meanB {
			res.PValue = 1
		}
		return res
	}

	res.T = (meanA - meanB) / se
	res.DF = (qa + qb) * (qa + qb) / (qa*qa/(na-1) + qb*qb/(nb-1))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: res.DF}
	res.PValue = math.Min(1, 2*dist.Survival(math.Abs(res.T)))
	return res
}
