package ml

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LinearRegression is an ordinary least squares fit with intercept.
type LinearRegression struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// FitOLS fits y ~ X by least squares. Columns are centered first and the
// centered system is solved with the minimum-norm SVD solution, so
// collinear or constant features get weights instead of an error.
func FitOLS(features [][]float64, labels []float64) (*LinearRegression, error) {
	if len(features) == 0 || len(labels) == 0 {
		return nil, errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return nil, errors.New("features and labels size mismatch")
	}
	n, p := len(features), len(features[0])
	if p == 0 {
		return nil, errors.New("no feature columns")
	}

	xMeans := make([]float64, p)
	column := make([]float64, n)
	for j := 0; j < p; j++ {
		for i, row := range features {
			if len(row) != p {
				return nil, errors.New("ragged feature matrix")
			}
			column[i] = row[j]
		}
		xMeans[j] = stat.Mean(column, nil)
	}
	yMean := stat.Mean(labels, nil)

	x := mat.NewDense(n, p, nil)
	y := mat.NewDense(n, 1, nil)
	for i, row := range features {
		for j, v := range row {
			x.Set(i, j, v-xMeans[j])
		}
		y.Set(i, 0, labels[i]-yMean)
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, errors.New("svd factorization failed")
	}
	rcond := float64(max(n, p)) * 2.220446049250313e-16
	weights := make([]float64, p)
	if rank := svd.Rank(rcond); rank > 0 {
		var beta mat.Dense
		svd.SolveTo(&beta, y, rank)
		for j := range weights {
			weights[j] = beta.At(j, 0)
		}
	}

	intercept := yMean
	for j, w := range weights {
		intercept -= w * xMeans[j]
	}
	return &LinearRegression{Weights: weights, Intercept: intercept}, nil
}

// Predict evaluates the fitted line for one row.
func (lr *LinearRegression) Predict(x []float64) float64 {
	y := lr.Intercept
	for j, w := range lr.Weights {
		if j < len(x) {
			y += w * x[j]
		}
	}
	return y
}

// R2 is the coefficient of determination on the given rows. A constant
// target scores 1 when it is reproduced exactly and 0 otherwise.
func (lr *LinearRegression) R2(features [][]float64, labels []float64) float64 {
	estimates := make([]float64, len(labels))
	for i, row := range features {
		estimates[i] = lr.Predict(row)
	}
	r2 := stat.RSquaredFrom(estimates, labels, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		for i := range labels {
			if math.Abs(estimates[i]-labels[i]) > 1e-9 {
				return 0
			}
		}
		return 1
	}
	return r2
}
