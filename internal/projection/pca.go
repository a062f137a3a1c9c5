// Package projection implements the 2D projection model: a two-component
// PCA fit on a sample of embedding vectors. Fitting happens only during
// an explicit retrain; applying a fitted model is pure and cheap.
package projection

import (
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MinSampleSize is the smallest sample a PCA can be fit on.
const MinSampleSize = 3

// PCA is a fitted two-component principal component analysis.
// Projection of a vector v is (v - Mean) dotted with each component.
type PCA struct {
	// Mean is the per-dimension mean of the training sample
	Mean []float64 `json:"mean"`

	// Components are the top-2 principal axes, unit length, in input space
	Components [2][]float64 `json:"components"`
}

// Fit computes a two-component PCA from a sample of embedding vectors.
// All vectors must share the same dimension, which must be at least 2.
func Fit(sample [][]float32) (*PCA, error) {
	if len(sample) < MinSampleSize {
		return nil, fmt.Errorf("need at least %d sample vectors, got %d", MinSampleSize, len(sample))
	}

	dim := len(sample[0])
	if dim < 2 {
		return nil, fmt.Errorf("embedding dimension must be at least 2, got %d", dim)
	}
	for i, v := range sample {
		if len(v) != dim {
			return nil, fmt.Errorf("sample vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	// Mean-center the sample.
	mean := make([]float64, dim)
	for _, v := range sample {
		for j, x := range v {
			mean[j] += float64(x)
		}
	}
	for j := range mean {
		mean[j] /= float64(len(sample))
	}

	centered := mat.NewDense(len(sample), dim, nil)
	for i, v := range sample {
		for j, x := range v {
			centered.Set(i, j, float64(x)-mean[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("svd factorization failed")
	}

	var v mat.Dense
	svd.VTo(&v)

	p := &PCA{Mean: mean}
	for c := 0; c < 2; c++ {
		axis := make([]float64, dim)
		mat.Col(axis, c, &v)
		p.Components[c] = axis
	}
	return p, nil
}

// Dim returns the input dimension the model was fit on.
func (p *PCA) Dim() int {
	return len(p.Mean)
}

// Project maps an embedding vector to 2D coordinates.
// The vector's dimension must match the fitted dimension.
func (p *PCA) Project(v []float32) (x, y float64, err error) {
	if len(v) != p.Dim() {
		return 0, 0, fmt.Errorf("vector dimension %d does not match model dimension %d", len(v), p.Dim())
	}
	for j, e := range v {
		centered := float64(e) - p.Mean[j]
		x += centered * p.Components[0][j]
		y += centered * p.Components[1][j]
	}
	return x, y, nil
}

// Marshal serializes the fitted model parameters.
func (p *PCA) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal decodes serialized model parameters.
func Unmarshal(params []byte) (*PCA, error) {
	var p PCA
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode pca params: %w", err)
	}
	if len(p.Mean) == 0 || len(p.Components[0]) != len(p.Mean) || len(p.Components[1]) != len(p.Mean) {
		return nil, fmt.Errorf("pca params are inconsistent")
	}
	return &p, nil
}
