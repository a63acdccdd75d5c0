// SPDX-License-Identifier: Apache-2.0

// Package embedding maps text to fixed-length, L2-normalized vectors. The
// provider is injected by the caller; nothing here holds a process-wide model.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Embedder generates embeddings.
type Embedder interface {
	// Embed returns an L2-normalized vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Func adapts a function to the Embedder interface. Its output is normalized.
type Func func(ctx context.Context, text string) ([]float32, error)

func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f(ctx, text)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

func (f Func) Name() string { return "func" }

// Normalize scales v to unit length in place and returns it. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
	return v
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
