// Package scoring provides the pretrained predictive model consumed by the
// model evidence source.
package scoring

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Default model configuration constants.
const (
	defaultMembers    = 7
	defaultFeatures   = 12
	defaultRandomSeed = 42
	weightSpread      = 0.35
	memberJitter      = 0.15
)

// Option applies a configuration option to the Ensemble.
type Option func(*Ensemble)

// WithMembers sets the number of ensemble members.
func WithMembers(n int) Option {
	return func(e *Ensemble) {
		if n > 0 {
			e.members = n
		}
	}
}

// WithFeatureCount sets the expected feature-vector length.
func WithFeatureCount(n int) Option {
	return func(e *Ensemble) {
		if n > 0 {
			e.features = n
		}
	}
}

// WithSeed sets the seed the member parameters are derived from.
func WithSeed(seed int64) Option {
	return func(e *Ensemble) { e.seed = seed }
}

// WithLatencyRange simulates a remote model call.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(e *Ensemble) {
		if minLatency >= 0 && maxLatency > minLatency {
			e.minLatency = minLatency
			e.maxLatency = maxLatency
		}
	}
}

// Prediction is the output of one Predict call.
type Prediction struct {
	// Score is the mean member probability in [0,1].
	Score float64
	// Uncertainty is the standard deviation of member probabilities.
	Uncertainty float64
	// FeatureImportances sum to 1 unless every contribution is zero.
	FeatureImportances []float64
}

// Predictor scores a feature vector.
type Predictor interface {
	// Predict honours ctx for cancellation.
	Predict(ctx context.Context, features []float64) (Prediction, error)
	FeatureCount() int
}

type member struct {
	bias    float64
	weights []float64
}

// Ensemble is a bag of logistic members whose parameters are fixed at
// construction. Inputs are standardized features; NaN marks a missing value
// and is imputed with 0, the population mean.
type Ensemble struct {
	members    int
	features   int
	seed       int64
	minLatency time.Duration
	maxLatency time.Duration
	params     []member
	meanWeight []float64
}

// NewEnsemble builds the ensemble deterministically from its seed.
func NewEnsemble(opts ...Option) *Ensemble {
	e := &Ensemble{
		members:  defaultMembers,
		features: defaultFeatures,
		seed:     defaultRandomSeed,
	}
	for _, opt := range opts {
		opt(e)
	}

	rng := rand.New(rand.NewSource(e.seed)) //nolint:gosec // deterministic model parameters
	base := make([]float64, e.features)
	for i := range base {
		// Positive loadings: every feature is a marker of the competency.
		base[i] = 0.1 + rng.Float64()*weightSpread
	}
	e.params = make([]member, e.members)
	e.meanWeight = make([]float64, e.features)
	for m := range e.params {
		w := make([]float64, e.features)
		for i := range w {
			w[i] = base[i] + (rng.Float64()*2-1)*memberJitter
			e.meanWeight[i] += w[i] / float64(e.members)
		}
		e.params[m] = member{bias: (rng.Float64()*2 - 1) * memberJitter, weights: w}
	}
	return e
}

// FeatureCount returns the expected vector length.
func (e *Ensemble) FeatureCount() int { return e.features }

// Predict computes the ensemble prediction for a standardized feature vector.
func (e *Ensemble) Predict(ctx context.Context, features []float64) (Prediction, error) {
	if len(features) != e.features {
		return Prediction{}, fmt.Errorf("%w: got %d features, want %d", ErrFeatureLength, len(features), e.features)
	}
	if err := e.wait(ctx, features); err != nil {
		return Prediction{}, err
	}

	x := make([]float64, len(features))
	for i, v := range features {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			x[i] = v
		}
	}

	outs := make([]float64, len(e.params))
	var mean float64
	for m, p := range e.params {
		z := p.bias
		for i, w := range p.weights {
			z += w * x[i]
		}
		outs[m] = sigmoid(z)
		mean += outs[m]
	}
	mean /= float64(len(outs))

	var variance float64
	for _, o := range outs {
		variance += (o - mean) * (o - mean)
	}
	variance /= float64(len(outs))

	return Prediction{
		Score:              mean,
		Uncertainty:        math.Sqrt(variance),
		FeatureImportances: e.importances(x),
	}, nil
}

func (e *Ensemble) importances(x []float64) []float64 {
	out := make([]float64, len(x))
	var total float64
	for i, v := range x {
		out[i] = math.Abs(e.meanWeight[i] * v)
		total += out[i]
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// wait simulates remote latency. The delay is derived from the input so the
// same vector always waits the same time.
func (e *Ensemble) wait(ctx context.Context, features []float64) error {
	if e.maxLatency <= 0 {
		return ctx.Err()
	}
	var h uint64 = 1469598103934665603
	for _, v := range features {
		h ^= math.Float64bits(v)
		h *= 1099511628211
	}
	span := uint64(e.maxLatency - e.minLatency)
	latency := e.minLatency + time.Duration(h%span)

	t := time.NewTimer(latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// TopFeatures returns the indexes of the n largest importances, largest first.
func TopFeatures(importances []float64, n int) []int {
	idx := make([]int, len(importances))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return importances[idx[a]] > importances[idx[b]] })
	if n < len(idx) {
		idx = idx[:n]
	}
	return idx
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }
