// Package inference adapts the pretrained scoring model into a scored,
// confidence-rated inference for one feature vector.
package inference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	scoring "github.com/okian/fusion/internal/domain/scoring"
	"github.com/okian/fusion/pkg/metrics"
)

// Default adapter configuration constants.
const (
	DefaultMaxUncertainty = 0.25
	DefaultCacheSize      = 1024
	topFeatureCount       = 3
)

// ConfidenceWeights blend the three confidence signals.
type ConfidenceWeights struct {
	Agreement    float64
	Extremity    float64
	Completeness float64
}

// DefaultConfidenceWeights returns the 0.5/0.3/0.2 blend.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{Agreement: 0.5, Extremity: 0.3, Completeness: 0.2}
}

// Inference is the adapter output for one vector.
type Inference struct {
	Score        float64
	Confidence   float64
	Uncertainty  float64
	Completeness float64
	// TopFeatures are indexes into the input vector, most important first.
	TopFeatures []int
}

// Option applies a configuration option to the Adapter.
type Option func(*Adapter)

// WithMaxUncertainty sets the disagreement level treated as no agreement at all.
func WithMaxUncertainty(v float64) Option {
	return func(a *Adapter) {
		if v > 0 {
			a.maxUncertainty = v
		}
	}
}

// WithConfidenceWeights overrides the confidence blend.
func WithConfidenceWeights(w ConfidenceWeights) Option {
	return func(a *Adapter) { a.weights = w }
}

// WithCacheSize bounds the prediction cache. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(a *Adapter) { a.cacheSize = n }
}

// Adapter wraps a Predictor.
type Adapter struct {
	model          scoring.Predictor
	maxUncertainty float64
	weights        ConfidenceWeights
	cacheSize      int
	cache          *lru.Cache[string, scoring.Prediction]
}

// New creates an adapter around model.
func New(model scoring.Predictor, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		model:          model,
		maxUncertainty: DefaultMaxUncertainty,
		weights:        DefaultConfidenceWeights(),
		cacheSize:      DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.weights.Agreement < 0 || a.weights.Extremity < 0 || a.weights.Completeness < 0 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidConfidenceWeights, a.weights)
	}
	if a.cacheSize > 0 {
		c, err := lru.New[string, scoring.Prediction](a.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("prediction cache: %w", err)
		}
		a.cache = c
	}
	return a, nil
}

// FeatureCount returns the model's expected vector length.
func (a *Adapter) FeatureCount() int { return a.model.FeatureCount() }

// Infer scores a vector in which NaN marks a missing feature.
func (a *Adapter) Infer(ctx context.Context, features []float64) (Inference, error) {
	if len(features) != a.model.FeatureCount() {
		return Inference{}, fmt.Errorf("%w: got %d, want %d", scoring.ErrFeatureLength, len(features), a.model.FeatureCount())
	}

	pred, err := a.predict(ctx, features)
	if err != nil {
		return Inference{}, err
	}

	completeness := Completeness(features)
	return Inference{
		Score:        pred.Score,
		Uncertainty:  pred.Uncertainty,
		Completeness: completeness,
		Confidence:   a.Confidence(pred.Score, pred.Uncertainty, completeness),
		TopFeatures:  scoring.TopFeatures(pred.FeatureImportances, topFeatureCount),
	}, nil
}

func (a *Adapter) predict(ctx context.Context, features []float64) (scoring.Prediction, error) {
	if a.cache == nil {
		return a.model.Predict(ctx, features)
	}
	key := digest(features)
	if p, ok := a.cache.Get(key); ok {
		metrics.RecordPredictionCache("hit")
		return p, nil
	}
	metrics.RecordPredictionCache("miss")
	p, err := a.model.Predict(ctx, features)
	if err != nil {
		return scoring.Prediction{}, err
	}
	a.cache.Add(key, p)
	return p, nil
}

// Confidence blends agreement, extremity and completeness, clipped to [0,1].
func (a *Adapter) Confidence(score, uncertainty, completeness float64) float64 {
	agreement := 1 - math.Min(1, math.Max(0, uncertainty)/a.maxUncertainty)
	extremity := math.Min(1, math.Abs(score-0.5)/0.5)
	c := a.weights.Agreement*agreement + a.weights.Extremity*extremity + a.weights.Completeness*clamp01(completeness)
	return clamp01(c)
}

// Completeness is the share of finite values in the vector.
func Completeness(features []float64) float64 {
	if len(features) == 0 {
		return 0
	}
	var n int
	for _, v := range features {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			n++
		}
	}
	return float64(n) / float64(len(features))
}

func digest(features []float64) string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range features {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
