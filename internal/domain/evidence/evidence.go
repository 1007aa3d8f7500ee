// Package evidence implements the per-source evidence collectors.
//
// Every collector turns data from an external collaborator into
// EvidenceItems for one (student, skill) pair. Collectors report failures as
// a *CollectorError; deciding what a failure means for the fused result is
// left to the fusion engine.
package evidence

import (
	"context"
	"math"
	"time"

	model "github.com/okian/fusion/internal/domain/model"
)

// Request identifies what to collect.
type Request struct {
	StudentID string
	Skill     model.Skill
}

// Collector gathers evidence from one source.
type Collector interface {
	Source() model.Source
	Collect(ctx context.Context, req Request) ([]model.EvidenceItem, error)
}

// FeatureVector is a model input assembled by the feature store.
// NaN marks a missing feature.
type FeatureVector struct {
	Values     []float64
	Names      []string
	ObservedAt time.Time
}

// FeatureStore supplies model inputs.
type FeatureStore interface {
	Features(ctx context.Context, studentID string, skill model.Skill) (FeatureVector, error)
}

// Aggregate is one normalized-feature aggregate for a student, such as a
// keyword-marker density in written work.
type Aggregate struct {
	Marker     string
	Label      string
	Value      float64
	ObservedAt time.Time
}

// Reference describes the population distribution of one marker.
type Reference struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	// Inverted markers indicate the competency when low.
	Inverted bool
}

// AggregateSource supplies aggregates and their population references.
type AggregateSource interface {
	Aggregates(ctx context.Context, studentID string, skill model.Skill, source model.Source) ([]Aggregate, error)
	Reference(ctx context.Context, skill model.Skill, source model.Source, marker string) (Reference, bool, error)
}

// Rating is one externally supplied discrete rating.
type Rating struct {
	Value    float64
	ScaleMin float64
	ScaleMax float64
	Rater    string
	Comment  string
	RatedAt  time.Time
}

// RatingSource supplies teacher and peer ratings.
type RatingSource interface {
	Ratings(ctx context.Context, studentID string, skill model.Skill, source model.Source) ([]Rating, error)
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
