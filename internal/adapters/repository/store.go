// Package repository holds storage adapters: the SQLite weight document store
// and the in-memory evidence data store.
package repository

import (
	"context"
	"math"
	"sync"

	evidence "github.com/okian/fusion/internal/domain/evidence"
	model "github.com/okian/fusion/internal/domain/model"
)

type studentKey struct {
	student string
	skill   model.Skill
}

type sourceKey struct {
	student string
	skill   model.Skill
	source  model.Source
}

type referenceKey struct {
	skill  model.Skill
	source model.Source
	marker string
}

// MemoryEvidence is an in-memory FeatureStore, AggregateSource and RatingSource.
type MemoryEvidence struct {
	mu           sync.RWMutex
	featureNames []string
	features     map[studentKey]evidence.FeatureVector
	aggregates   map[sourceKey][]evidence.Aggregate
	references   map[referenceKey]evidence.Reference
	ratings      map[sourceKey][]evidence.Rating
}

var (
	_ evidence.FeatureStore    = (*MemoryEvidence)(nil)
	_ evidence.AggregateSource = (*MemoryEvidence)(nil)
	_ evidence.RatingSource    = (*MemoryEvidence)(nil)
)

// NewMemoryEvidence creates an empty store.
func NewMemoryEvidence(opts ...Option) *MemoryEvidence {
	s := &MemoryEvidence{
		features:   make(map[studentKey]evidence.FeatureVector),
		aggregates: make(map[sourceKey][]evidence.Aggregate),
		references: make(map[referenceKey]evidence.Reference),
		ratings:    make(map[sourceKey][]evidence.Rating),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutFeatures stores a feature vector.
func (s *MemoryEvidence) PutFeatures(student string, skill model.Skill, fv evidence.FeatureVector) {
	fv.Values = append([]float64(nil), fv.Values...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.features[studentKey{student, skill}] = fv
}

// AddAggregates appends aggregates for one source.
func (s *MemoryEvidence) AddAggregates(student string, skill model.Skill, source model.Source, aggs ...evidence.Aggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sourceKey{student, skill, source}
	s.aggregates[k] = append(s.aggregates[k], aggs...)
}

// PutReference stores a population reference for one marker.
func (s *MemoryEvidence) PutReference(skill model.Skill, source model.Source, marker string, ref evidence.Reference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.references[referenceKey{skill, source, marker}] = ref
}

// AddRatings appends ratings for one source.
func (s *MemoryEvidence) AddRatings(student string, skill model.Skill, source model.Source, ratings ...evidence.Rating) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sourceKey{student, skill, source}
	s.ratings[k] = append(s.ratings[k], ratings...)
}

// Students lists every student with any stored data.
func (s *MemoryEvidence) Students() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for k := range s.features {
		add(k.student)
	}
	for k := range s.aggregates {
		add(k.student)
	}
	for k := range s.ratings {
		add(k.student)
	}
	return out
}

// Features implements evidence.FeatureStore. Unknown students get an empty vector.
func (s *MemoryEvidence) Features(ctx context.Context, student string, skill model.Skill) (evidence.FeatureVector, error) {
	if err := ctx.Err(); err != nil {
		return evidence.FeatureVector{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fv, ok := s.features[studentKey{student, skill}]
	if !ok {
		return evidence.FeatureVector{}, nil
	}
	out := evidence.FeatureVector{ObservedAt: fv.ObservedAt, Names: fv.Names}
	if n := len(s.featureNames); n > 0 {
		out.Names = s.featureNames
		out.Values = make([]float64, n)
		for i := range out.Values {
			out.Values[i] = math.NaN()
			if i < len(fv.Values) {
				out.Values[i] = fv.Values[i]
			}
		}
	} else {
		out.Values = append([]float64(nil), fv.Values...)
	}
	return out, nil
}

// Aggregates implements evidence.AggregateSource.
func (s *MemoryEvidence) Aggregates(ctx context.Context, student string, skill model.Skill, source model.Source) ([]evidence.Aggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]evidence.Aggregate(nil), s.aggregates[sourceKey{student, skill, source}]...), nil
}

// Reference implements evidence.AggregateSource.
func (s *MemoryEvidence) Reference(ctx context.Context, skill model.Skill, source model.Source, marker string) (evidence.Reference, bool, error) {
	if err := ctx.Err(); err != nil {
		return evidence.Reference{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.references[referenceKey{skill, source, marker}]
	return ref, ok, nil
}

// Ratings implements evidence.RatingSource.
func (s *MemoryEvidence) Ratings(ctx context.Context, student string, skill model.Skill, source model.Source) ([]evidence.Rating, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]evidence.Rating(nil), s.ratings[sourceKey{student, skill, source}]...), nil
}

// FeatureNames returns the configured feature names, if any.
func (s *MemoryEvidence) FeatureNames() []string {
	return append([]string(nil), s.featureNames...)
}
