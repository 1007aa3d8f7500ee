// Package weights holds the validated, versioned per-skill source weights.
//
// Readers load an immutable table through an atomic pointer and never lock.
// Writers are serialized, build a complete replacement table, validate it and
// publish it with a single pointer swap, so a rejected update leaves the
// previous table in place.
package weights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"golang.org/x/sync/semaphore"

	model "github.com/okian/fusion/internal/domain/model"
	"github.com/okian/fusion/pkg/logger"
	"github.com/okian/fusion/pkg/metrics"
)

// SumTolerance is the allowed deviation of a mapping's sum from 1.0.
const SumTolerance = 1e-6

// Mapping assigns a weight to each evidence source.
type Mapping map[model.Source]float64

// Clone returns an independent copy.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Sum adds up every weight.
func (m Mapping) Sum() float64 {
	var s float64
	for _, src := range model.Sources() {
		s += m[src]
	}
	return s
}

// Validate checks that every key is a known source, every weight lies in
// [0,1] and the weights sum to 1 within SumTolerance.
func (m Mapping) Validate() error {
	if len(m) == 0 {
		return &ValidationError{Reason: "mapping is empty"}
	}
	keys := make([]string, 0, len(m))
	for src := range m {
		keys = append(keys, string(src))
	}
	sort.Strings(keys)
	for _, k := range keys {
		src := model.Source(k)
		w := m[src]
		if !src.Valid() {
			return &ValidationError{Source: src, Reason: "unknown source"}
		}
		if math.IsNaN(w) || w < 0 || w > 1 {
			return &ValidationError{Source: src, Reason: fmt.Sprintf("weight %v outside [0,1]", w)}
		}
	}
	if sum := m.Sum(); math.Abs(sum-1) > SumTolerance {
		return &ValidationError{Reason: fmt.Sprintf("weights sum to %.6f, want 1", sum)}
	}
	return nil
}

// Snapshot is an immutable view of one skill's weights.
type Snapshot struct {
	skill     model.Skill
	weights   Mapping
	version   int64
	updatedAt time.Time
	fallback  bool
}

// Skill returns the skill the snapshot was requested for.
func (s Snapshot) Skill() model.Skill { return s.skill }

// Weights returns a copy of the mapping.
func (s Snapshot) Weights() Mapping { return s.weights.Clone() }

// Weight returns the weight of one source, zero when absent.
func (s Snapshot) Weight(src model.Source) float64 { return s.weights[src] }

// Version is the store-wide version at which this mapping was accepted.
func (s Snapshot) Version() int64 { return s.version }

// UpdatedAt is the acceptance timestamp.
func (s Snapshot) UpdatedAt() time.Time { return s.updatedAt }

// IsDefault reports whether the skill had no mapping of its own.
func (s Snapshot) IsDefault() bool { return s.fallback }

type entry struct {
	weights   Mapping
	version   int64
	updatedAt time.Time
}

// table is never mutated once published.
type table struct {
	version  int64
	fallback entry
	skills   map[model.Skill]entry
}

// Record is the persisted form of one accepted mapping. An empty Skill
// denotes the global default.
type Record struct {
	Skill     model.Skill
	Weights   Mapping
	Version   int64
	UpdatedAt time.Time
}

// Persister stores accepted mappings. Load returns the latest record per skill.
type Persister interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, rec Record) error
}

// Store is the weight configuration store.
type Store struct {
	current   atomic.Pointer[table]
	writer    *semaphore.Weighted
	clock     clock.Clock
	persister Persister
	log       logger.Logger
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock sets the time source for version timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPersister attaches a document store that receives every accepted update
// and is the source for Reload.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithSkill seeds a per-skill mapping.
func WithSkill(skill model.Skill, m Mapping) Option {
	return func(s *Store) {
		t := s.current.Load()
		t.skills[skill] = entry{weights: m.Clone()}
	}
}

// New creates a store whose default mapping is def. Seeds are validated
// before the store is returned.
func New(def Mapping, opts ...Option) (*Store, error) {
	s := &Store{
		writer: semaphore.NewWeighted(1),
		clock:  clock.NewClock(),
		log:    logger.Named("weights"),
	}
	s.current.Store(&table{fallback: entry{weights: def.Clone()}, skills: map[model.Skill]entry{}})
	for _, opt := range opts {
		opt(s)
	}

	seed := s.current.Load()
	if err := seed.fallback.weights.Validate(); err != nil {
		return nil, fmt.Errorf("default weights: %w", err)
	}
	now := s.clock.Now()
	seed.version = 1
	seed.fallback.version, seed.fallback.updatedAt = 1, now
	for skill, e := range seed.skills {
		if !skill.Valid() {
			return nil, fmt.Errorf("seed %q: %w", skill, model.ErrUnknownSkill)
		}
		if err := e.weights.Validate(); err != nil {
			return nil, fmt.Errorf("seed %s: %w", skill, err)
		}
		seed.skills[skill] = entry{weights: e.weights, version: 1, updatedAt: now}
	}
	metrics.UpdateWeightVersion(seed.version)
	return s, nil
}

// Get returns the snapshot for skill, falling back to the default mapping.
func (s *Store) Get(skill model.Skill) Snapshot {
	t := s.current.Load()
	if e, ok := t.skills[skill]; ok {
		return Snapshot{skill: skill, weights: e.weights, version: e.version, updatedAt: e.updatedAt}
	}
	return Snapshot{skill: skill, weights: t.fallback.weights, version: t.fallback.version, updatedAt: t.fallback.updatedAt, fallback: true}
}

// Default returns the global default snapshot.
func (s *Store) Default() Snapshot {
	t := s.current.Load()
	return Snapshot{weights: t.fallback.weights, version: t.fallback.version, updatedAt: t.fallback.updatedAt, fallback: true}
}

// Version returns the store-wide version counter.
func (s *Store) Version() int64 { return s.current.Load().version }

// Skills lists the skills that have their own mapping.
func (s *Store) Skills() []model.Skill {
	t := s.current.Load()
	out := make([]model.Skill, 0, len(t.skills))
	for _, k := range model.Skills() {
		if _, ok := t.skills[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Set validates and publishes a mapping for skill and returns its version.
func (s *Store) Set(ctx context.Context, skill model.Skill, m Mapping) (int64, error) {
	if !skill.Valid() {
		return 0, &model.InputError{Field: "skill", Value: string(skill), Err: model.ErrUnknownSkill}
	}
	return s.write(ctx, skill, m)
}

// SetDefault validates and publishes the global default mapping.
func (s *Store) SetDefault(ctx context.Context, m Mapping) (int64, error) {
	return s.write(ctx, "", m)
}

func (s *Store) write(ctx context.Context, skill model.Skill, m Mapping) (int64, error) {
	if err := m.Validate(); err != nil {
		metrics.RecordWeightUpdate("rejected")
		s.log.Warn(ctx, "weight update rejected", logger.String("skill", string(skill)), logger.Error(err))
		return 0, err
	}
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("acquire weight writer: %w", err)
	}
	defer s.writer.Release(1)

	prev := s.current.Load()
	next := prev.clone()
	next.version = prev.version + 1
	e := entry{weights: m.Clone(), version: next.version, updatedAt: s.clock.Now()}
	if skill == "" {
		next.fallback = e
	} else {
		next.skills[skill] = e
	}

	if s.persister != nil {
		rec := Record{Skill: skill, Weights: e.weights.Clone(), Version: e.version, UpdatedAt: e.updatedAt}
		if err := s.persister.Save(ctx, rec); err != nil {
			metrics.RecordWeightUpdate("persist_failed")
			return 0, fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}

	s.current.Store(next)
	metrics.RecordWeightUpdate("accepted")
	metrics.UpdateWeightVersion(next.version)
	s.log.Info(ctx, "weights updated",
		logger.String("skill", string(skill)),
		logger.Int64("version", next.version),
	)
	return next.version, nil
}

// Reload replaces persisted mappings in one swap. Every record is validated
// first; any invalid record rejects the whole reload.
func (s *Store) Reload(ctx context.Context) (int64, error) {
	if s.persister == nil {
		return 0, ErrNoPersister
	}
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("acquire weight writer: %w", err)
	}
	defer s.writer.Release(1)

	recs, err := s.persister.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	prev := s.current.Load()
	next := prev.clone()
	maxVersion := prev.version
	for _, rec := range recs {
		if rec.Skill != "" && !rec.Skill.Valid() {
			metrics.RecordWeightUpdate("rejected")
			return 0, fmt.Errorf("reload %q: %w", rec.Skill, model.ErrUnknownSkill)
		}
		if err := rec.Weights.Validate(); err != nil {
			metrics.RecordWeightUpdate("rejected")
			return 0, fmt.Errorf("reload %s: %w", rec.Skill, err)
		}
		e := entry{weights: rec.Weights.Clone(), version: rec.Version, updatedAt: rec.UpdatedAt}
		if rec.Skill == "" {
			next.fallback = e
		} else {
			next.skills[rec.Skill] = e
		}
		if rec.Version > maxVersion {
			maxVersion = rec.Version
		}
	}
	next.version = maxVersion + 1

	s.current.Store(next)
	metrics.RecordWeightUpdate("reloaded")
	metrics.UpdateWeightVersion(next.version)
	s.log.Info(ctx, "weights reloaded", logger.Int("records", len(recs)), logger.Int64("version", next.version))
	return next.version, nil
}

func (t *table) clone() *table {
	out := &table{version: t.version, fallback: t.fallback, skills: make(map[model.Skill]entry, len(t.skills)+1)}
	for k, v := range t.skills {
		out.skills[k] = v
	}
	return out
}
