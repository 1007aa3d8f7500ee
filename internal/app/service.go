// Package service implements the caller contract of the assessment pipeline:
// single and batch assessments, plus weight administration for the HTTP API
// and the CLI.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	model "github.com/okian/fusion/internal/domain/model"
	weights "github.com/okian/fusion/internal/domain/weights"
	"github.com/okian/fusion/pkg/logger"
	"github.com/okian/fusion/pkg/metrics"
)

// Default batch bounds.
const (
	DefaultBatchConcurrency = 32
	DefaultMaxBatch         = 500
)

// Fuser produces fused results. *fusion.Engine satisfies it.
type Fuser interface {
	Fuse(ctx context.Context, studentID string, skill model.Skill) (model.FusedResult, error)
}

// Explainer turns a fused result into an explanation. *reasoning.Generator satisfies it.
type Explainer interface {
	Generate(ctx context.Context, res model.FusedResult) model.Explanation
}

// StudentResult is one record of a batch: either an assessment or an error.
type StudentResult struct {
	StudentID  string
	Assessment *model.Assessment
	Err        error
}

// BatchResult holds per-student results in request order.
type BatchResult struct {
	ID      string
	Skill   model.Skill
	Results []StudentResult
}

// Service implements the API dependencies for the assessment pipeline.
type Service struct {
	mu sync.Mutex

	fuser     Fuser
	explainer Explainer
	weights   *weights.Store

	clock       clock.Clock
	newID       func() string
	concurrency int
	maxBatch    int
	log         logger.Logger

	// closers run on Stop, in reverse order.
	closers []func() error
	stopped bool

	requests    atomic.Int64
	batches     atomic.Int64
	noEvidence  atomic.Int64
	external    atomic.Int64
	fallback    atomic.Int64
	inputErrors atomic.Int64
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithClock sets the clock used for assessment timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator replaces the UUID generator for assessment and batch IDs.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) {
		if f != nil {
			s.newID = f
		}
	}
}

// WithBatchConcurrency bounds concurrent per-student pipelines in a batch.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxBatch caps the number of student IDs in one batch.
func WithMaxBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// New constructs a Service from already built components.
func New(f Fuser, e Explainer, ws *weights.Store, opts ...Option) *Service {
	s := &Service{
		fuser:       f,
		explainer:   e,
		weights:     ws,
		clock:       clock.NewClock(),
		newID:       func() string { return uuid.NewString() },
		concurrency: DefaultBatchConcurrency,
		maxBatch:    DefaultMaxBatch,
		log:         logger.Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestAssessment fuses evidence for one student and explains it.
// Malformed identifiers are rejected before any collector runs. A student
// with no evidence yields an assessment whose NoEvidence flag is set.
func (s *Service) RequestAssessment(ctx context.Context, studentID, skill string) (model.Assessment, error) {
	metrics.RecordRequest("assessment")
	sk, err := s.validate(studentID, skill)
	if err != nil {
		return model.Assessment{}, err
	}
	return s.assess(ctx, studentID, sk)
}

// RequestBatch assesses many students for one skill. Results follow the
// input order; duplicate IDs are assessed once. A failure for one student
// never fails the batch, only an invalid skill or batch size does.
func (s *Service) RequestBatch(ctx context.Context, studentIDs []string, skill string) (BatchResult, error) {
	metrics.RecordRequest("batch")
	sk, err := model.ParseSkill(skill)
	if err != nil {
		s.inputErrors.Add(1)
		metrics.RecordRequestFailure("invalid_input")
		return BatchResult{}, err
	}
	switch {
	case len(studentIDs) == 0:
		s.inputErrors.Add(1)
		metrics.RecordRequestFailure("invalid_input")
		return BatchResult{}, fmt.Errorf("%w: %w", ErrEmptyBatch, model.ErrInvalidInput)
	case len(studentIDs) > s.maxBatch:
		s.inputErrors.Add(1)
		metrics.RecordRequestFailure("invalid_input")
		return BatchResult{}, fmt.Errorf("%w: %d students, limit %d: %w", ErrBatchTooLarge, len(studentIDs), s.maxBatch, model.ErrInvalidInput)
	}
	s.batches.Add(1)
	metrics.RecordBatchSize(len(studentIDs))

	unique := make([]string, 0, len(studentIDs))
	index := make(map[string]int, len(studentIDs))
	for _, id := range studentIDs {
		if _, ok := index[id]; !ok {
			index[id] = len(unique)
			unique = append(unique, id)
		}
	}

	done := make([]StudentResult, len(unique))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range unique {
		g.Go(func() error {
			done[i] = StudentResult{StudentID: id}
			if err := model.ValidateStudentID(id); err != nil {
				s.inputErrors.Add(1)
				done[i].Err = err
				return nil
			}
			a, err := s.assess(ctx, id, sk)
			if err != nil {
				done[i].Err = err
				return nil
			}
			done[i].Assessment = &a
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{ID: s.newID(), Skill: sk, Results: make([]StudentResult, len(studentIDs))}
	for i, id := range studentIDs {
		r := done[index[id]]
		if r.Assessment != nil {
			cp := *r.Assessment
			r.Assessment = &cp
		}
		out.Results[i] = r
	}
	s.log.Info(ctx, "batch assessed",
		logger.String("batch", out.ID),
		logger.String("skill", string(sk)),
		logger.Int("students", len(studentIDs)),
		logger.Int("unique", len(unique)),
	)
	return out, nil
}

func (s *Service) validate(studentID, skill string) (model.Skill, error) {
	if err := model.ValidateStudentID(studentID); err != nil {
		s.inputErrors.Add(1)
		metrics.RecordRequestFailure("invalid_input")
		return "", err
	}
	sk, err := model.ParseSkill(skill)
	if err != nil {
		s.inputErrors.Add(1)
		metrics.RecordRequestFailure("invalid_input")
		return "", err
	}
	return sk, nil
}

func (s *Service) assess(ctx context.Context, studentID string, skill model.Skill) (model.Assessment, error) {
	s.requests.Add(1)
	res, err := s.fuser.Fuse(ctx, studentID, skill)
	if err != nil {
		metrics.RecordRequestFailure("canceled")
		return model.Assessment{}, err
	}
	expl := s.explainer.Generate(ctx, res)
	if res.NoEvidence {
		s.noEvidence.Add(1)
	}
	if expl.GeneratedBy == model.ProvenanceExternal {
		s.external.Add(1)
	} else {
		s.fallback.Add(1)
	}
	return model.Assessment{
		ID:          s.newID(),
		FusedResult: res,
		Explanation: expl,
		AssessedAt:  s.clock.Now(),
	}, nil
}

// Weights returns the snapshot for skill. An empty skill or "default"
// selects the global default mapping.
func (s *Service) Weights(skill string) (weights.Snapshot, error) {
	if isDefault(skill) {
		return s.weights.Default(), nil
	}
	sk, err := model.ParseSkill(skill)
	if err != nil {
		return weights.Snapshot{}, err
	}
	return s.weights.Get(sk), nil
}

// UpdateWeights validates and publishes a new mapping. Source names are
// parsed first; an unknown name is an input error and nothing changes.
func (s *Service) UpdateWeights(ctx context.Context, skill string, raw map[string]float64) (int64, error) {
	m := make(weights.Mapping, len(raw))
	for name, w := range raw {
		src, err := model.ParseSource(name)
		if err != nil {
			return 0, err
		}
		m[src] = w
	}
	if isDefault(skill) {
		return s.weights.SetDefault(ctx, m)
	}
	sk, err := model.ParseSkill(skill)
	if err != nil {
		return 0, err
	}
	return s.weights.Set(ctx, sk, m)
}

// ReloadWeights re-reads persisted weight documents.
func (s *Service) ReloadWeights(ctx context.Context) (int64, error) {
	return s.weights.Reload(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"requests":        s.requests.Load(),
		"batches":         s.batches.Load(),
		"noEvidence":      s.noEvidence.Load(),
		"external":        s.external.Load(),
		"fallback":        s.fallback.Load(),
		"inputErrors":     s.inputErrors.Load(),
		"weightsVersion":  s.weights.Version(),
		"overriddenSkill": len(s.weights.Skills()),
	}
}

// Stop releases resources acquired by FromConfig. It is safe to call twice.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn(context.Background(), "close failed", logger.Error(err))
		}
	}
	s.log.Info(context.Background(), "assessment service stopped")
}

func isDefault(skill string) bool {
	return skill == "" || skill == "default"
}
