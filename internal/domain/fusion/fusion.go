// Package fusion gathers evidence from every configured source concurrently
// and combines it into one weighted, confidence-rated score.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	evidence "github.com/okian/fusion/internal/domain/evidence"
	model "github.com/okian/fusion/internal/domain/model"
	weights "github.com/okian/fusion/internal/domain/weights"
	"github.com/okian/fusion/pkg/logger"
	"github.com/okian/fusion/pkg/metrics"
)

// DefaultCollectTimeout bounds the whole fan-out.
const DefaultCollectTimeout = 2 * time.Second

// WeightSource provides weight snapshots. *weights.Store satisfies it.
type WeightSource interface {
	Get(skill model.Skill) weights.Snapshot
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithCollectTimeout sets the overall collection timeout.
func WithCollectTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithOptions sets the combination options.
func WithOptions(o Options) Option {
	return func(e *Engine) { e.opts = o }
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine is the fusion engine.
type Engine struct {
	weights    WeightSource
	collectors map[model.Source]evidence.Collector
	timeout    time.Duration
	opts       Options
	log        logger.Logger
}

// New creates an engine. Registering two collectors for one source is an error.
func New(ws WeightSource, collectors []evidence.Collector, opts ...Option) (*Engine, error) {
	e := &Engine{
		weights:    ws,
		collectors: make(map[model.Source]evidence.Collector, len(collectors)),
		timeout:    DefaultCollectTimeout,
		opts:       DefaultOptions(),
		log:        logger.Named("fusion"),
	}
	for _, c := range collectors {
		if _, dup := e.collectors[c.Source()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCollector, c.Source())
		}
		e.collectors[c.Source()] = c
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Fuse collects and combines evidence for one student and skill. Collector
// failures and timeouts only degrade their own source. The only error is the
// caller's context ending before fusion completed.
func (e *Engine) Fuse(ctx context.Context, studentID string, skill model.Skill) (model.FusedResult, error) {
	start := time.Now()
	snap := e.weights.Get(skill)

	var active []evidence.Collector
	for _, src := range model.Sources() {
		if c, ok := e.collectors[src]; ok && snap.Weight(src) > 0 {
			active = append(active, c)
		}
	}

	outcomes, err := e.collect(ctx, evidence.Request{StudentID: studentID, Skill: skill}, active)
	if err != nil {
		return model.FusedResult{}, err
	}

	res := Combine(studentID, snap, outcomes, e.opts)
	latency := time.Since(start)
	metrics.RecordFusionLatency(float64(latency.Milliseconds()))
	if res.NoEvidence {
		metrics.RecordNoEvidence()
	} else {
		metrics.RecordFusedConfidence(res.Confidence)
	}
	e.log.Debug(ctx, "fused",
		logger.String("student_id", studentID),
		logger.String("skill", string(skill)),
		logger.Float64("score", res.Score),
		logger.Float64("confidence", res.Confidence),
		logger.Bool("no_evidence", res.NoEvidence),
		logger.Int("sources", len(res.SourceBreakdown)),
		logger.Duration("latency", latency),
	)
	return res, nil
}

func (e *Engine) collect(ctx context.Context, req evidence.Request, active []evidence.Collector) ([]Outcome, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Buffered so late collectors never block after we stop listening.
	ch := make(chan Outcome, len(active))
	for _, c := range active {
		go run(cctx, c, req, ch)
	}

	got := make(map[model.Source]Outcome, len(active))
wait:
	for len(got) < len(active) {
		select {
		case o := <-ch:
			got[o.Source] = o
		case <-cctx.Done():
			break wait
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fuse %s/%s: %w", req.StudentID, req.Skill, err)
	}

	outcomes := make([]Outcome, 0, len(active))
	for _, c := range active {
		src := c.Source()
		o, ok := got[src]
		if !ok {
			o = Outcome{Source: src, Err: evidence.NewCollectorError(src, evidence.CauseTimeout, cctx.Err())}
		}
		if o.Err != nil {
			e.degrade(ctx, req, o.Err)
			o.Items = nil
		} else {
			metrics.RecordEvidenceItems(string(src), len(o.Items))
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

func run(ctx context.Context, c evidence.Collector, req evidence.Request, ch chan<- Outcome) {
	src := c.Source()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			ch <- Outcome{Source: src, Err: evidence.NewCollectorError(src, evidence.CausePanic, fmt.Errorf("%v", r))}
		}
	}()

	items, err := c.Collect(ctx, req)
	metrics.RecordCollectorLatency(string(src), float64(time.Since(start).Milliseconds()))
	if err != nil {
		var ce *evidence.CollectorError
		if !errors.As(err, &ce) {
			cause := evidence.CauseFetch
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				cause = evidence.CauseTimeout
			case errors.Is(err, context.Canceled):
				cause = evidence.CauseCanceled
			}
			err = evidence.NewCollectorError(src, cause, err)
		}
		ch <- Outcome{Source: src, Err: err}
		return
	}
	ch <- Outcome{Source: src, Items: validItems(src, items)}
}

// validItems drops items attributed to another source or carrying a score
// outside [0,1].
func validItems(src model.Source, items []model.EvidenceItem) []model.EvidenceItem {
	out := items[:0:0]
	for _, it := range items {
		if it.Source != src || it.Score < 0 || it.Score > 1 || math.IsNaN(it.Score) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (e *Engine) degrade(ctx context.Context, req evidence.Request, err error) {
	cause := evidence.CauseFetch
	var src model.Source
	var ce *evidence.CollectorError
	if errors.As(err, &ce) {
		cause, src = ce.Cause, ce.Source
	}
	metrics.RecordCollectorFailure(string(src), cause)
	e.log.Warn(ctx, "evidence source degraded",
		logger.String("source", string(src)),
		logger.String("cause", cause),
		logger.String("student_id", req.StudentID),
		logger.String("skill", string(req.Skill)),
		logger.Error(err),
	)
}
