package evidence

import (
	"context"
	"fmt"
	"math"
	"sort"

	model "github.com/okian/fusion/internal/domain/model"
)

// Aggregate collector defaults.
const (
	DefaultMaxAggregateItems = 3
	// relevanceSpan is the |z| at which an aggregate is fully relevant.
	relevanceSpan = 3.0
)

// AggregateCollector derives evidence from normalized feature aggregates
// for the linguistic and behavioral sources.
type AggregateCollector struct {
	source   model.Source
	data     AggregateSource
	maxItems int
}

// AggregateOption applies a configuration option to the AggregateCollector.
type AggregateOption func(*AggregateCollector)

// WithMaxAggregateItems caps the number of items returned.
func WithMaxAggregateItems(n int) AggregateOption {
	return func(c *AggregateCollector) {
		if n > 0 {
			c.maxItems = n
		}
	}
}

// NewAggregateCollector creates a collector for source.
func NewAggregateCollector(source model.Source, data AggregateSource, opts ...AggregateOption) (*AggregateCollector, error) {
	if source != model.SourceLinguistic && source != model.SourceBehavioral {
		return nil, fmt.Errorf("%w: aggregate collector for %s", model.ErrUnknownSource, source)
	}
	c := &AggregateCollector{source: source, data: data, maxItems: DefaultMaxAggregateItems}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Source implements Collector.
func (c *AggregateCollector) Source() model.Source { return c.source }

// Collect implements Collector.
func (c *AggregateCollector) Collect(ctx context.Context, req Request) ([]model.EvidenceItem, error) {
	aggs, err := c.data.Aggregates(ctx, req.StudentID, req.Skill, c.source)
	if err != nil {
		return nil, NewCollectorError(c.source, CauseFetch, err)
	}

	items := make([]model.EvidenceItem, 0, len(aggs))
	for _, a := range aggs {
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
			continue
		}
		ref, ok, err := c.data.Reference(ctx, req.Skill, c.source, a.Marker)
		if err != nil {
			return nil, NewCollectorError(c.source, CauseFetch, err)
		}
		if !ok {
			continue
		}
		score, relevance, ok := Normalize(a.Value, ref)
		if !ok {
			continue
		}
		items = append(items, model.EvidenceItem{
			Source:    c.source,
			Score:     score,
			Relevance: relevance,
			Content:   describeAggregate(a, score),
			Timestamp: a.ObservedAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Relevance != items[j].Relevance {
			return items[i].Relevance > items[j].Relevance
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	if len(items) > c.maxItems {
		items = items[:c.maxItems]
	}
	return items, nil
}

// Normalize maps a raw aggregate onto [0,1] against its reference population.
// With a positive standard deviation it uses the z-score and the standard
// normal CDF; otherwise it falls back to min-max scaling. Relevance is the
// size of the deviation from the population centre. ok is false when the
// reference cannot normalize anything.
func Normalize(value float64, ref Reference) (score, relevance float64, ok bool) {
	switch {
	case ref.StdDev > 0:
		z := (value - ref.Mean) / ref.StdDev
		if ref.Inverted {
			z = -z
		}
		score = 0.5 * (1 + math.Erf(z/math.Sqrt2))
		relevance = math.Min(math.Abs(z)/relevanceSpan, 1)
	case ref.Max > ref.Min:
		score = clamp01((value - ref.Min) / (ref.Max - ref.Min))
		if ref.Inverted {
			score = 1 - score
		}
		relevance = math.Abs(score-0.5) * 2
	default:
		return 0, 0, false
	}
	return clamp01(score), clamp01(relevance), true
}

func describeAggregate(a Aggregate, score float64) string {
	label := a.Label
	if label == "" {
		label = a.Marker
	}
	var position string
	switch {
	case score >= 0.6:
		position = "above the class typical range"
	case score <= 0.4:
		position = "still building toward the class typical range"
	default:
		position = "in line with classmates"
	}
	return fmt.Sprintf("%s at %.2f, %s", label, a.Value, position)
}
