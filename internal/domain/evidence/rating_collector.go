package evidence

import (
	"context"
	"fmt"
	"math"
	"sort"

	model "github.com/okian/fusion/internal/domain/model"
)

// Rating collector defaults.
const (
	DefaultHumanRatingCap  = 5
	DefaultPeerRatingCap   = 10
	DefaultHumanRelevance  = 0.8
	DefaultPeerRelevance   = 0.6
	relevanceDecayPerRank  = 0.1
	minimumRatingRelevance = 0.1
)

// RatingCollector passes through teacher or peer ratings, normalized to
// [0,1] and capped to the most recent ratings.
type RatingCollector struct {
	source        model.Source
	data          RatingSource
	limit         int
	baseRelevance float64
}

// RatingOption applies a configuration option to the RatingCollector.
type RatingOption func(*RatingCollector)

// WithRatingCap keeps only the n most recent ratings.
func WithRatingCap(n int) RatingOption {
	return func(c *RatingCollector) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithBaseRelevance sets the relevance of the most recent rating.
func WithBaseRelevance(v float64) RatingOption {
	return func(c *RatingCollector) {
		if v > 0 && v <= 1 {
			c.baseRelevance = v
		}
	}
}

// NewRatingCollector creates a collector for the human_rating or peer_feedback source.
func NewRatingCollector(source model.Source, data RatingSource, opts ...RatingOption) (*RatingCollector, error) {
	c := &RatingCollector{source: source, data: data}
	switch source {
	case model.SourceHumanRating:
		c.limit, c.baseRelevance = DefaultHumanRatingCap, DefaultHumanRelevance
	case model.SourcePeerFeedback:
		c.limit, c.baseRelevance = DefaultPeerRatingCap, DefaultPeerRelevance
	default:
		return nil, fmt.Errorf("%w: rating collector for %s", model.ErrUnknownSource, source)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Source implements Collector.
func (c *RatingCollector) Source() model.Source { return c.source }

// Collect implements Collector.
func (c *RatingCollector) Collect(ctx context.Context, req Request) ([]model.EvidenceItem, error) {
	ratings, err := c.data.Ratings(ctx, req.StudentID, req.Skill, c.source)
	if err != nil {
		return nil, NewCollectorError(c.source, CauseFetch, err)
	}

	valid := make([]Rating, 0, len(ratings))
	for _, r := range ratings {
		if usable(r) {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 && len(ratings) > 0 {
		return nil, NewCollectorError(c.source, CauseInvalidData, fmt.Errorf("%w: %d ratings without a usable value or scale", ErrInvalidData, len(ratings)))
	}

	sort.SliceStable(valid, func(i, j int) bool { return valid[i].RatedAt.After(valid[j].RatedAt) })
	if len(valid) > c.limit {
		valid = valid[:c.limit]
	}

	items := make([]model.EvidenceItem, 0, len(valid))
	for i, r := range valid {
		score := clamp01((r.Value - r.ScaleMin) / (r.ScaleMax - r.ScaleMin))
		relevance := c.baseRelevance * (1 - relevanceDecayPerRank*float64(i))
		if relevance < minimumRatingRelevance {
			relevance = minimumRatingRelevance
		}
		items = append(items, model.EvidenceItem{
			Source:    c.source,
			Score:     score,
			Relevance: relevance,
			Content:   c.describe(r),
			Timestamp: r.RatedAt,
		})
	}
	return items, nil
}

// usable reports whether r has a finite value on a finite, non-empty scale.
func usable(r Rating) bool {
	for _, v := range []float64{r.Value, r.ScaleMin, r.ScaleMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.ScaleMax > r.ScaleMin
}

func (c *RatingCollector) describe(r Rating) string {
	if r.Comment != "" {
		return r.Comment
	}
	who := "a peer"
	if c.source == model.SourceHumanRating {
		who = "a teacher"
	}
	if r.Rater != "" {
		who = r.Rater
	}
	return fmt.Sprintf("Rated %g on a %g-%g scale by %s", r.Value, r.ScaleMin, r.ScaleMax, who)
}
