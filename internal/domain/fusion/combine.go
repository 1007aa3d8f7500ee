package fusion

import (
	"math"
	"sort"

	model "github.com/okian/fusion/internal/domain/model"
	weights "github.com/okian/fusion/internal/domain/weights"
)

// Default combination constants.
const (
	DefaultTopK            = 5
	DefaultSingleSourceCap = 0.5
	DefaultCoverageWeight  = 0.5
	DefaultAgreementWeight = 0.5
	// maxDisagreement is the source-score standard deviation at which
	// agreement contributes nothing. It is the largest σ possible on [0,1].
	maxDisagreement = 0.5
)

// Options tune how outcomes are combined.
type Options struct {
	TopK            int
	SingleSourceCap float64
	CoverageWeight  float64
	AgreementWeight float64
}

// DefaultOptions returns the default combination options.
func DefaultOptions() Options {
	return Options{
		TopK:            DefaultTopK,
		SingleSourceCap: DefaultSingleSourceCap,
		CoverageWeight:  DefaultCoverageWeight,
		AgreementWeight: DefaultAgreementWeight,
	}
}

// Outcome is one collector's result. Items are ignored when Err is set.
type Outcome struct {
	Source model.Source
	Items  []model.EvidenceItem
	Err    error
}

// Combine fuses collector outcomes under a weight snapshot. It depends only on
// its arguments. A source is configured when it has an outcome and a
// positive weight; it contributes when it is configured, succeeded and
// produced at least one item.
func Combine(studentID string, snap weights.Snapshot, outcomes []Outcome, opts Options) model.FusedResult {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	res := model.FusedResult{
		StudentID:       studentID,
		Skill:           snap.Skill(),
		WeightsVersion:  snap.Version(),
		SourceBreakdown: map[model.Source]float64{},
		AppliedWeights:  map[model.Source]float64{},
	}

	var configured int
	var retained float64
	var pool []model.EvidenceItem
	seen := make(map[model.Source]bool, len(outcomes))
	for _, o := range outcomes {
		w := snap.Weight(o.Source)
		if seen[o.Source] || w <= 0 {
			continue
		}
		seen[o.Source] = true
		configured++
		if o.Err != nil || len(o.Items) == 0 {
			continue
		}
		var sum float64
		for _, it := range o.Items {
			sum += it.Score
		}
		res.SourceBreakdown[o.Source] = sum / float64(len(o.Items))
		res.AppliedWeights[o.Source] = w
		retained += w
		pool = append(pool, o.Items...)
	}

	if len(res.SourceBreakdown) == 0 || retained <= 0 {
		res.NoEvidence = true
		res.SourceBreakdown = map[model.Source]float64{}
		res.AppliedWeights = map[model.Source]float64{}
		res.Evidence = []model.EvidenceItem{}
		return res
	}

	// Sum in enumeration order so the result never depends on map order.
	contributing := res.Contributing()
	scores := make([]float64, 0, len(contributing))
	for _, src := range contributing {
		w := res.AppliedWeights[src] / retained
		res.AppliedWeights[src] = w
		res.Score += w * res.SourceBreakdown[src]
		scores = append(scores, res.SourceBreakdown[src])
	}
	res.Score = clamp01(res.Score)
	res.Confidence = Confidence(len(contributing), configured, scores, opts)
	res.Evidence = TopEvidence(pool, opts.TopK)
	return res
}

// Confidence combines source coverage with agreement between source scores.
// Fewer than two contributing sources caps it at opts.SingleSourceCap; a
// cap outside (0,1] means the default.
func Confidence(contributing, configured int, scores []float64, opts Options) float64 {
	if contributing == 0 || configured == 0 {
		return 0
	}
	if opts.SingleSourceCap <= 0 || opts.SingleSourceCap > 1 {
		opts.SingleSourceCap = DefaultSingleSourceCap
	}
	coverage := math.Min(1, float64(contributing)/float64(configured))
	agreement := 1 - math.Min(1, stddev(scores)/maxDisagreement)
	c := clamp01(opts.CoverageWeight*coverage + opts.AgreementWeight*agreement)
	if contributing < 2 && c > opts.SingleSourceCap {
		c = opts.SingleSourceCap
	}
	return c
}

// TopEvidence orders items by relevance, then recency, then source name,
// then content, and returns at most k of them.
func TopEvidence(items []model.EvidenceItem, k int) []model.EvidenceItem {
	out := make([]model.EvidenceItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Content < b.Content
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return math.Sqrt(v / float64(len(xs)))
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
