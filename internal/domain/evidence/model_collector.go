package evidence

import (
	"context"
	"fmt"
	"strings"

	inference "github.com/okian/fusion/internal/domain/inference"
	model "github.com/okian/fusion/internal/domain/model"
)

// Inferer scores a feature vector. *inference.Adapter satisfies it.
type Inferer interface {
	Infer(ctx context.Context, features []float64) (inference.Inference, error)
}

// ModelCollector produces exactly one item whose score is the model output
// and whose relevance is the model's confidence.
type ModelCollector struct {
	features FeatureStore
	model    Inferer
}

// NewModelCollector creates the model-source collector.
func NewModelCollector(features FeatureStore, m Inferer) *ModelCollector {
	return &ModelCollector{features: features, model: m}
}

// Source implements Collector.
func (c *ModelCollector) Source() model.Source { return model.SourceModel }

// Collect implements Collector.
func (c *ModelCollector) Collect(ctx context.Context, req Request) ([]model.EvidenceItem, error) {
	fv, err := c.features.Features(ctx, req.StudentID, req.Skill)
	if err != nil {
		return nil, NewCollectorError(model.SourceModel, CauseFetch, err)
	}
	if len(fv.Values) == 0 {
		return nil, nil
	}
	if inference.Completeness(fv.Values) == 0 {
		// Nothing observed; a prediction would only restate the prior.
		return nil, nil
	}

	inf, err := c.model.Infer(ctx, fv.Values)
	if err != nil {
		return nil, NewCollectorError(model.SourceModel, CauseInference, err)
	}

	return []model.EvidenceItem{{
		Source:    model.SourceModel,
		Score:     clamp01(inf.Score),
		Relevance: clamp01(inf.Confidence),
		Content:   describeInference(inf, fv.Names),
		Timestamp: fv.ObservedAt,
	}}, nil
}

func describeInference(inf inference.Inference, names []string) string {
	var top []string
	for _, i := range inf.TopFeatures {
		if i < len(names) && names[i] != "" {
			top = append(top, strings.ReplaceAll(names[i], "_", " "))
		}
	}
	s := fmt.Sprintf("Model estimate %.2f from %.0f%% of expected signals", inf.Score, inf.Completeness*100)
	if len(top) > 0 {
		s += ", led by " + strings.Join(top, ", ")
	}
	return s
}
