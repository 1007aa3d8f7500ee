package repository

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	evidence "github.com/okian/fusion/internal/domain/evidence"
	model "github.com/okian/fusion/internal/domain/model"
)

// Seed is the YAML document loaded into MemoryEvidence.
type Seed struct {
	FeatureNames []string        `koanf:"feature_names"`
	References   []ReferenceSeed `koanf:"references"`
	Students     []StudentSeed   `koanf:"students"`
}

// ReferenceSeed is one marker's population distribution.
type ReferenceSeed struct {
	Skill    string  `koanf:"skill"`
	Source   string  `koanf:"source"`
	Marker   string  `koanf:"marker"`
	Mean     float64 `koanf:"mean"`
	StdDev   float64 `koanf:"std_dev"`
	Min      float64 `koanf:"min"`
	Max      float64 `koanf:"max"`
	Inverted bool    `koanf:"inverted"`
}

// StudentSeed holds one student's data keyed by skill.
type StudentSeed struct {
	ID     string               `koanf:"id"`
	Skills map[string]SkillSeed `koanf:"skills"`
}

// SkillSeed holds the data for one student and skill. Aggregates and ratings
// are keyed by source name.
type SkillSeed struct {
	Features   []float64                  `koanf:"features"`
	ObservedAt time.Time                  `koanf:"observed_at"`
	Aggregates map[string][]AggregateSeed `koanf:"aggregates"`
	Ratings    map[string][]RatingSeed    `koanf:"ratings"`
}

// AggregateSeed is one aggregate value.
type AggregateSeed struct {
	Marker     string    `koanf:"marker"`
	Label      string    `koanf:"label"`
	Value      float64   `koanf:"value"`
	ObservedAt time.Time `koanf:"observed_at"`
}

// RatingSeed is one rating.
type RatingSeed struct {
	Value    float64   `koanf:"value"`
	ScaleMin float64   `koanf:"scale_min"`
	ScaleMax float64   `koanf:"scale_max"`
	Rater    string    `koanf:"rater"`
	Comment  string    `koanf:"comment"`
	RatedAt  time.Time `koanf:"rated_at"`
}

// ReadSeed parses a YAML seed file.
func ReadSeed(path string) (*Seed, error) {
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSeed, path, err)
	}
	var seed Seed
	if err := k.UnmarshalWithConf("", &seed, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSeed, path, err)
	}
	return &seed, nil
}

// LoadSeed reads path and returns a populated store.
func LoadSeed(path string, opts ...Option) (*MemoryEvidence, error) {
	seed, err := ReadSeed(path)
	if err != nil {
		return nil, err
	}
	if len(seed.FeatureNames) > 0 {
		opts = append([]Option{WithFeatureNames(seed.FeatureNames)}, opts...)
	}
	s := NewMemoryEvidence(opts...)
	if err := s.Apply(seed); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply validates seed and adds its contents to the store.
func (s *MemoryEvidence) Apply(seed *Seed) error {
	for _, r := range seed.References {
		skill, source, err := parsePair(r.Skill, r.Source)
		if err != nil {
			return fmt.Errorf("%w: reference %s: %w", ErrInvalidSeed, r.Marker, err)
		}
		s.PutReference(skill, source, r.Marker, evidence.Reference{
			Mean: r.Mean, StdDev: r.StdDev, Min: r.Min, Max: r.Max, Inverted: r.Inverted,
		})
	}

	for _, st := range seed.Students {
		if err := model.ValidateStudentID(st.ID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSeed, err)
		}
		for rawSkill, sk := range st.Skills {
			skill, err := model.ParseSkill(rawSkill)
			if err != nil {
				return fmt.Errorf("%w: student %s: %w", ErrInvalidSeed, st.ID, err)
			}
			if len(sk.Features) > 0 {
				s.PutFeatures(st.ID, skill, evidence.FeatureVector{Values: sk.Features, ObservedAt: sk.ObservedAt})
			}
			for rawSource, aggs := range sk.Aggregates {
				source, err := model.ParseSource(rawSource)
				if err != nil {
					return fmt.Errorf("%w: student %s: %w", ErrInvalidSeed, st.ID, err)
				}
				for _, a := range aggs {
					s.AddAggregates(st.ID, skill, source, evidence.Aggregate{
						Marker: a.Marker, Label: a.Label, Value: a.Value, ObservedAt: a.ObservedAt,
					})
				}
			}
			for rawSource, ratings := range sk.Ratings {
				source, err := model.ParseSource(rawSource)
				if err != nil {
					return fmt.Errorf("%w: student %s: %w", ErrInvalidSeed, st.ID, err)
				}
				for _, r := range ratings {
					s.AddRatings(st.ID, skill, source, evidence.Rating{
						Value: r.Value, ScaleMin: r.ScaleMin, ScaleMax: r.ScaleMax,
						Rater: r.Rater, Comment: r.Comment, RatedAt: r.RatedAt,
					})
				}
			}
		}
	}
	return nil
}

func parsePair(rawSkill, rawSource string) (model.Skill, model.Source, error) {
	skill, err := model.ParseSkill(rawSkill)
	if err != nil {
		return "", "", err
	}
	source, err := model.ParseSource(rawSource)
	if err != nil {
		return "", "", err
	}
	return skill, source, nil
}
