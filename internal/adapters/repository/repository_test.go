package repository_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/fusion/internal/adapters/repository"
	evidence "github.com/okian/fusion/internal/domain/evidence"
	model "github.com/okian/fusion/internal/domain/model"
	weights "github.com/okian/fusion/internal/domain/weights"
)

func TestMemoryEvidence(t *testing.T) {
	Convey("Given an in-memory evidence store", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryEvidence(repository.WithFeatureNames([]string{"a", "b", "c"}))
		at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

		Convey("Features are padded to the named length", func() {
			s.PutFeatures("s1", model.SkillEmpathy, evidence.FeatureVector{Values: []float64{0.2, 0.4}, ObservedAt: at})
			fv, err := s.Features(ctx, "s1", model.SkillEmpathy)
			So(err, ShouldBeNil)
			So(fv.Names, ShouldResemble, []string{"a", "b", "c"})
			So(len(fv.Values), ShouldEqual, 3)
			So(fv.Values[1], ShouldEqual, 0.4)
			So(math.IsNaN(fv.Values[2]), ShouldBeTrue)
			So(fv.ObservedAt, ShouldEqual, at)
		})

		Convey("Unknown students get an empty vector", func() {
			fv, err := s.Features(ctx, "nobody", model.SkillEmpathy)
			So(err, ShouldBeNil)
			So(fv.Values, ShouldBeEmpty)
		})

		Convey("Aggregates, references and ratings are scoped by source", func() {
			s.AddAggregates("s1", model.SkillResilience, model.SourceBehavioral,
				evidence.Aggregate{Marker: "retries", Value: 4, ObservedAt: at})
			s.PutReference(model.SkillResilience, model.SourceBehavioral, "retries", evidence.Reference{Mean: 2, StdDev: 1})
			s.AddRatings("s1", model.SkillResilience, model.SourceHumanRating,
				evidence.Rating{Value: 4, ScaleMin: 1, ScaleMax: 5})

			aggs, err := s.Aggregates(ctx, "s1", model.SkillResilience, model.SourceBehavioral)
			So(err, ShouldBeNil)
			So(len(aggs), ShouldEqual, 1)

			aggs, err = s.Aggregates(ctx, "s1", model.SkillResilience, model.SourceLinguistic)
			So(err, ShouldBeNil)
			So(aggs, ShouldBeEmpty)

			ref, ok, err := s.Reference(ctx, model.SkillResilience, model.SourceBehavioral, "retries")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(ref.Mean, ShouldEqual, 2.0)

			_, ok, err = s.Reference(ctx, model.SkillResilience, model.SourceBehavioral, "other")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			ratings, err := s.Ratings(ctx, "s1", model.SkillResilience, model.SourceHumanRating)
			So(err, ShouldBeNil)
			So(len(ratings), ShouldEqual, 1)

			So(s.Students(), ShouldResemble, []string{"s1"})
		})

		Convey("Cancelled contexts are reported", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := s.Features(cctx, "s1", model.SkillEmpathy)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			_, err = s.Ratings(cctx, "s1", model.SkillEmpathy, model.SourcePeerFeedback)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

const seedYAML = `
feature_names: [attendance, completion, revisions]
references:
  - skill: problem_solving
    source: linguistic
    marker: hypothesis_terms
    mean: 0.1
    std_dev: 0.05
students:
  - id: stu-001
    skills:
      problem_solving:
        features: [0.9, 0.8, 0.7]
        observed_at: 2026-02-01T10:00:00Z
        aggregates:
          linguistic:
            - marker: hypothesis_terms
              label: uses hypotheses
              value: 0.2
              observed_at: 2026-02-02T10:00:00Z
        ratings:
          human_rating:
            - value: 4
              scale_min: 1
              scale_max: 5
              rater: Ms. Rivera
              comment: Tries several approaches before asking for help.
              rated_at: 2026-02-03T10:00:00Z
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadSeed(t *testing.T) {
	Convey("Given a seed file", t, func() {
		ctx := context.Background()

		Convey("A valid seed populates the store", func() {
			s, err := repository.LoadSeed(writeSeed(t, seedYAML))
			So(err, ShouldBeNil)

			fv, err := s.Features(ctx, "stu-001", model.SkillProblemSolving)
			So(err, ShouldBeNil)
			So(fv.Names, ShouldResemble, []string{"attendance", "completion", "revisions"})
			So(fv.Values, ShouldResemble, []float64{0.9, 0.8, 0.7})
			So(fv.ObservedAt.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)

			aggs, err := s.Aggregates(ctx, "stu-001", model.SkillProblemSolving, model.SourceLinguistic)
			So(err, ShouldBeNil)
			So(len(aggs), ShouldEqual, 1)
			So(aggs[0].Label, ShouldEqual, "uses hypotheses")

			ref, ok, err := s.Reference(ctx, model.SkillProblemSolving, model.SourceLinguistic, "hypothesis_terms")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(ref.StdDev, ShouldEqual, 0.05)

			ratings, err := s.Ratings(ctx, "stu-001", model.SkillProblemSolving, model.SourceHumanRating)
			So(err, ShouldBeNil)
			So(len(ratings), ShouldEqual, 1)
			So(ratings[0].Rater, ShouldEqual, "Ms. Rivera")
		})

		Convey("An unknown skill is rejected", func() {
			_, err := repository.LoadSeed(writeSeed(t, `
students:
  - id: stu-002
    skills:
      juggling:
        features: [1]
`))
			So(errors.Is(err, repository.ErrInvalidSeed), ShouldBeTrue)
			So(errors.Is(err, model.ErrUnknownSkill), ShouldBeTrue)
		})

		Convey("An unknown source is rejected", func() {
			_, err := repository.LoadSeed(writeSeed(t, `
students:
  - id: stu-003
    skills:
      empathy:
        ratings:
          gossip:
            - value: 1
              scale_min: 1
              scale_max: 5
`))
			So(errors.Is(err, repository.ErrInvalidSeed), ShouldBeTrue)
			So(errors.Is(err, model.ErrUnknownSource), ShouldBeTrue)
		})

		Convey("A missing file is rejected", func() {
			_, err := repository.LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
			So(errors.Is(err, repository.ErrInvalidSeed), ShouldBeTrue)
		})
	})
}

func TestSQLiteWeights(t *testing.T) {
	Convey("Given a SQLite weight store", t, func() {
		ctx := context.Background()
		db, err := repository.OpenSQLiteWeights(filepath.Join(t.TempDir(), "weights.db"))
		So(err, ShouldBeNil)
		Reset(func() { _ = db.Close() })

		at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
		def := weights.Mapping{model.SourceModel: 0.5, model.SourceHumanRating: 0.5}
		tuned := weights.Mapping{model.SourceModel: 0.2, model.SourceHumanRating: 0.8}

		Convey("An empty database loads nothing", func() {
			recs, err := db.Load(ctx)
			So(err, ShouldBeNil)
			So(recs, ShouldBeEmpty)
		})

		Convey("Load returns the latest version per skill", func() {
			So(db.Save(ctx, weights.Record{Weights: def, Version: 1, UpdatedAt: at}), ShouldBeNil)
			So(db.Save(ctx, weights.Record{Skill: model.SkillEmpathy, Weights: def, Version: 2, UpdatedAt: at}), ShouldBeNil)
			So(db.Save(ctx, weights.Record{Skill: model.SkillEmpathy, Weights: tuned, Version: 3, UpdatedAt: at.Add(time.Minute)}), ShouldBeNil)

			recs, err := db.Load(ctx)
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].Skill, ShouldEqual, model.Skill(""))
			So(recs[1].Skill, ShouldEqual, model.SkillEmpathy)
			So(recs[1].Version, ShouldEqual, 3)
			So(recs[1].Weights[model.SourceHumanRating], ShouldEqual, 0.8)
			So(recs[1].UpdatedAt.Equal(at.Add(time.Minute)), ShouldBeTrue)

			hist, err := db.History(ctx, model.SkillEmpathy, 10)
			So(err, ShouldBeNil)
			So(len(hist), ShouldEqual, 2)
			So(hist[0].Version, ShouldEqual, 3)
		})

		Convey("History for an unsaved skill is not found", func() {
			_, err := db.History(ctx, model.SkillAdaptability, 5)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("A duplicate version is rejected", func() {
			So(db.Save(ctx, weights.Record{Weights: def, Version: 1, UpdatedAt: at}), ShouldBeNil)
			So(db.Save(ctx, weights.Record{Weights: def, Version: 1, UpdatedAt: at}), ShouldNotBeNil)
		})

		Convey("It persists writes made through the weight store", func() {
			store, err := weights.New(def, weights.WithPersister(db))
			So(err, ShouldBeNil)
			v, err := store.Set(ctx, model.SkillCollaboration, tuned)
			So(err, ShouldBeNil)

			reopened, err := weights.New(def, weights.WithPersister(db))
			So(err, ShouldBeNil)
			_, err = reopened.Reload(ctx)
			So(err, ShouldBeNil)
			snap := reopened.Get(model.SkillCollaboration)
			So(snap.IsDefault(), ShouldBeFalse)
			So(snap.Weight(model.SourceHumanRating), ShouldEqual, 0.8)
			So(reopened.Version(), ShouldBeGreaterThan, v)
		})
	})
}
