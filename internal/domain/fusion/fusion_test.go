package fusion_test

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	evidence "github.com/okian/fusion/internal/domain/evidence"
	fusion "github.com/okian/fusion/internal/domain/fusion"
	model "github.com/okian/fusion/internal/domain/model"
	weights "github.com/okian/fusion/internal/domain/weights"
)

var t0 = time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)

type stubCollector struct {
	source model.Source
	items  []model.EvidenceItem
	err    error
	delay  time.Duration
	panics bool
	calls  atomic.Int64
}

func (s *stubCollector) Source() model.Source { return s.source }

func (s *stubCollector) Collect(ctx context.Context, _ evidence.Request) ([]model.EvidenceItem, error) {
	s.calls.Add(1)
	if s.panics {
		panic("collector exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.items, s.err
}

func item(src model.Source, score, relevance float64, at time.Time, content string) model.EvidenceItem {
	return model.EvidenceItem{Source: src, Score: score, Relevance: relevance, Timestamp: at, Content: content}
}

func scenarioWeights() weights.Mapping {
	return weights.Mapping{
		model.SourceModel:       0.5,
		model.SourceLinguistic:  0.2,
		model.SourceBehavioral:  0.2,
		model.SourceHumanRating: 0.1,
	}
}

func snapshot(m weights.Mapping) weights.Snapshot {
	s, err := weights.New(m)
	So(err, ShouldBeNil)
	return s.Get(model.SkillEmpathy)
}

func TestCombine(t *testing.T) {
	Convey("Given the scenario weights", t, func() {
		snap := snapshot(scenarioWeights())
		opts := fusion.DefaultOptions()

		Convey("When only model (0.8) and human (0.6) contribute", func() {
			outcomes := []fusion.Outcome{
				{Source: model.SourceModel, Items: []model.EvidenceItem{item(model.SourceModel, 0.8, 0.7, t0, "m")}},
				{Source: model.SourceLinguistic},
				{Source: model.SourceBehavioral, Err: errors.New("down")},
				{Source: model.SourceHumanRating, Items: []model.EvidenceItem{item(model.SourceHumanRating, 0.6, 0.8, t0, "h")}},
			}
			res := fusion.Combine("stu-1", snap, outcomes, opts)

			Convey("Then weights should renormalize and the score be 0.767", func() {
				So(res.NoEvidence, ShouldBeFalse)
				So(res.AppliedWeights[model.SourceModel], ShouldAlmostEqual, 0.8333, 1e-4)
				So(res.AppliedWeights[model.SourceHumanRating], ShouldAlmostEqual, 0.1667, 1e-4)
				So(res.Score, ShouldAlmostEqual, 0.7667, 1e-4)
				So(res.SourceBreakdown, ShouldResemble, map[model.Source]float64{model.SourceModel: 0.8, model.SourceHumanRating: 0.6})
				So(res.Skill, ShouldEqual, model.SkillEmpathy)
				So(res.StudentID, ShouldEqual, "stu-1")
			})

			Convey("Then confidence should blend coverage and agreement", func() {
				// coverage 2/4, sigma 0.1 -> agreement 0.8
				So(res.Confidence, ShouldAlmostEqual, 0.5*0.5+0.5*0.8, 1e-9)
			})

			Convey("Then repeated calls should be identical", func() {
				for i := 0; i < 20; i++ {
					again := fusion.Combine("stu-1", snap, outcomes, opts)
					So(again.Score, ShouldEqual, res.Score)
					So(again.Confidence, ShouldEqual, res.Confidence)
					So(again.Evidence, ShouldResemble, res.Evidence)
				}
			})
		})

		Convey("When no source returns evidence", func() {
			res := fusion.Combine("stu-1", snap, []fusion.Outcome{
				{Source: model.SourceModel},
				{Source: model.SourceHumanRating, Err: errors.New("boom")},
			}, opts)

			Convey("Then the result should be NoEvidence with zero confidence", func() {
				So(res.NoEvidence, ShouldBeTrue)
				So(res.Confidence, ShouldEqual, 0)
				So(res.Evidence, ShouldBeEmpty)
				So(res.SourceBreakdown, ShouldBeEmpty)
			})
		})

		Convey("When the only evidence comes from a zero-weight source", func() {
			res := fusion.Combine("stu-1", snap, []fusion.Outcome{
				{Source: model.SourcePeerFeedback, Items: []model.EvidenceItem{item(model.SourcePeerFeedback, 0.9, 1, t0, "p")}},
			}, opts)
			So(res.NoEvidence, ShouldBeTrue)
		})

		Convey("When a single source contributes", func() {
			res := fusion.Combine("stu-1", snap, []fusion.Outcome{
				{Source: model.SourceModel, Items: []model.EvidenceItem{item(model.SourceModel, 0.9, 1, t0, "m")}},
			}, opts)

			Convey("Then confidence should be capped", func() {
				So(res.Confidence, ShouldBeGreaterThan, 0)
				So(res.Confidence, ShouldBeLessThanOrEqualTo, 0.5)
				So(res.Score, ShouldEqual, 0.9)
			})
		})

		Convey("When a source has several items", func() {
			res := fusion.Combine("stu-1", snap, []fusion.Outcome{
				{Source: model.SourceModel, Items: []model.EvidenceItem{item(model.SourceModel, 0.7, 1, t0, "a")}},
				{Source: model.SourceLinguistic, Items: []model.EvidenceItem{
					item(model.SourceLinguistic, 0.2, 0.1, t0, "b"),
					item(model.SourceLinguistic, 0.6, 0.1, t0, "c"),
				}},
			}, opts)

			Convey("Then the source score should be the item mean", func() {
				So(res.SourceBreakdown[model.SourceLinguistic], ShouldAlmostEqual, 0.4, 1e-9)
			})
		})
	})
}

func TestCombine_RenormalizationProperty(t *testing.T) {
	Convey("Given every subset of contributing sources", t, func() {
		full := weights.Mapping{
			model.SourceModel:        0.3,
			model.SourceLinguistic:   0.25,
			model.SourceBehavioral:   0.15,
			model.SourceHumanRating:  0.2,
			model.SourcePeerFeedback: 0.1,
		}
		snap := snapshot(full)
		scores := map[model.Source]float64{
			model.SourceModel:        0.91,
			model.SourceLinguistic:   0.42,
			model.SourceBehavioral:   0.63,
			model.SourceHumanRating:  0.75,
			model.SourcePeerFeedback: 0.2,
		}
		sources := model.Sources()

		for mask := 1; mask < 1<<len(sources); mask++ {
			var outcomes []fusion.Outcome
			var wsum, expected float64
			for i, src := range sources {
				o := fusion.Outcome{Source: src}
				if mask&(1<<i) != 0 {
					o.Items = []model.EvidenceItem{item(src, scores[src], 0.5, t0, string(src))}
					wsum += full[src]
					expected += full[src] * scores[src]
				}
				outcomes = append(outcomes, o)
			}
			res := fusion.Combine("stu-1", snap, outcomes, fusion.DefaultOptions())
			So(res.Score, ShouldAlmostEqual, expected/wsum, 1e-9)

			var applied float64
			for _, w := range res.AppliedWeights {
				applied += w
			}
			So(applied, ShouldAlmostEqual, 1, 1e-9)
			So(res.Confidence, ShouldBeGreaterThan, 0)
			So(res.Confidence, ShouldBeLessThanOrEqualTo, 1)
		}
	})
}

func TestConfidence(t *testing.T) {
	Convey("Given confidence inputs", t, func() {
		opts := fusion.DefaultOptions()
		So(fusion.Confidence(0, 4, nil, opts), ShouldEqual, 0)
		So(fusion.Confidence(4, 4, []float64{0.5, 0.5, 0.5, 0.5}, opts), ShouldEqual, 1)
		So(fusion.Confidence(2, 2, []float64{0, 1}, opts), ShouldAlmostEqual, 0.5, 1e-9)
		So(fusion.Confidence(1, 1, []float64{0.9}, opts), ShouldEqual, 0.5)
		So(math.IsNaN(fusion.Confidence(3, 5, []float64{0.1, 0.2, 0.3}, opts)), ShouldBeFalse)

		Convey("A zero single-source cap still leaves a lone source some confidence", func() {
			zero := opts
			zero.SingleSourceCap = 0
			So(fusion.Confidence(1, 1, []float64{0.9}, zero), ShouldEqual, fusion.DefaultSingleSourceCap)
		})
	})
}

func TestTopEvidence(t *testing.T) {
	Convey("Given items with tied relevance", t, func() {
		items := []model.EvidenceItem{
			item(model.SourcePeerFeedback, 0.5, 0.9, t0, "z"),
			item(model.SourceHumanRating, 0.5, 0.9, t0, "y"),
			item(model.SourceModel, 0.5, 0.4, t0.Add(time.Hour), "x"),
			item(model.SourceHumanRating, 0.5, 0.9, t0.Add(time.Minute), "w"),
			item(model.SourceHumanRating, 0.5, 0.9, t0, "a"),
			item(model.SourceLinguistic, 0.5, 0.2, t0, "v"),
		}

		Convey("Then ordering should be relevance, recency, source, content", func() {
			top := fusion.TopEvidence(items, 5)
			So(len(top), ShouldEqual, 5)
			So(top[0].Content, ShouldEqual, "w")
			So(top[1].Content, ShouldEqual, "a")
			So(top[2].Content, ShouldEqual, "y")
			So(top[3].Content, ShouldEqual, "z")
			So(top[4].Content, ShouldEqual, "x")
		})

		Convey("Then the input should not be reordered", func() {
			_ = fusion.TopEvidence(items, 2)
			So(items[0].Content, ShouldEqual, "z")
		})
	})
}

func TestEngine_Fuse(t *testing.T) {
	Convey("Given an engine with the scenario weights", t, func() {
		ctx := context.Background()
		store, err := weights.New(scenarioWeights())
		So(err, ShouldBeNil)

		mdl := &stubCollector{source: model.SourceModel, items: []model.EvidenceItem{item(model.SourceModel, 0.8, 0.7, t0, "m")}}
		human := &stubCollector{source: model.SourceHumanRating, items: []model.EvidenceItem{item(model.SourceHumanRating, 0.6, 0.8, t0, "h")}}
		ling := &stubCollector{source: model.SourceLinguistic, panics: true}
		behav := &stubCollector{source: model.SourceBehavioral, err: errors.New("store offline")}
		peer := &stubCollector{source: model.SourcePeerFeedback, items: []model.EvidenceItem{item(model.SourcePeerFeedback, 0.1, 1, t0, "p")}}

		engine, err := fusion.New(store, []evidence.Collector{mdl, human, ling, behav, peer}, fusion.WithCollectTimeout(500*time.Millisecond))
		So(err, ShouldBeNil)

		Convey("When one collector panics and another fails", func() {
			res, err := engine.Fuse(ctx, "stu-1", model.SkillEmpathy)

			Convey("Then fusion should still succeed with the survivors", func() {
				So(err, ShouldBeNil)
				So(res.Score, ShouldAlmostEqual, 0.7667, 1e-4)
				So(len(res.Evidence), ShouldEqual, 2)
				So(res.WeightsVersion, ShouldEqual, 1)
			})

			Convey("Then zero-weight sources should not be called", func() {
				So(peer.calls.Load(), ShouldEqual, 0)
			})
		})

		Convey("When a collector is slower than the timeout", func() {
			slow := &stubCollector{source: model.SourceModel, delay: 5 * time.Second, items: mdl.items}
			e2, err := fusion.New(store, []evidence.Collector{slow, human}, fusion.WithCollectTimeout(50*time.Millisecond))
			So(err, ShouldBeNil)

			start := time.Now()
			res, err := e2.Fuse(ctx, "stu-1", model.SkillEmpathy)

			Convey("Then that source should be dropped without failing the request", func() {
				So(err, ShouldBeNil)
				So(time.Since(start), ShouldBeLessThan, time.Second)
				So(res.Score, ShouldAlmostEqual, 0.6, 1e-9)
				So(res.Confidence, ShouldBeLessThanOrEqualTo, 0.5)
			})
		})

		Convey("When the caller cancels", func() {
			slow := &stubCollector{source: model.SourceModel, delay: 5 * time.Second}
			e2, _ := fusion.New(store, []evidence.Collector{slow, human})
			cctx, cancel := context.WithCancel(ctx)
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
			_, err := e2.Fuse(cctx, "stu-1", model.SkillEmpathy)

			Convey("Then the cancellation should be returned", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})

		Convey("When no collector produces evidence", func() {
			e2, _ := fusion.New(store, []evidence.Collector{&stubCollector{source: model.SourceModel}})
			res, err := e2.Fuse(ctx, "stu-1", model.SkillEmpathy)
			So(err, ShouldBeNil)
			So(res.NoEvidence, ShouldBeTrue)
			So(res.Confidence, ShouldEqual, 0)
		})

		Convey("When collectors return out-of-range scores", func() {
			bad := &stubCollector{source: model.SourceModel, items: []model.EvidenceItem{item(model.SourceModel, 1.4, 1, t0, "bad")}}
			e2, _ := fusion.New(store, []evidence.Collector{bad})
			res, err := e2.Fuse(ctx, "stu-1", model.SkillEmpathy)
			So(err, ShouldBeNil)
			So(res.NoEvidence, ShouldBeTrue)
		})

		Convey("When two collectors claim the same source", func() {
			_, err := fusion.New(store, []evidence.Collector{mdl, &stubCollector{source: model.SourceModel}})
			So(errors.Is(err, fusion.ErrDuplicateCollector), ShouldBeTrue)
		})
	})
}
