package reasoning_test

import (
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	model "github.com/okian/fusion/internal/domain/model"
	reasoning "github.com/okian/fusion/internal/domain/reasoning"
)

func TestBucketFor(t *testing.T) {
	Convey("Given score thresholds", t, func() {
		So(reasoning.BucketFor(0.75), ShouldEqual, reasoning.BucketProficient)
		So(reasoning.BucketFor(0.7499), ShouldEqual, reasoning.BucketDeveloping)
		So(reasoning.BucketFor(0.5), ShouldEqual, reasoning.BucketDeveloping)
		So(reasoning.BucketFor(0.4999), ShouldEqual, reasoning.BucketEmerging)
		So(reasoning.BucketFor(0), ShouldEqual, reasoning.BucketEmerging)
	})
}

func TestFallback(t *testing.T) {
	Convey("Given fused results across the score range", t, func() {
		Convey("When the score is proficient", func() {
			res := fused(0.85, 3)
			out := reasoning.Fallback(res, reasoning.CauseRateLimited)

			Convey("Then it should cite evidence and list strengths", func() {
				So(out.GeneratedBy, ShouldEqual, model.ProvenanceFallback)
				So(out.FallbackCause, ShouldEqual, reasoning.CauseRateLimited)
				So(out.ReasoningText, ShouldContainSubstring, "Observation number 1 about helping classmates")
				So(out.Strengths, ShouldNotBeEmpty)
				So(len(out.Strengths), ShouldBeLessThanOrEqualTo, 3)
				So(len(out.GrowthSuggestions), ShouldEqual, 1)
			})
		})

		Convey("When the score is developing", func() {
			out := reasoning.Fallback(fused(0.6, 2), reasoning.CauseProviderError)
			So(out.ReasoningText, ShouldContainSubstring, "steady progress")
			So(len(out.GrowthSuggestions), ShouldEqual, 1)
		})

		Convey("When the score is emerging", func() {
			out := reasoning.Fallback(fused(0.2, 2), reasoning.CauseProviderError)
			So(out.ReasoningText, ShouldContainSubstring, "beginning to build")
			So(out.ReasoningText, ShouldContainSubstring, "next step")
			So(out.Strengths, ShouldBeEmpty)
		})

		Convey("Then every bucket should produce two to four sentences", func() {
			for _, score := range []float64{0.05, 0.3, 0.55, 0.74, 0.76, 0.99} {
				for _, conf := range []float64{0.1, 0.9} {
					for _, skill := range model.Skills() {
						res := fused(score, 3)
						res.Skill = skill
						res.Confidence = conf
						n := len(reasoning.SplitSentences(reasoning.Fallback(res, "x").ReasoningText))
						So(n, ShouldBeBetweenOrEqual, 2, 4)
					}
				}
			}
		})
	})
}

func TestFallback_Tone(t *testing.T) {
	Convey("Given proficient results whose evidence uses negative words", t, func() {
		for _, score := range []float64{0.75, 0.8, 0.9, 1} {
			for _, skill := range model.Skills() {
				res := fused(score, 3)
				res.Skill = skill
				res.Evidence[0].Content = "Rarely fails to help, never poor effort"
				res.Evidence[1].Content = "Was weak at first but improved"
				out := reasoning.Fallback(res, reasoning.CauseRateLimited)

				all := out.ReasoningText + " " + strings.Join(out.Strengths, " ") + " " + strings.Join(out.GrowthSuggestions, " ")
				So(reasoning.DeniedTerms(all), ShouldBeEmpty)
				So(out.ReasoningText, ShouldContainSubstring, "Observation number 3")
			}
		}
	})

	Convey("Given any result", t, func() {
		for _, score := range []float64{0, 0.25, 0.5, 0.6} {
			out := reasoning.Fallback(fused(score, 2), reasoning.CauseTokenBudget)
			So(reasoning.DeniedTerms(out.ReasoningText), ShouldBeEmpty)
		}
	})
}

func TestDeniedTerms(t *testing.T) {
	Convey("Given text with deny-listed words", t, func() {
		So(reasoning.DeniedTerms("She FAILS often; bad."), ShouldResemble, []string{"fails", "bad"})
		So(reasoning.DeniedTerms("badge and failsafe"), ShouldBeEmpty)
	})
}

func TestParseResponse(t *testing.T) {
	Convey("Given provider responses", t, func() {
		Convey("When the body is fenced JSON", func() {
			text, strengths, growth, err := reasoning.ParseResponse(goodResponse)
			So(err, ShouldBeNil)
			So(text, ShouldStartWith, "The student regularly")
			So(len(strengths), ShouldEqual, 2)
			So(growth, ShouldResemble, []string{"Lead a discussion"})
		})

		Convey("When there are too many sentences and phrases", func() {
			text, strengths, _, err := reasoning.ParseResponse(`Here you go: {"reasoning": "One. Two. Three. Four. Five. Six.", "strengths": ["a", "", "b", "c", "d"]}`)
			So(err, ShouldBeNil)
			So(text, ShouldEqual, "One. Two. Three. Four.")
			So(strengths, ShouldResemble, []string{"a", "b", "c"})
		})

		Convey("When the body is not JSON", func() {
			_, _, _, err := reasoning.ParseResponse("I think the student is great.")
			So(errors.Is(err, reasoning.ErrMalformedResponse), ShouldBeTrue)
		})

		Convey("When the JSON is broken", func() {
			_, _, _, err := reasoning.ParseResponse(`{"reasoning": 12}`)
			So(errors.Is(err, reasoning.ErrMalformedResponse), ShouldBeTrue)
		})
	})
}

func TestSplitSentences(t *testing.T) {
	Convey("Given prose", t, func() {
		So(reasoning.SplitSentences("Scored 0.82 overall. Great work!  Why not? Trailing"), ShouldResemble,
			[]string{"Scored 0.82 overall.", "Great work!", "Why not?", "Trailing"})
		So(reasoning.SplitSentences("   "), ShouldBeEmpty)
	})
}
