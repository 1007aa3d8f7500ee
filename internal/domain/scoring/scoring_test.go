package scoring_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	scoring "github.com/okian/fusion/internal/domain/scoring"
)

func vector(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEnsemble_Predict(t *testing.T) {
	Convey("Given a default ensemble", t, func() {
		e := scoring.NewEnsemble()
		ctx := context.Background()
		So(e.FeatureCount(), ShouldEqual, 12)

		Convey("When scoring a strong profile", func() {
			p, err := e.Predict(ctx, vector(12, 2))
			So(err, ShouldBeNil)

			Convey("Then the score should be high and bounded", func() {
				So(p.Score, ShouldBeGreaterThan, 0.75)
				So(p.Score, ShouldBeLessThanOrEqualTo, 1)
				So(p.Uncertainty, ShouldBeGreaterThanOrEqualTo, 0)
			})

			Convey("Then importances should sum to one", func() {
				var sum float64
				for _, v := range p.FeatureImportances {
					sum += v
				}
				So(sum, ShouldAlmostEqual, 1, 1e-9)
			})
		})

		Convey("When scoring a weak profile", func() {
			p, err := e.Predict(ctx, vector(12, -2))
			So(err, ShouldBeNil)
			So(p.Score, ShouldBeLessThan, 0.25)
		})

		Convey("When features are missing", func() {
			p, err := e.Predict(ctx, vector(12, math.NaN()))
			mean, err2 := e.Predict(ctx, vector(12, 0))

			Convey("Then they should be imputed with the mean", func() {
				So(err, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(p.Score, ShouldEqual, mean.Score)
				So(p.FeatureImportances, ShouldResemble, vector(12, 0))
			})
		})

		Convey("When the vector length is wrong", func() {
			_, err := e.Predict(ctx, vector(3, 1))
			So(errors.Is(err, scoring.ErrFeatureLength), ShouldBeTrue)
		})

		Convey("When the same input is scored twice", func() {
			a, _ := e.Predict(ctx, vector(12, 0.7))
			b, _ := scoring.NewEnsemble().Predict(ctx, vector(12, 0.7))
			So(a, ShouldResemble, b)
		})
	})
}

func TestEnsemble_Latency(t *testing.T) {
	Convey("Given an ensemble with simulated latency", t, func() {
		e := scoring.NewEnsemble(scoring.WithLatencyRange(200*time.Millisecond, 300*time.Millisecond))

		Convey("When the context is cancelled first", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			_, err := e.Predict(ctx, vector(12, 1))
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})
	})
}

func TestTopFeatures(t *testing.T) {
	Convey("Given importances", t, func() {
		So(scoring.TopFeatures([]float64{0.1, 0.5, 0.2, 0.2}, 3), ShouldResemble, []int{1, 2, 3})
		So(scoring.TopFeatures([]float64{0.1}, 3), ShouldResemble, []int{0})
	})
}
