package ratelimit_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	. "github.com/smartystreets/goconvey/convey"

	ratelimit "github.com/okian/fusion/internal/domain/ratelimit"
)

func newLimiter(short, long int) (*ratelimit.Limiter, *fakeclock.FakeClock) {
	clk := fakeclock.NewFakeClock(time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC))
	l, err := ratelimit.New("text-generation", []ratelimit.Window{
		{Name: "short", Capacity: short, Period: time.Minute},
		{Name: "long", Capacity: long, Period: time.Hour},
	}, ratelimit.WithClock(clk))
	So(err, ShouldBeNil)
	return l, clk
}

func TestLimiter_TryAcquire(t *testing.T) {
	Convey("Given a dual-window limiter", t, func() {
		Convey("When the short window is exhausted", func() {
			l, clk := newLimiter(2, 100)
			So(l.TryAcquire(), ShouldBeTrue)
			So(l.TryAcquire(), ShouldBeTrue)

			Convey("Then further attempts should be denied immediately", func() {
				start := time.Now()
				So(l.TryAcquire(), ShouldBeFalse)
				So(time.Since(start), ShouldBeLessThan, 50*time.Millisecond)
			})

			Convey("Then a denial should not debit the long window", func() {
				So(l.TryAcquire(), ShouldBeFalse)
				for _, st := range l.State() {
					if st.Window == "long" {
						So(st.TokensRemaining, ShouldAlmostEqual, 98, 0.01)
					}
				}
			})

			Convey("Then tokens should refill proportionally to elapsed time", func() {
				clk.Increment(30 * time.Second)
				So(l.TryAcquire(), ShouldBeTrue)
				So(l.TryAcquire(), ShouldBeFalse)
			})

			Convey("Then refill should be capped at capacity", func() {
				clk.Increment(time.Hour)
				for _, st := range l.State() {
					if st.Window == "short" {
						So(st.TokensRemaining, ShouldAlmostEqual, 2, 0.0001)
					}
				}
			})
		})

		Convey("When the long window is exhausted", func() {
			l, clk := newLimiter(10, 3)
			for i := 0; i < 3; i++ {
				So(l.TryAcquire(), ShouldBeTrue)
				clk.Increment(time.Minute)
			}

			Convey("Then the short window alone should not admit a call", func() {
				So(l.TryAcquire(), ShouldBeFalse)
			})
		})

		Convey("When many goroutines contend", func() {
			l, _ := newLimiter(25, 1000)
			var granted int64
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if l.TryAcquire() {
						atomic.AddInt64(&granted, 1)
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly capacity acquisitions should succeed", func() {
				So(atomic.LoadInt64(&granted), ShouldEqual, 25)
			})
		})
	})
}

func TestLimiter_State(t *testing.T) {
	Convey("Given a fresh limiter", t, func() {
		l, clk := newLimiter(60, 600)

		Convey("Then buckets should start full with their refill rates", func() {
			st := l.State()
			So(len(st), ShouldEqual, 2)
			So(st[0].Window, ShouldEqual, "short")
			So(st[0].TokensRemaining, ShouldAlmostEqual, 60, 0.0001)
			So(st[0].RefillPerSecond, ShouldAlmostEqual, 1, 0.0001)
			So(st[1].RefillPerSecond, ShouldAlmostEqual, 600.0/3600, 0.0001)
		})

		Convey("Then an acquisition should stamp the refill time", func() {
			clk.Increment(5 * time.Second)
			So(l.TryAcquire(), ShouldBeTrue)
			So(l.State()[0].LastRefill, ShouldEqual, clk.Now())
		})
	})
}

func TestNew_InvalidWindows(t *testing.T) {
	Convey("Given invalid window definitions", t, func() {
		cases := [][]ratelimit.Window{
			nil,
			{{Name: "short", Capacity: 0, Period: time.Minute}},
			{{Name: "short", Capacity: 1, Period: 0}},
			{{Name: "", Capacity: 1, Period: time.Minute}},
			{{Name: "a", Capacity: 1, Period: time.Minute}, {Name: "a", Capacity: 2, Period: time.Hour}},
		}
		for _, ws := range cases {
			_, err := ratelimit.New("r", ws)
			So(errors.Is(err, ratelimit.ErrInvalidWindow), ShouldBeTrue)
		}
	})
}
