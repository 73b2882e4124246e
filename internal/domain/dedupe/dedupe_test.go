package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/ucoin/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGuard(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new guard", t, func() {
		g := dedupe.NewGuard()
		So(g.Size(), ShouldEqual, 0)

		Convey("When a tx ref is recorded for the first time", func() {
			seen := g.SeenAndRecord(ctx, "tx-1")

			Convey("Then it is reported as new and remembered", func() {
				So(seen, ShouldBeFalse)
				So(g.Seen(ctx, "tx-1"), ShouldBeTrue)
				So(g.Size(), ShouldEqual, 1)
			})

			Convey("And recording it again reports a replay", func() {
				So(g.SeenAndRecord(ctx, "tx-1"), ShouldBeTrue)
				So(g.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a recorded ref is unrecorded", func() {
			g.SeenAndRecord(ctx, "tx-1")
			g.Unrecord(ctx, "tx-1")

			Convey("Then it can be applied again", func() {
				So(g.Seen(ctx, "tx-1"), ShouldBeFalse)
				So(g.SeenAndRecord(ctx, "tx-1"), ShouldBeFalse)
			})
		})

		Convey("When an unknown ref is unrecorded", func() {
			g.Unrecord(ctx, "missing")
			So(g.Size(), ShouldEqual, 0)
		})

		Convey("Seen does not record", func() {
			So(g.Seen(ctx, "tx-9"), ShouldBeFalse)
			So(g.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given a bounded guard", t, func() {
		g := dedupe.NewGuard(dedupe.WithMaxSize(3))
		for _, ref := range []string{"a", "b", "c"} {
			So(g.SeenAndRecord(ctx, ref), ShouldBeFalse)
		}

		Convey("When the bound is exceeded", func() {
			So(g.SeenAndRecord(ctx, "d"), ShouldBeFalse)

			Convey("Then the oldest ref is evicted", func() {
				So(g.Size(), ShouldEqual, 3)
				So(g.Seen(ctx, "a"), ShouldBeFalse)
				So(g.Seen(ctx, "b"), ShouldBeTrue)
				So(g.Seen(ctx, "d"), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded guard", t, func() {
		g := dedupe.NewGuard(dedupe.WithMaxSize(0))
		for i := 0; i < 1000; i++ {
			g.SeenAndRecord(ctx, fmt.Sprintf("tx-%d", i))
		}
		So(g.Size(), ShouldEqual, 1000)
		So(g.Seen(ctx, "tx-0"), ShouldBeTrue)
	})
}

func TestGuardConcurrency(t *testing.T) {
	Convey("Given many goroutines racing on the same tx ref", t, func() {
		g := dedupe.NewGuard()
		var applied atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !g.SeenAndRecord(context.Background(), "tx-shared") {
					applied.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one wins", func() {
			So(applied.Load(), ShouldEqual, 1)
		})
	})
}
