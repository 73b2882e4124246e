package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"
)

const addr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestCache(t *testing.T) {
	ctx := context.Background()

	Convey("Given a Redis-backed claims cache", t, func() {
		db, mock := redismock.NewClientMock()
		c := New(db)
		key := defaultPrefix + addr

		Convey("A hit decodes the stored decimal", func() {
			mock.ExpectGet(key).SetVal("2.5")
			v, ok, err := c.Get(ctx, addr)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(v.String(), ShouldEqual, "2.5")
		})

		Convey("A miss is not an error", func() {
			mock.ExpectGet(key).RedisNil()
			_, ok, err := c.Get(ctx, addr)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("A corrupt value is an error", func() {
			mock.ExpectGet(key).SetVal("abc")
			_, _, err := c.Get(ctx, addr)
			So(err, ShouldNotBeNil)
		})

		Convey("Redis failures are surfaced", func() {
			mock.ExpectGet(key).SetErr(redis.TxFailedErr)
			_, _, err := c.Get(ctx, addr)
			So(err, ShouldNotBeNil)
		})

		Convey("Set writes the decimal string", func() {
			mock.ExpectSet(key, "3.25", 0).SetVal("OK")
			So(c.Set(ctx, addr, decimal.RequireFromString("3.25")), ShouldBeNil)
		})

		Convey("Add increments an existing total", func() {
			mock.ExpectEval(addIfPresent, []string{key}, "1.5").SetVal("4")
			v, ok, err := c.Add(ctx, addr, decimal.RequireFromString("1.5"))
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(v.String(), ShouldEqual, "4")
		})

		Convey("Add leaves a missing total alone", func() {
			mock.ExpectEval(addIfPresent, []string{key}, "1.5").RedisNil()
			_, ok, err := c.Add(ctx, addr, decimal.RequireFromString("1.5"))
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Delete removes one key", func() {
			mock.ExpectDel(key).SetVal(1)
			So(c.Delete(ctx, addr), ShouldBeNil)
		})

		Convey("Flush scans the prefix and deletes matches", func() {
			mock.ExpectScan(0, defaultPrefix+"*", scanBatch).SetVal([]string{key}, 7)
			mock.ExpectDel(key).SetVal(1)
			mock.ExpectScan(7, defaultPrefix+"*", scanBatch).SetVal(nil, 0)
			So(c.Flush(ctx), ShouldBeNil)
		})

		Convey("A TTL is applied on Set", func() {
			c := New(db, WithTTL(time.Minute), WithPrefix("t:"))
			mock.ExpectSet("t:"+addr, "1", time.Minute).SetVal("OK")
			So(c.Set(ctx, addr, decimal.NewFromInt(1)), ShouldBeNil)
		})

		So(mock.ExpectationsWereMet(), ShouldBeNil)
	})
}
