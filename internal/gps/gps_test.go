package gps

import (
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
)

func TestTime(t *testing.T) {
	Convey("Given a set of tests", t, func() {
		tests := []struct {
			Time       time.Time
			SinceEpoch time.Duration
		}{
			{Time: epoch, SinceEpoch: 0},
			{Time: time.Date(2010, time.January, 28, 16, 36, 24, 0, time.UTC), SinceEpoch: 948731799 * time.Second},
			{Time: time.Date(2025, time.July, 14, 0, 0, 0, 0, time.UTC), SinceEpoch: 1436486418 * time.Second},
			{Time: time.Date(2012, time.June, 30, 23, 59, 59, 0, time.UTC), SinceEpoch: 1025136014 * time.Second},
			{Time: time.Date(2012, time.July, 1, 0, 0, 0, 0, time.UTC), SinceEpoch: 1025136016 * time.Second},
		}

		for i, test := range tests {
			Convey(fmt.Sprintf("Testing: %s == %s [%d]", test.Time, test.SinceEpoch, i), func() {
				So(SinceEpoch(test.Time), ShouldEqual, test.SinceEpoch)
				So(ToTime(test.SinceEpoch).Equal(test.Time), ShouldBeTrue)
			})
		}
	})
}

func TestClock(t *testing.T) {
	assert := require.New(t)

	local := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(func() time.Time { return local })

	assert.False(c.Synced())
	assert.True(c.Now().Equal(local))

	network := local.Add(90 * time.Second)
	c.Sync(SinceEpoch(network))
	assert.True(c.Synced())
	assert.True(c.Now().Equal(network))

	local = local.Add(time.Minute)
	assert.True(c.Now().Equal(network.Add(time.Minute)))
}
