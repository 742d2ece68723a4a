// Package gps converts between GPS and UTC time and keeps the network time
// received through the DeviceTimeAns.
package gps

import (
	"sync"
	"time"
)

var epoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// leapSeconds holds the UTC times after which a leap second was inserted.
var leapSeconds = []time.Time{
	time.Date(1981, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(1982, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(1983, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(1985, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(1987, time.December, 31, 23, 59, 59, 0, time.UTC),
	time.Date(1989, time.December, 31, 23, 59, 59, 0, time.UTC),
	time.Date(1990, time.December, 31, 23, 59, 59, 0, time.UTC),
	time.Date(1992, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(1993, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(1994, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(1995, time.December, 31, 23, 59, 59, 0, time.UTC),
	time.Date(1997, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(1998, time.December, 31, 23, 59, 59, 0, time.UTC),
	time.Date(2005, time.December, 31, 23, 59, 59, 0, time.UTC),
	time.Date(2008, time.December, 31, 23, 59, 59, 0, time.UTC),
	time.Date(2012, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(2015, time.June, 30, 23, 59, 59, 0, time.UTC),
	time.Date(2016, time.December, 31, 23, 59, 59, 0, time.UTC),
}

// SinceEpoch returns the given time as duration since the GPS epoch.
func SinceEpoch(t time.Time) time.Duration {
	d := t.Sub(epoch)
	for _, ls := range leapSeconds {
		if ls.Before(t) {
			d += time.Second
		}
	}
	return d
}

// ToTime returns the UTC time for the given duration since the GPS epoch.
func ToTime(sinceEpoch time.Duration) time.Time {
	t := epoch.Add(sinceEpoch)
	for _, ls := range leapSeconds {
		if ls.Before(t) {
			t = t.Add(-time.Second)
		}
	}
	return t
}

// Clock returns the local time corrected with the offset of the last
// network time synchronization.
type Clock struct {
	mu     sync.RWMutex
	now    func() time.Time
	offset time.Duration
	synced bool
}

// NewClock returns a new Clock. When now is nil, time.Now is used.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Sync synchronizes the clock with the given network time.
func (c *Clock) Sync(sinceEpoch time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.offset = ToTime(sinceEpoch).Sub(c.now())
	c.synced = true
}

// Synced returns true when the clock has been synchronized.
func (c *Clock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}
