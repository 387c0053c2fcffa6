package storage

import (
	"time"

	"github.com/rs/zerolog"
)

// Options control storage behaviour across backends.
type Options struct {
	// Clock stamps writes on backends that assign their own modification times.
	Clock func() time.Time
	// Logger receives debug output about store round trips.
	Logger zerolog.Logger
}

func (o Options) clock() func() time.Time {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}

// WithClock returns a copy of the options using clock for write timestamps.
func (o Options) WithClock(clock func() time.Time) Options {
	o.Clock = clock
	return o
}
