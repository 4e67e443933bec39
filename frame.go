package texcache

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// FrameID counts frames. Zero is the invalid frame.
type FrameID uint64

// FrameStamp pairs a frame id with the wall-clock time the frame started.
type FrameStamp struct {
	FrameID FrameID
	Time    time.Time
}

// FrameStampInvalid is older than every real stamp. Entries stamped with it
// fall below every threshold built by EvictionThresholdBuilder.
var FrameStampInvalid = FrameStamp{}

// IsValid reports whether the stamp belongs to a real frame.
func (s FrameStamp) IsValid() bool {
	return s.FrameID != 0
}

// FrameStamper hands out advancing frame stamps read from a clock.
type FrameStamper struct {
	clock clockwork.Clock
	last  FrameStamp
}

// NewFrameStamper creates a stamper reading time from clock. A nil clock uses
// the real wall clock.
func NewFrameStamper(clock clockwork.Clock) *FrameStamper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FrameStamper{clock: clock}
}

// Next returns the stamp for the next frame.
func (f *FrameStamper) Next() FrameStamp {
	f.last = FrameStamp{FrameID: f.last.FrameID + 1, Time: f.clock.Now()}
	return f.last
}

// Last returns the most recently issued stamp.
func (f *FrameStamper) Last() FrameStamp {
	return f.last
}
