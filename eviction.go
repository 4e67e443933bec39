package texcache

import (
	"time"
)

// DefaultPressureBytes is the GPU allocation size at which eviction
// thresholds built with ScaleByPressure collapse to "now".
const DefaultPressureBytes = 500 * 1024 * 1024

// EvictionThreshold is a cutoff below which unused Auto entries are
// reclaimed. An entry is evictable only when it is older than the threshold in
// both frames and wall-clock time, so an entry touched just before a long
// pause survives even when many frames have passed.
type EvictionThreshold struct {
	FrameID FrameID
	Time    time.Time
}

// ShouldEvict reports whether an entry last accessed at lastAccess falls
// below the threshold.
func (t EvictionThreshold) ShouldEvict(lastAccess FrameStamp) bool {
	return lastAccess.FrameID < t.FrameID && lastAccess.Time.Before(t.Time)
}

// EvictionThresholdBuilder computes an EvictionThreshold relative to a frame.
// Unset limits default to zero, i.e. only entries from the current frame and
// instant survive.
type EvictionThresholdBuilder struct {
	now             FrameStamp
	sensor          MemorySensor
	pressureBytes   uint64
	maxFrames       int
	maxTime         time.Duration
	scaleByPressure bool
}

// NewEvictionThresholdBuilder starts a threshold relative to now. sensor is
// read only when ScaleByPressure is set; nil reads as no pressure.
func NewEvictionThresholdBuilder(now FrameStamp, sensor MemorySensor) *EvictionThresholdBuilder {
	return &EvictionThresholdBuilder{
		now:           now,
		sensor:        sensor,
		pressureBytes: DefaultPressureBytes,
	}
}

// MaxFrames lets entries used within the last n frames survive.
func (b *EvictionThresholdBuilder) MaxFrames(n int) *EvictionThresholdBuilder {
	b.maxFrames = n
	return b
}

// MaxTime lets entries used within the last d survive.
func (b *EvictionThresholdBuilder) MaxTime(d time.Duration) *EvictionThresholdBuilder {
	b.maxTime = d
	return b
}

// ScaleByPressure shrinks both limits as GPU memory use approaches the
// pressure ceiling.
func (b *EvictionThresholdBuilder) ScaleByPressure() *EvictionThresholdBuilder {
	b.scaleByPressure = true
	return b
}

// PressureBytes overrides the pressure ceiling.
func (b *EvictionThresholdBuilder) PressureBytes(n uint64) *EvictionThresholdBuilder {
	if n > 0 {
		b.pressureBytes = n
	}
	return b
}

// pressureFactor is 1 with no GPU memory in use and falls to 0 at the ceiling.
func (b *EvictionThresholdBuilder) pressureFactor() float64 {
	if !b.scaleByPressure || b.sensor == nil {
		return 1
	}
	used := float64(b.sensor.GPUBytesAllocated())
	return 1 - min(1, used/float64(b.pressureBytes))
}

// Build returns the threshold. Its frame is never below the first real frame.
func (b *EvictionThresholdBuilder) Build() EvictionThreshold {
	factor := b.pressureFactor()
	frames := FrameID(float64(b.maxFrames) * factor)
	age := time.Duration(float64(b.maxTime) * factor)

	// Real stamps start at frame 1, so a threshold floored there still
	// catches entries stamped with FrameStampInvalid.
	id := FrameID(1)
	if b.now.FrameID > frames+1 {
		id = b.now.FrameID - frames
	}
	return EvictionThreshold{FrameID: id, Time: b.now.Time.Add(-age)}
}

// shouldEvictEager reports whether an Eager entry has gone unused for a whole
// frame. Entries can be evicted at any point of a frame, including before
// they were requested in it, so the last access is advanced by one frame
// before comparing.
func shouldEvictEager(lastAccess FrameStamp, now FrameStamp) bool {
	return lastAccess.FrameID+1 < now.FrameID
}

// shouldEvict applies an entry's policy against a threshold.
func shouldEvict(e *CacheEntry, threshold EvictionThreshold, now FrameStamp) bool {
	switch e.eviction {
	case EvictManual:
		return false
	case EvictEager:
		return shouldEvictEager(e.lastAccess, now)
	default:
		return threshold.ShouldEvict(e.lastAccess)
	}
}
