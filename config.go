package texcache

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxTextureLayers is the layer limit used when Config leaves it unset.
	DefaultMaxTextureLayers = 256
	// DefaultReclaimThresholdBytes is the amount of empty shared storage that
	// triggers the reclaim policy.
	DefaultReclaimThresholdBytes = 10 * 1024 * 1024

	// periodic shared GC and reclaim both wait this long before acting
	reclaimDelay = 5 * time.Second
)

// Config configures a TextureCache.
type Config struct {
	// MaxTextureLayers caps the layer count of each shared array. The platform
	// clamp is applied on top of it. Default is 256.
	MaxTextureLayers int
	// ColorFormat is the storage format of the 8-bit color arrays; BGRA8 or
	// RGBA8. Default is BGRA8.
	ColorFormat ImageFormat
	// ReclaimThresholdBytes tunes the periodic GC and the reclaim policy.
	// Default is 10MiB.
	ReclaimThresholdBytes uint64
	// PressureBytes is the GPU allocation at which pressure-scaled eviction
	// thresholds collapse to "now". Default is 500MiB.
	PressureBytes uint64
	// DebugFlags is the initial set of debug flags.
	DebugFlags DebugFlags
	// Logger receives structured logs. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
	// MemorySensor reports total GPU bytes allocated. Nil means no pressure.
	MemorySensor MemorySensor
	// ParamStore mirrors placements for shaders. Nil disables mirroring.
	ParamStore ShaderParamStore
}

// withDefaults fills in zero values.
func (c Config) withDefaults() Config {
	if c.MaxTextureLayers <= 0 {
		c.MaxTextureLayers = DefaultMaxTextureLayers
	}
	c.MaxTextureLayers = clampTextureLayers(c.MaxTextureLayers)
	if c.ColorFormat == 0 {
		c.ColorFormat = FormatBGRA8
	}
	if !isColor8(c.ColorFormat) {
		panic("texcache: ColorFormat must be BGRA8 or RGBA8, got " + c.ColorFormat.String())
	}
	if c.ReclaimThresholdBytes == 0 {
		c.ReclaimThresholdBytes = DefaultReclaimThresholdBytes
	}
	if c.PressureBytes == 0 {
		c.PressureBytes = DefaultPressureBytes
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger().WithField("component", "texcache")
	}
	if c.ParamStore == nil {
		c.ParamStore = nopParamStore{}
	}
	return c
}
