package texcache

import (
	"fmt"
	"sync/atomic"
)

// EvictionPolicy controls when an unused entry may be reclaimed.
type EvictionPolicy int

const (
	// EvictAuto entries are reclaimed once they are older than the active
	// eviction threshold.
	EvictAuto EvictionPolicy = iota
	// EvictManual entries are never reclaimed by a threshold. Only Clear
	// removes them.
	EvictManual
	// EvictEager entries are reclaimed after one full frame without use.
	// Render task outputs use this.
	EvictEager
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictAuto:
		return "auto"
	case EvictManual:
		return "manual"
	case EvictEager:
		return "eager"
	}
	return fmt.Sprintf("EvictionPolicy(%d)", int(p))
}

// ParseEvictionPolicy is the inverse of EvictionPolicy.String.
func ParseEvictionPolicy(s string) (EvictionPolicy, bool) {
	for p := EvictAuto; p <= EvictEager; p++ {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// UVRectKind is forwarded untouched to the shader parameter store.
type UVRectKind int

const (
	// UVRectKindRect samples the placement as an axis-aligned rectangle.
	UVRectKindRect UVRectKind = iota
	// UVRectKindQuad samples it through a caller-supplied quad.
	UVRectKindQuad
)

// EvictionNotice lets a caller poll whether an entry it depends on was
// evicted without resolving the handle.
type EvictionNotice struct {
	evicted atomic.Bool
}

// NewEvictionNotice returns a notice that has not fired.
func NewEvictionNotice() *EvictionNotice {
	return &EvictionNotice{}
}

// Notify marks the notice as fired.
func (n *EvictionNotice) Notify() {
	n.evicted.Store(true)
}

// Check reports whether the notice fired since the last Check, and resets it.
func (n *EvictionNotice) Check() bool {
	return n.evicted.Swap(false)
}

// IsEvicted reports whether the notice fired without resetting it.
func (n *EvictionNotice) IsEvicted() bool {
	return n.evicted.Load()
}

type placementKind int

const (
	placementStandalone placementKind = iota
	placementShared
)

func (k placementKind) String() string {
	if k == placementShared {
		return "shared"
	}
	return "standalone"
}

// placement says where an entry's pixels live. Origin and layer are only
// meaningful for shared placements.
type placement struct {
	kind   placementKind
	origin Point
	layer  int
}

// describe returns the layer index and origin to address the entry with.
// Standalone entries always sit at the origin of layer zero.
func (p placement) describe() (int, Point) {
	switch p.kind {
	case placementShared:
		return p.layer, p.origin
	case placementStandalone:
		return 0, Point{}
	}
	panic(fmt.Sprintf("texcache: bad placement kind %d", int(p.kind)))
}

// CacheEntry is the bookkeeping for one cached item.
type CacheEntry struct {
	size       Size
	format     ImageFormat
	filter     TextureFilter
	placement  placement
	textureID  TextureID
	lastAccess FrameStamp
	eviction   EvictionPolicy
	userParams [3]float32
	uvKind     UVRectKind
	notice     *EvictionNotice
	param      ParamHandle
}

func newStandaloneEntry(id TextureID, now FrameStamp, params *allocParams) *CacheEntry {
	return &CacheEntry{
		size:       params.descriptor.Size,
		format:     params.descriptor.Format,
		filter:     params.filter,
		placement:  placement{kind: placementStandalone},
		textureID:  id,
		lastAccess: now,
		eviction:   EvictAuto,
		userParams: params.userParams,
		uvKind:     params.uvKind,
	}
}

// byteSize is the GPU storage the entry's pixels occupy.
func (e *CacheEntry) byteSize() uint64 {
	return uint64(e.size.Area() * e.format.BytesPerPixel())
}

// refreshParams writes the entry's placement to the shader parameter store if
// the store asks for it.
func (e *CacheEntry) refreshParams(store ShaderParamStore) {
	if !store.Request(&e.param) {
		return
	}
	layer, origin := e.placement.describe()
	far := origin.Add(e.size)
	store.Write(e.param, ShaderParams{
		P0:         [2]float32{float32(origin.X), float32(origin.Y)},
		P1:         [2]float32{float32(far.X), float32(far.Y)},
		Layer:      float32(layer),
		UserParams: e.userParams,
		UVRectKind: e.uvKind,
	})
}

func (e *CacheEntry) evict() {
	if e.notice != nil {
		e.notice.Notify()
	}
}

func isColor8(f ImageFormat) bool {
	return f == FormatBGRA8 || f == FormatRGBA8
}
