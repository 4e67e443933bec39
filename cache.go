package texcache

// MemorySensor reports the total bytes of GPU memory currently allocated. The
// GPU executor maintains the counter; the cache only reads it.
type MemorySensor interface {
	GPUBytesAllocated() uint64
}

// ParamHandle is an opaque reference into a ShaderParamStore. The zero value
// is unassigned; stores assign handles in Request.
type ParamHandle uint64

// ShaderParams is the record the shader parameter store mirrors for one entry:
// the placement rectangle P0..P1 inside its texture, the layer it lives on and
// the caller's user parameters.
type ShaderParams struct {
	P0         [2]float32
	P1         [2]float32
	Layer      float32
	UserParams [3]float32
	UVRectKind UVRectKind
}

// ShaderParamStore mirrors entry placements for consumption by shaders.
type ShaderParamStore interface {
	// Request reports whether the record behind handle has to be written this
	// frame. It assigns the handle if it is unassigned.
	Request(handle *ParamHandle) bool
	// Write stores the record for handle.
	Write(handle ParamHandle, params ShaderParams)
	// Invalidate forces the next Request for handle to report true.
	Invalidate(handle ParamHandle)
}

// nopParamStore is used when no store is configured.
type nopParamStore struct{}

func (nopParamStore) Request(*ParamHandle) bool { return false }

func (nopParamStore) Write(ParamHandle, ShaderParams) {}

func (nopParamStore) Invalidate(ParamHandle) {}

// ArrayProfile is the per-frame occupancy of one shared texture array.
type ArrayProfile struct {
	Name        string
	Layers      int
	EmptyLayers int
	Bytes       uint64
	// OccupiedSlabs and TotalSlabs count slabs across initialized regions.
	OccupiedSlabs int
	TotalSlabs    int
}

// FrameProfile is what EndFrame reports to a ProfileSink.
type FrameProfile struct {
	Frame           FrameID
	Arrays          []ArrayProfile
	StandaloneCount int
	StandaloneBytes uint64
	// SharedFallbacks counts, over the cache's lifetime, shared-eligible items
	// that got standalone storage because their array was at the layer cap.
	SharedFallbacks uint64
}

// ProfileSink receives occupancy counters at the end of each frame.
type ProfileSink interface {
	RecordFrame(profile FrameProfile)
}

// Stats provides information about cache occupancy.
type Stats struct {
	// Entries is the number of live entries
	Entries int
	// StandaloneEntries is the number of entries with a dedicated texture
	StandaloneEntries int
	// SharedEntries is the number of entries placed in a shared array
	SharedEntries int
	// StandaloneBytes is the storage used by standalone textures
	StandaloneBytes uint64
	// SharedBytes is the storage allocated for all shared arrays
	SharedBytes uint64
	// EmptyRegionBytes is the part of SharedBytes sitting in uninitialized regions
	EmptyRegionBytes uint64
	// SharedFallbacks counts shared-eligible items that were placed standalone
	// because their array could not grow
	SharedFallbacks uint64
	// Arrays holds the per-array breakdown
	Arrays []ArrayProfile
	// SlabBreakdown maps slab size -> number of regions initialized to it
	SlabBreakdown map[SlabSize]int
}

// DebugFlags toggle debugging behavior.
type DebugFlags uint32

const (
	// DebugClearEvicted emits a debug clear command for every freed slab.
	DebugClearEvicted DebugFlags = 1 << iota
)

// ImageData is the source of an upload: raw bytes or an external image.
type ImageData struct {
	Bytes    []byte
	External *ExternalImage
}

// DirtyRect is the part of an item whose pixels changed. The zero value
// covers the whole item.
type DirtyRect struct {
	Partial bool
	Rect    Rect
}

// DirtyAll marks the whole item as changed.
var DirtyAll = DirtyRect{}

// DirtyPartial marks a sub-rectangle of the item, in item coordinates.
func DirtyPartial(r Rect) DirtyRect {
	return DirtyRect{Partial: true, Rect: r}
}
