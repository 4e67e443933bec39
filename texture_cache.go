package texcache

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const (
	defaultEvictionFrames = 200
	defaultEvictionTime   = 3 * time.Second

	periodicEvictionFrames = 1
	periodicEvictionTime   = 10 * time.Second
)

// UpdateRequest describes the content Update stores behind a handle.
type UpdateRequest struct {
	Descriptor ImageDescriptor
	Filter     TextureFilter
	// Data is nil when the caller only wants storage, e.g. for a render
	// target the GPU will draw into.
	Data       *ImageData
	UserParams [3]float32
	// Dirty limits the upload when the entry keeps its storage. It is ignored
	// after a reallocation, which always uploads the whole item.
	Dirty      DirtyRect
	Notice     *EvictionNotice
	Policy     EvictionPolicy
	UVRectKind UVRectKind
}

// CacheItem is where a requested entry lives this frame.
type CacheItem struct {
	Texture TextureID
	Layer   int
	UVRect  Rect
	Param   ParamHandle
}

// TextureCache places images in GPU textures, either packed into one of the
// shared texture arrays or in a texture of their own, and evicts what has not
// been used recently. It is driven once per frame: BeginFrame, any number of
// Request/Update/Get calls, EndFrame. The commands it produces are drained
// with PendingUpdates and must be applied before drawing the frame.
//
// TextureCache is not safe for concurrent use.
type TextureCache struct {
	config Config
	log    logrus.FieldLogger

	arrays  *sharedTextures
	entries *freeList[CacheEntry]
	// standalone and shared own every live entry; each strong handle is in
	// exactly one of them, matching the entry's placement kind.
	standalone []strongHandle
	shared     []strongHandle

	pending    *TextureUpdateList
	nextID     TextureID
	now        FrameStamp
	debugFlags DebugFlags

	lastSharedExpiration FrameStamp
	// reclaimSince is when empty shared storage first crossed the reclaim
	// threshold; zero when it is below.
	reclaimSince    time.Time
	sharedFallbacks uint64
}

// NewTextureCache returns an empty cache. No texture exists until the first
// allocation.
func NewTextureCache(config Config) *TextureCache {
	config = config.withDefaults()
	c := &TextureCache{
		config:     config,
		log:        config.Logger,
		arrays:     newSharedTextures(config.ColorFormat),
		entries:    newFreeList[CacheEntry](),
		pending:    NewTextureUpdateList(),
		debugFlags: config.DebugFlags,
	}
	c.log.WithFields(logrus.Fields{
		"max_layers":        config.MaxTextureLayers,
		"color_format":      config.ColorFormat,
		"reclaim_threshold": humanize.IBytes(config.ReclaimThresholdBytes),
	}).Debug("texture cache created")
	return c
}

// MaxTextureLayers is the effective layer cap of each shared array after
// the platform clamp.
func (c *TextureCache) MaxTextureLayers() int {
	return c.config.MaxTextureLayers
}

// BeginFrame starts a frame. It runs the periodic shared-memory GC and the
// reclaim policy before any request of the frame is served.
func (c *TextureCache) BeginFrame(stamp FrameStamp) {
	if !stamp.IsValid() {
		panic("texcache: BeginFrame with an invalid frame stamp")
	}
	if c.now.IsValid() {
		panic(fmt.Sprintf("texcache: BeginFrame(%d) while frame %d is open", stamp.FrameID, c.now.FrameID))
	}
	c.now = stamp
	c.maybeDoPeriodicGC()
	c.maybeReclaimSharedMemory()
}

// EndFrame expires unused standalone entries, reports the frame's profile to
// sink (which may be nil) and closes the frame.
func (c *TextureCache) EndFrame(sink ProfileSink) {
	c.assertInFrame()
	if n := c.expireOldEntries(placementStandalone, c.defaultEviction(), nil); n > 0 {
		c.log.WithFields(logrus.Fields{"frame": c.now.FrameID, "evicted": n}).Debug("expired standalone entries")
	}
	if sink != nil {
		sink.RecordFrame(c.frameProfile())
	}
	c.now = FrameStampInvalid
}

// Request marks the entry behind h as used this frame and refreshes its
// shader parameters. It reports true when the caller must call Update because
// the handle was never updated or the entry was evicted.
func (c *TextureCache) Request(h Handle) bool {
	c.assertInFrame()
	e := c.entries.get(h)
	if e == nil {
		return true
	}
	e.lastAccess = c.now
	e.refreshParams(c.config.ParamStore)
	return false
}

// NeedsUpload reports whether the handle does not resolve to a live entry.
func (c *TextureCache) NeedsUpload(h Handle) bool {
	return c.entries.get(h) == nil
}

// IsAllocated reports whether the handle resolves to a live entry.
func (c *TextureCache) IsAllocated(h Handle) bool {
	return c.entries.get(h) != nil
}

// Update stores content behind *h. Storage is (re)allocated when *h does not
// resolve, or when the size, format or filter changed; in that case *h may be
// rewritten and the whole item is uploaded regardless of req.Dirty.
func (c *TextureCache) Update(h *Handle, req UpdateRequest) {
	c.assertInFrame()
	desc := req.Descriptor
	if desc.Size.IsEmpty() {
		panic(fmt.Sprintf("texcache: Update with empty size %s", desc.Size))
	}

	dirty := req.Dirty
	e := c.entries.get(*h)
	if e == nil || e.size != desc.Size || e.format != desc.Format || e.filter != req.Filter {
		var param ParamHandle
		if e != nil {
			param = e.param
		}
		c.allocate(&allocParams{
			descriptor: desc,
			filter:     req.Filter,
			userParams: req.UserParams,
			uvKind:     req.UVRectKind,
		}, h)
		dirty = DirtyAll
		e = c.entries.get(*h)
		if e == nil {
			panic("texcache: entry missing after allocation")
		}
		// a replaced entry keeps its shader parameter record
		e.param = param
	}

	e.notice = req.Notice
	e.eviction = req.Policy
	e.userParams = req.UserParams
	e.uvKind = req.UVRectKind

	// user params may have changed even when the placement did not
	c.config.ParamStore.Invalidate(e.param)
	e.refreshParams(c.config.ParamStore)

	if req.Data == nil {
		return
	}
	layer, origin := e.placement.describe()
	if up := newUpload(req.Data, desc, origin, e.size, layer, dirty); up != nil {
		c.pending.PushUpload(e.textureID, *up)
	}
}

// MarkUnused makes the entry behind h evictable by the next sweep of its
// kind, whatever its policy was.
func (c *TextureCache) MarkUnused(h Handle) {
	if e := c.entries.get(h); e != nil {
		e.lastAccess = FrameStampInvalid
		e.eviction = EvictAuto
	}
}

// Get returns the location of an entry that was requested or updated in the
// current frame. Asking for anything else is a bug and panics.
func (c *TextureCache) Get(h Handle) CacheItem {
	e := c.requestedEntry(h)
	layer, origin := e.placement.describe()
	return CacheItem{
		Texture: e.textureID,
		Layer:   layer,
		UVRect:  Rect{Origin: origin, Size: e.size},
		Param:   e.param,
	}
}

// GetCacheLocation is Get without the shader parameter handle.
func (c *TextureCache) GetCacheLocation(h Handle) (TextureID, int, Rect) {
	item := c.Get(h)
	return item.Texture, item.Layer, item.UVRect
}

func (c *TextureCache) requestedEntry(h Handle) *CacheEntry {
	c.assertInFrame()
	e := c.entries.get(h)
	if e == nil {
		panic("texcache: handle does not resolve; request it first")
	}
	if e.lastAccess.FrameID != c.now.FrameID {
		panic(fmt.Sprintf("texcache: entry last requested in frame %d, current frame is %d",
			e.lastAccess.FrameID, c.now.FrameID))
	}
	return e
}

// IsAllowedInSharedCache reports whether the cache would consider the shared
// arrays for an item. See the package-level function.
func (c *TextureCache) IsAllowedInSharedCache(filter TextureFilter, desc ImageDescriptor) bool {
	return IsAllowedInSharedCache(filter, desc)
}

// Clear evicts every entry, notifying their eviction notices, and frees all
// textures.
func (c *TextureCache) Clear() {
	standalone := c.clearKind(placementStandalone)
	shared := c.clearKind(placementShared)
	c.arrays.clear(c.pending)
	c.log.WithFields(logrus.Fields{
		"standalone": standalone,
		"shared":     shared,
	}).Info("texture cache cleared")
}

func (c *TextureCache) clearKind(kind placementKind) int {
	list := c.handleList(kind)
	handles := *list
	*list = nil
	for _, h := range handles {
		e := c.entries.free(h)
		e.evict()
		c.free(e)
	}
	return len(handles)
}

// PendingUpdates hands over the commands queued since the last call.
func (c *TextureCache) PendingUpdates() *TextureUpdateList {
	updates := c.pending
	c.pending = NewTextureUpdateList()
	return updates
}

// SetDebugFlags replaces the active debug flags.
func (c *TextureCache) SetDebugFlags(flags DebugFlags) {
	c.debugFlags = flags
}

// DebugFlags returns the active debug flags.
func (c *TextureCache) DebugFlags() DebugFlags {
	return c.debugFlags
}

// Stats returns current occupancy.
func (c *TextureCache) Stats() Stats {
	s := Stats{
		Entries:           c.entries.len(),
		StandaloneEntries: len(c.standalone),
		SharedEntries:     len(c.shared),
		SharedBytes:       c.arrays.sizeInBytes(),
		EmptyRegionBytes:  c.arrays.emptyRegionBytes(),
		SharedFallbacks:   c.sharedFallbacks,
		SlabBreakdown:     make(map[SlabSize]int),
	}
	for _, h := range c.standalone {
		s.StandaloneBytes += c.entries.getStrong(h).byteSize()
	}
	for _, a := range c.arrays.all() {
		s.Arrays = append(s.Arrays, a.profile())
		for _, region := range a.regions {
			if !region.isEmpty() {
				s.SlabBreakdown[region.slabSize]++
			}
		}
	}
	return s
}

func (c *TextureCache) frameProfile() FrameProfile {
	p := FrameProfile{
		Frame:           c.now.FrameID,
		StandaloneCount: len(c.standalone),
		SharedFallbacks: c.sharedFallbacks,
	}
	for _, h := range c.standalone {
		p.StandaloneBytes += c.entries.getStrong(h).byteSize()
	}
	for _, a := range c.arrays.all() {
		p.Arrays = append(p.Arrays, a.profile())
	}
	return p
}

func (c *TextureCache) assertInFrame() {
	if !c.now.IsValid() {
		panic("texcache: called outside of BeginFrame/EndFrame")
	}
}

func (c *TextureCache) handleList(kind placementKind) *[]strongHandle {
	if kind == placementShared {
		return &c.shared
	}
	return &c.standalone
}

func (c *TextureCache) nextTextureID() TextureID {
	c.nextID++
	return c.nextID
}

func (c *TextureCache) thresholdBuilder() *EvictionThresholdBuilder {
	return NewEvictionThresholdBuilder(c.now, c.config.MemorySensor).PressureBytes(c.config.PressureBytes)
}

// defaultEviction keeps entries used in the last 200 frames or 3 seconds,
// less under memory pressure.
func (c *TextureCache) defaultEviction() EvictionThreshold {
	return c.thresholdBuilder().
		MaxFrames(defaultEvictionFrames).
		MaxTime(defaultEvictionTime).
		ScaleByPressure().
		Build()
}

// probeEviction is used when an array is at its layer cap: anything not used
// this frame or the last goes.
func (c *TextureCache) probeEviction() EvictionThreshold {
	return c.thresholdBuilder().MaxFrames(1).Build()
}

func (c *TextureCache) periodicEviction() EvictionThreshold {
	return c.thresholdBuilder().
		MaxFrames(periodicEvictionFrames).
		MaxTime(periodicEvictionTime).
		Build()
}

// allocate places new storage behind *h. If *h resolves, the entry is
// replaced in place, moving its strong handle to the other list when the
// placement kind changed, and the old storage is freed. Otherwise a new
// entry is inserted and *h is set to it.
func (c *TextureCache) allocate(params *allocParams, h *Handle) {
	entry := c.allocateCacheEntry(params)
	kind := entry.placement.kind

	res := c.entries.upsert(*h, entry)
	if res.old == nil {
		list := c.handleList(kind)
		*list = append(*list, res.inserted)
		*h = res.inserted.weak()
		return
	}

	if oldKind := res.old.placement.kind; oldKind != kind {
		from, to := c.handleList(oldKind), c.handleList(kind)
		idx := -1
		for i, sh := range *from {
			if sh.weak() == *h {
				idx = i
				break
			}
		}
		if idx < 0 {
			panic(fmt.Sprintf("texcache: %s entry missing from its list", oldKind))
		}
		sh := (*from)[idx]
		last := len(*from) - 1
		(*from)[idx] = (*from)[last]
		*from = (*from)[:last]
		*to = append(*to, sh)
	}
	c.free(res.old)
}

// allocateCacheEntry picks storage for an item:
//  1. ineligible items go standalone;
//  2. the item's shared array is tried as is;
//  3. the array's unused entries are evicted and the allocation retried;
//  4. the array grows by a layer if it is below the cap;
//  5. otherwise the item falls back to standalone storage.
func (c *TextureCache) allocateCacheEntry(params *allocParams) *CacheEntry {
	desc := params.descriptor
	if !IsAllowedInSharedCache(params.filter, desc) {
		return c.allocateStandalone(params)
	}

	array := c.arrays.selectArray(desc.Format, params.filter)
	if e, ok := c.allocateFromArray(array, params); ok {
		return e
	}

	threshold := c.defaultEviction()
	if len(array.regions) >= c.config.MaxTextureLayers {
		threshold = c.probeEviction()
	}
	inArray := func(e *CacheEntry) bool {
		return c.arrays.selectArray(e.format, e.filter) == array
	}
	if c.expireOldEntries(placementShared, threshold, inArray) > 0 {
		if e, ok := array.alloc(params, c.now); ok {
			return e
		}
	}

	if len(array.regions) < c.config.MaxTextureLayers {
		array.pushRegion()
		c.pending.PushRealloc(array.textureID, array.allocInfo())
		c.log.WithFields(logrus.Fields{
			"array":  array.name,
			"layers": len(array.regions),
			"bytes":  humanize.IBytes(array.sizeInBytes()),
		}).Debug("grew shared texture array")
		e, ok := array.alloc(params, c.now)
		if !ok {
			panic(fmt.Sprintf("texcache: %s: allocation failed after adding a layer", array.name))
		}
		return e
	}

	c.sharedFallbacks++
	c.log.WithFields(logrus.Fields{
		"array":  array.name,
		"layers": len(array.regions),
		"size":   desc.Size.String(),
	}).Debug("shared array full, using a standalone texture")
	return c.allocateStandalone(params)
}

// allocateFromArray tries the array, creating its texture with a single
// layer on first use.
func (c *TextureCache) allocateFromArray(array *textureArray, params *allocParams) (*CacheEntry, bool) {
	if array.textureID == 0 {
		array.textureID = c.nextTextureID()
		array.pushRegion()
		c.pending.PushAlloc(array.textureID, array.allocInfo())
	}
	return array.alloc(params, c.now)
}

func (c *TextureCache) allocateStandalone(params *allocParams) *CacheEntry {
	id := c.nextTextureID()
	c.pending.PushAlloc(id, AllocInfo{
		Width:      params.descriptor.Size.Width,
		Height:     params.descriptor.Size.Height,
		Format:     params.descriptor.Format,
		Filter:     params.filter,
		LayerCount: 1,
	})
	return newStandaloneEntry(id, c.now, params)
}

// expireOldEntries evicts entries of one kind that fall below threshold and,
// when match is set, satisfy it. It returns the number evicted.
func (c *TextureCache) expireOldEntries(kind placementKind, threshold EvictionThreshold, match func(*CacheEntry) bool) int {
	list := c.handleList(kind)
	evicted := 0
	for i := 0; i < len(*list); {
		h := (*list)[i]
		e := c.entries.getStrong(h)
		if (match != nil && !match(e)) || !shouldEvict(e, threshold, c.now) {
			i++
			continue
		}
		last := len(*list) - 1
		(*list)[i] = (*list)[last]
		*list = (*list)[:last]
		c.entries.free(h)
		e.evict()
		c.free(e)
		evicted++
	}
	if kind == placementShared {
		c.lastSharedExpiration = c.now
	}
	return evicted
}

// free releases an entry's storage. The entry must already be out of the
// arena and the ownership lists.
func (c *TextureCache) free(e *CacheEntry) {
	switch e.placement.kind {
	case placementStandalone:
		c.pending.PushFree(e.textureID)
	case placementShared:
		array := c.arrays.selectArray(e.format, e.filter)
		if c.debugFlags&DebugClearEvicted != 0 {
			region := array.regions[e.placement.layer]
			c.pending.PushDebugClear(array.textureID, DebugClear{
				Origin: e.placement.origin,
				Size:   region.slabSize.Size(),
				Layer:  e.placement.layer,
			})
		}
		array.free(e.placement)
	}
}

// maybeDoPeriodicGC sweeps the shared arrays when no sweep ran for a while
// and they hold at least twice the reclaim threshold.
func (c *TextureCache) maybeDoPeriodicGC() {
	if c.lastSharedExpiration.IsValid() && c.now.Time.Sub(c.lastSharedExpiration.Time) < reclaimDelay {
		return
	}
	if c.arrays.sizeInBytes() < 2*c.config.ReclaimThresholdBytes {
		return
	}
	n := c.expireOldEntries(placementShared, c.periodicEviction(), nil)
	c.log.WithFields(logrus.Fields{
		"frame":   c.now.FrameID,
		"evicted": n,
		"shared":  humanize.IBytes(c.arrays.sizeInBytes()),
	}).Debug("periodic shared texture GC")
}

// maybeReclaimSharedMemory clears the whole cache once empty shared storage
// has stayed at or above the reclaim threshold for reclaimDelay. The arrays
// never shrink otherwise, so this is how their memory is returned.
func (c *TextureCache) maybeReclaimSharedMemory() {
	empty := c.arrays.emptyRegionBytes()
	if empty < c.config.ReclaimThresholdBytes {
		c.reclaimSince = time.Time{}
		return
	}
	if c.reclaimSince.IsZero() {
		c.reclaimSince = c.now.Time
		return
	}
	if c.now.Time.Sub(c.reclaimSince) < reclaimDelay {
		return
	}
	c.log.WithFields(logrus.Fields{
		"empty":  humanize.IBytes(empty),
		"shared": humanize.IBytes(c.arrays.sizeInBytes()),
	}).Info("reclaiming shared texture memory")
	c.Clear()
	c.reclaimSince = time.Time{}
}
