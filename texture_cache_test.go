package texcache

import (
	"runtime"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameInterval = 10 * time.Millisecond

type testCache struct {
	t       *testing.T
	clock   clockwork.FakeClock
	stamper *FrameStamper
	cache   *TextureCache
	logs    *logtest.Hook
}

func newTestCache(t *testing.T, cfg Config) *testCache {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	clock := clockwork.NewFakeClockAt(epoch)
	return &testCache{
		t:       t,
		clock:   clock,
		stamper: NewFrameStamper(clock),
		cache:   NewTextureCache(cfg),
		logs:    hook,
	}
}

func (tc *testCache) begin() FrameStamp {
	stamp := tc.stamper.Next()
	tc.cache.BeginFrame(stamp)
	return stamp
}

func (tc *testCache) end() {
	tc.cache.EndFrame(nil)
	tc.clock.Advance(frameInterval)
}

// frames runs n empty frames.
func (tc *testCache) frames(n int) {
	for i := 0; i < n; i++ {
		tc.begin()
		tc.end()
	}
}

func (tc *testCache) update(h *Handle, w, hgt int, format ImageFormat, filter TextureFilter) {
	desc := ImageDescriptor{Size: Size{w, hgt}, Format: format}
	tc.cache.Update(h, UpdateRequest{
		Descriptor: desc,
		Filter:     filter,
		Data:       &ImageData{Bytes: make([]byte, desc.ComputeTotalSize())},
	})
}

func (tc *testCache) drain() []TextureCommand {
	return tc.cache.PendingUpdates().Commands()
}

// checkLists verifies that every live entry is owned by exactly one list and
// that the list matches its placement.
func (tc *testCache) checkLists() {
	c := tc.cache
	require.Equal(tc.t, c.entries.len(), len(c.standalone)+len(c.shared))
	seen := make(map[strongHandle]bool)
	for _, h := range c.standalone {
		require.False(tc.t, seen[h])
		seen[h] = true
		require.Equal(tc.t, placementStandalone, c.entries.getStrong(h).placement.kind)
	}
	for _, h := range c.shared {
		require.False(tc.t, seen[h])
		seen[h] = true
		require.Equal(tc.t, placementShared, c.entries.getStrong(h).placement.kind)
	}
}

func commandsOf(cmds []TextureCommand, kind CommandKind) []TextureCommand {
	var out []TextureCommand
	for _, cmd := range cmds {
		if cmd.Kind == kind {
			out = append(out, cmd)
		}
	}
	return out
}

func TestTextureCache_SharedAllocation(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	assert.True(t, tc.cache.Request(h))
	tc.update(&h, 40, 20, FormatBGRA8, FilterLinear)
	require.False(t, h.IsZero())
	item := tc.cache.Get(h)
	tc.end()

	cmds := tc.drain()
	require.Len(t, cmds, 2)
	assert.Equal(t, CommandAlloc, cmds[0].Kind)
	assert.True(t, cmds[0].Alloc.IsShared)
	assert.Equal(t, 1, cmds[0].Alloc.LayerCount)
	assert.Equal(t, RegionDimensions, cmds[0].Alloc.Width)
	assert.Equal(t, CommandUpload, cmds[1].Kind)
	assert.Equal(t, NewRect(0, 0, 40, 20), cmds[1].Upload.Rect)

	assert.Equal(t, cmds[0].Texture, item.Texture)
	assert.Equal(t, 0, item.Layer)
	assert.Equal(t, NewRect(0, 0, 40, 20), item.UVRect)

	stats := tc.cache.Stats()
	assert.Equal(t, 1, stats.SharedEntries)
	assert.Equal(t, 1, stats.SlabBreakdown[SlabSize{64, 64}])
	assert.Equal(t, uint64(RegionDimensions*RegionDimensions*4), stats.SharedBytes)
	tc.checkLists()
}

func TestTextureCache_ReallocOnResizeUploadsEverything(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	tc.update(&h, 64, 64, FormatBGRA8, FilterLinear)
	tc.end()
	tc.drain()

	tc.begin()
	require.False(t, tc.cache.Request(h))
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{128, 128}, Format: FormatBGRA8},
		Filter:     FilterLinear,
		Data:       &ImageData{Bytes: make([]byte, 128*128*4)},
		Dirty:      DirtyPartial(NewRect(0, 0, 8, 8)),
	})
	item := tc.cache.Get(h)
	tc.end()

	cmds := tc.drain()
	uploads := commandsOf(cmds, CommandUpload)
	require.Len(t, uploads, 1)
	assert.Equal(t, Size{128, 128}, uploads[0].Upload.Rect.Size, "a reallocated entry is uploaded whole")

	// the 64px region was still occupied when the 128px slab was needed
	reallocs := commandsOf(cmds, CommandRealloc)
	require.Len(t, reallocs, 1)
	assert.Equal(t, 2, reallocs[0].Alloc.LayerCount)
	assert.Equal(t, 1, item.Layer)
	assert.Equal(t, Size{128, 128}, item.UVRect.Size)

	stats := tc.cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(RegionDimensions*RegionDimensions*4), stats.EmptyRegionBytes)
	tc.checkLists()
}

func TestTextureCache_PartialUpdateKeepsStorage(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	tc.update(&h, 100, 100, FormatR8, FilterLinear)
	tc.update(new(Handle), 100, 100, FormatR8, FilterLinear)
	tc.end()
	tc.drain()

	tc.begin()
	tc.cache.Request(h)
	before := tc.cache.Get(h)
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{100, 100}, Format: FormatR8},
		Filter:     FilterLinear,
		Data:       &ImageData{Bytes: make([]byte, 100*100)},
		Dirty:      DirtyPartial(NewRect(90, 10, 50, 5)),
	})
	after := tc.cache.Get(h)
	tc.end()

	assert.Equal(t, before, after)
	cmds := tc.drain()
	require.Len(t, cmds, 1)
	up := cmds[0].Upload
	assert.Equal(t, NewRect(before.UVRect.Origin.X+90, before.UVRect.Origin.Y+10, 10, 5), up.Rect)
	assert.Equal(t, 10*100+90, up.Offset)
}

func TestTextureCache_UpdateWithoutData(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{32, 32}, Format: FormatBGRA8},
		Filter:     FilterLinear,
	})
	tc.end()

	cmds := tc.drain()
	assert.Len(t, commandsOf(cmds, CommandAlloc), 1)
	assert.Empty(t, commandsOf(cmds, CommandUpload))
}

func TestTextureCache_IneligibleGoesStandalone(t *testing.T) {
	tc := newTestCache(t, Config{})
	var photo, big, mip Handle

	tc.begin()
	tc.update(&photo, 64, 64, FormatRGBAF32, FilterLinear)
	tc.update(&big, 600, 20, FormatBGRA8, FilterLinear)
	tc.update(&mip, 64, 64, FormatBGRA8, FilterTrilinear)
	items := []CacheItem{tc.cache.Get(photo), tc.cache.Get(big), tc.cache.Get(mip)}
	tc.end()

	allocs := commandsOf(tc.drain(), CommandAlloc)
	require.Len(t, allocs, 3)
	for i, alloc := range allocs {
		assert.False(t, alloc.Alloc.IsShared)
		assert.Equal(t, 1, alloc.Alloc.LayerCount)
		assert.Equal(t, alloc.Texture, items[i].Texture)
		assert.Equal(t, 0, items[i].Layer)
		assert.Equal(t, Point{}, items[i].UVRect.Origin)
	}
	assert.Equal(t, Size{600, 20}, items[1].UVRect.Size)

	stats := tc.cache.Stats()
	assert.Equal(t, 3, stats.StandaloneEntries)
	assert.Equal(t, uint64(64*64*16+600*20*4+64*64*4), stats.StandaloneBytes)
	assert.Zero(t, stats.SharedBytes)
	tc.checkLists()
}

func TestTextureCache_FallbackWhenArrayFull(t *testing.T) {
	tc := newTestCache(t, Config{MaxTextureLayers: 1})
	var small, large Handle

	tc.begin()
	tc.update(&small, 16, 16, FormatBGRA8, FilterLinear)
	tc.update(&large, 256, 256, FormatBGRA8, FilterLinear)
	smallItem := tc.cache.Get(small)
	largeItem := tc.cache.Get(large)
	tc.end()

	assert.NotEqual(t, smallItem.Texture, largeItem.Texture)
	stats := tc.cache.Stats()
	assert.Equal(t, 1, stats.SharedEntries)
	assert.Equal(t, 1, stats.StandaloneEntries)
	assert.Equal(t, uint64(1), stats.SharedFallbacks)
	assert.Empty(t, commandsOf(tc.drain(), CommandRealloc))

	var found bool
	for _, entry := range tc.logs.AllEntries() {
		if entry.Level == logrus.DebugLevel && entry.Data["array"] == "color8_linear" && entry.Message == "shared array full, using a standalone texture" {
			found = true
		}
	}
	assert.True(t, found, "fallback is logged")
	tc.checkLists()
}

func TestTextureCache_ProbeEvictionAtLayerCap(t *testing.T) {
	tc := newTestCache(t, Config{MaxTextureLayers: 1})
	var old, full Handle
	notice := NewEvictionNotice()

	tc.begin()
	tc.cache.Update(&old, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{256, 256}, Format: FormatBGRA8},
		Filter:     FilterLinear,
		Notice:     notice,
	})
	tc.end()
	tc.frames(1)

	tc.begin()
	tc.update(&full, 512, 512, FormatBGRA8, FilterLinear)
	item := tc.cache.Get(full)
	tc.end()

	assert.True(t, notice.IsEvicted())
	assert.False(t, tc.cache.IsAllocated(old))
	assert.Equal(t, 0, item.Layer)
	assert.Zero(t, tc.cache.Stats().SharedFallbacks)
	tc.checkLists()
}

func TestTextureCache_GrowsOneLayerAtATime(t *testing.T) {
	tc := newTestCache(t, Config{})
	handles := make([]Handle, 3)

	tc.begin()
	for i := range handles {
		tc.update(&handles[i], 512, 512, FormatR8, FilterLinear)
	}
	for i, h := range handles {
		assert.Equal(t, i, tc.cache.Get(h).Layer)
	}
	tc.end()

	cmds := tc.drain()
	reallocs := commandsOf(cmds, CommandRealloc)
	require.Len(t, reallocs, 2)
	assert.Equal(t, 2, reallocs[0].Alloc.LayerCount)
	assert.Equal(t, 3, reallocs[1].Alloc.LayerCount)
	assert.Equal(t, FormatR8, reallocs[1].Alloc.Format)
}

func TestTextureCache_ArraysBySampling(t *testing.T) {
	tc := newTestCache(t, Config{ColorFormat: FormatRGBA8})
	var a, b, c, d Handle

	tc.begin()
	tc.update(&a, 8, 8, FormatR8, FilterLinear)
	tc.update(&b, 8, 8, FormatR16, FilterLinear)
	tc.update(&c, 8, 8, FormatBGRA8, FilterLinear)
	tc.update(&d, 8, 8, FormatRGBA8, FilterNearest)
	textures := map[TextureID]bool{}
	for _, h := range []Handle{a, b, c, d} {
		textures[tc.cache.Get(h).Texture] = true
	}
	tc.end()

	assert.Len(t, textures, 4)
	for _, alloc := range commandsOf(tc.drain(), CommandAlloc) {
		if alloc.Alloc.Format != FormatR8 && alloc.Alloc.Format != FormatR16 {
			assert.Equal(t, FormatRGBA8, alloc.Alloc.Format)
		}
	}
}

func TestTextureCache_KindChangeMovesHandle(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	tc.update(&h, 32, 32, FormatBGRA8, FilterLinear)
	original := h
	tc.checkLists()

	tc.update(&h, 32, 32, FormatRGBAF32, FilterLinear)
	assert.Equal(t, original, h, "replacing an entry keeps its handle")
	tc.checkLists()
	assert.Equal(t, 1, tc.cache.Stats().StandaloneEntries)
	assert.Equal(t, 0, tc.cache.Stats().SharedEntries)

	tc.update(&h, 32, 32, FormatBGRA8, FilterLinear)
	tc.checkLists()
	assert.Equal(t, 1, tc.cache.Stats().SharedEntries)
	tc.end()

	frees := commandsOf(tc.drain(), CommandFree)
	require.Len(t, frees, 1, "the standalone texture is freed")
}

func TestTextureCache_StandaloneExpiry(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle
	notice := NewEvictionNotice()

	tc.begin()
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{64, 64}, Format: FormatRGBAF32},
		Filter:     FilterLinear,
		Notice:     notice,
	})
	tc.end()

	// old in frames but not in time
	tc.frames(250)
	assert.True(t, tc.cache.IsAllocated(h))
	assert.False(t, notice.IsEvicted())

	tc.clock.Advance(4 * time.Second)
	tc.frames(1)
	assert.False(t, tc.cache.IsAllocated(h))
	assert.True(t, notice.Check())
	assert.False(t, notice.Check(), "Check resets the notice")

	tc.begin()
	assert.True(t, tc.cache.Request(h))
	tc.end()
	assert.Len(t, commandsOf(tc.drain(), CommandFree), 1)
}

func TestTextureCache_EagerEntries(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{700, 700}, Format: FormatBGRA8},
		Filter:     FilterLinear,
		Policy:     EvictEager,
	})
	tc.end()

	tc.frames(1)
	assert.True(t, tc.cache.IsAllocated(h), "one frame of grace")
	tc.frames(1)
	assert.False(t, tc.cache.IsAllocated(h))
}

func TestTextureCache_ManualAndMarkUnused(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{700, 700}, Format: FormatBGRA8},
		Filter:     FilterLinear,
		Policy:     EvictManual,
	})
	tc.end()

	tc.clock.Advance(time.Hour)
	tc.frames(300)
	assert.True(t, tc.cache.IsAllocated(h), "manual entries survive any threshold")

	tc.cache.MarkUnused(h)
	tc.frames(1)
	assert.False(t, tc.cache.IsAllocated(h))
	assert.True(t, tc.cache.NeedsUpload(h))
}

func TestTextureCache_MarkUnusedInEarlyFrames(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle
	notice := NewEvictionNotice()

	tc.begin()
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{700, 700}, Format: FormatBGRA8},
		Filter:     FilterLinear,
		Notice:     notice,
	})
	tc.end()

	tc.begin()
	require.False(t, tc.cache.Request(h))
	tc.cache.MarkUnused(h)
	tc.end()

	assert.False(t, tc.cache.IsAllocated(h), "a marked entry goes at the next end of frame")
	assert.True(t, notice.IsEvicted())

	// the same holds once the time cutoff has long passed
	var other Handle
	tc.begin()
	tc.update(&other, 700, 700, FormatBGRA8, FilterLinear)
	tc.end()
	tc.clock.Advance(time.Minute)
	tc.begin()
	tc.cache.MarkUnused(other)
	tc.end()
	assert.False(t, tc.cache.IsAllocated(other))
}

func TestTextureCache_GetRequiresRequest(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	tc.update(&h, 16, 16, FormatR8, FilterLinear)
	tc.end()

	assert.Panics(t, func() { tc.cache.Get(h) }, "outside a frame")

	tc.begin()
	assert.Panics(t, func() { tc.cache.Get(h) }, "not requested this frame")
	require.False(t, tc.cache.Request(h))
	assert.NotPanics(t, func() { tc.cache.Get(h) })
	_, layer, rect := tc.cache.GetCacheLocation(h)
	assert.Equal(t, 0, layer)
	assert.Equal(t, Size{16, 16}, rect.Size)

	tc.cache.MarkUnused(h)
	assert.Panics(t, func() { tc.cache.Get(h) })
	assert.Panics(t, func() { tc.cache.Get(Handle{}) })
	tc.end()
}

func TestTextureCache_FrameProtocol(t *testing.T) {
	tc := newTestCache(t, Config{})
	assert.Panics(t, func() { tc.cache.BeginFrame(FrameStampInvalid) })
	assert.Panics(t, func() { tc.cache.EndFrame(nil) })
	assert.Panics(t, func() { tc.cache.Request(Handle{}) })

	tc.begin()
	assert.Panics(t, func() { tc.cache.BeginFrame(tc.stamper.Next()) })
	assert.Panics(t, func() {
		var h Handle
		tc.cache.Update(&h, UpdateRequest{Descriptor: ImageDescriptor{Format: FormatR8}, Filter: FilterLinear})
	})
}

func TestTextureCache_Clear(t *testing.T) {
	tc := newTestCache(t, Config{})
	notices := []*EvictionNotice{NewEvictionNotice(), NewEvictionNotice()}
	handles := make([]Handle, 2)

	tc.begin()
	for i, format := range []ImageFormat{FormatBGRA8, FormatRGBAF32} {
		tc.cache.Update(&handles[i], UpdateRequest{
			Descriptor: ImageDescriptor{Size: Size{32, 32}, Format: format},
			Filter:     FilterLinear,
			Data:       &ImageData{Bytes: make([]byte, 32*32*format.BytesPerPixel())},
			Notice:     notices[i],
		})
	}
	tc.end()
	tc.drain()

	tc.cache.Clear()
	for i, h := range handles {
		assert.False(t, tc.cache.IsAllocated(h))
		assert.True(t, notices[i].IsEvicted())
	}
	frees := commandsOf(tc.drain(), CommandFree)
	assert.Len(t, frees, 2, "the standalone texture and the shared array")

	stats := tc.cache.Stats()
	assert.Zero(t, stats.Entries)
	assert.Zero(t, stats.SharedBytes)
	tc.checkLists()

	// the cache is usable afterwards, starting with a fresh array texture
	var h Handle
	tc.begin()
	tc.update(&h, 32, 32, FormatBGRA8, FilterLinear)
	tc.end()
	allocs := commandsOf(tc.drain(), CommandAlloc)
	require.Len(t, allocs, 1)
	assert.True(t, allocs[0].Alloc.IsShared)
}

func TestTextureCache_ClearDropsQueuedUploads(t *testing.T) {
	tc := newTestCache(t, Config{})
	var h Handle

	tc.begin()
	tc.update(&h, 32, 32, FormatBGRA8, FilterLinear)
	tc.end()
	tc.cache.Clear()

	cmds := tc.drain()
	assert.Empty(t, commandsOf(cmds, CommandUpload))
	assert.Equal(t, []CommandKind{CommandAlloc, CommandFree}, []CommandKind{cmds[0].Kind, cmds[1].Kind})
}

func TestTextureCache_PeriodicGCAndReclaim(t *testing.T) {
	const layerBytes = RegionDimensions * RegionDimensions * 4
	tc := newTestCache(t, Config{ReclaimThresholdBytes: layerBytes / 4})
	var h Handle
	notice := NewEvictionNotice()

	tc.begin()
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{32, 32}, Format: FormatBGRA8},
		Filter:     FilterLinear,
		Notice:     notice,
	})
	tc.end()

	tc.frames(10)
	assert.True(t, tc.cache.IsAllocated(h), "too recent for the periodic threshold")

	tc.clock.Advance(11 * time.Second)
	tc.frames(1)
	assert.False(t, tc.cache.IsAllocated(h), "periodic GC evicts the idle entry")
	assert.True(t, notice.IsEvicted())

	stats := tc.cache.Stats()
	assert.Equal(t, uint64(layerBytes), stats.SharedBytes, "arrays do not shrink on eviction")
	assert.Equal(t, uint64(layerBytes), stats.EmptyRegionBytes)
	tc.drain()

	// empty storage must stay above the threshold for the reclaim delay
	tc.clock.Advance(4 * time.Second)
	tc.frames(1)
	assert.Equal(t, uint64(layerBytes), tc.cache.Stats().SharedBytes)

	tc.clock.Advance(2 * time.Second)
	tc.frames(1)
	assert.Zero(t, tc.cache.Stats().SharedBytes)
	assert.Len(t, commandsOf(tc.drain(), CommandFree), 1)
}

func TestTextureCache_ReclaimTrackingResets(t *testing.T) {
	const layerBytes = RegionDimensions * RegionDimensions * 4
	tc := newTestCache(t, Config{ReclaimThresholdBytes: layerBytes})
	var a, b Handle

	tc.begin()
	tc.update(&a, 512, 512, FormatBGRA8, FilterLinear)
	tc.update(&b, 512, 512, FormatBGRA8, FilterLinear)
	tc.cache.MarkUnused(b)
	tc.end()

	// the periodic GC evicts b and leaves one empty layer, which starts the
	// reclaim timer; reusing the layer in the same frame stops it
	tc.clock.Advance(6 * time.Second)
	tc.begin()
	assert.False(t, tc.cache.IsAllocated(b))
	assert.Equal(t, uint64(layerBytes), tc.cache.Stats().EmptyRegionBytes)
	tc.cache.Request(a)
	tc.update(&b, 512, 512, FormatBGRA8, FilterLinear)
	tc.end()

	tc.clock.Advance(6 * time.Second)
	tc.begin()
	assert.False(t, tc.cache.Request(a))
	assert.False(t, tc.cache.Request(b))
	tc.end()
	assert.Equal(t, uint64(2*layerBytes), tc.cache.Stats().SharedBytes)
	assert.Zero(t, tc.cache.reclaimSince)
}

func TestTextureCache_DebugClearEvicted(t *testing.T) {
	tc := newTestCache(t, Config{DebugFlags: DebugClearEvicted})
	var h Handle

	tc.begin()
	tc.update(&h, 50, 50, FormatBGRA8, FilterLinear)
	tc.end()
	tc.drain()

	tc.begin()
	tc.update(&h, 200, 200, FormatBGRA8, FilterLinear)
	tc.end()

	clears := commandsOf(tc.drain(), CommandDebugClear)
	require.Len(t, clears, 1)
	assert.Equal(t, Size{64, 64}, clears[0].Clear.Size)
	assert.Equal(t, Point{}, clears[0].Clear.Origin)

	tc.cache.SetDebugFlags(0)
	assert.Zero(t, tc.cache.DebugFlags())
	tc.begin()
	tc.update(&h, 20, 20, FormatBGRA8, FilterLinear)
	tc.end()
	assert.Empty(t, commandsOf(tc.drain(), CommandDebugClear))
}

type recordingParams struct {
	next     ParamHandle
	valid    map[ParamHandle]bool
	written  map[ParamHandle]ShaderParams
	requests int
}

func newRecordingParams() *recordingParams {
	return &recordingParams{valid: map[ParamHandle]bool{}, written: map[ParamHandle]ShaderParams{}}
}

func (p *recordingParams) Request(h *ParamHandle) bool {
	p.requests++
	if *h == 0 {
		p.next++
		*h = p.next
	}
	return !p.valid[*h]
}

func (p *recordingParams) Write(h ParamHandle, params ShaderParams) {
	p.valid[h] = true
	p.written[h] = params
}

func (p *recordingParams) Invalidate(h ParamHandle) {
	delete(p.valid, h)
}

func TestTextureCache_ShaderParams(t *testing.T) {
	params := newRecordingParams()
	tc := newTestCache(t, Config{ParamStore: params})
	var filler, h Handle

	tc.begin()
	tc.update(&filler, 512, 512, FormatBGRA8, FilterLinear)
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{30, 10}, Format: FormatBGRA8},
		Filter:     FilterLinear,
		UserParams: [3]float32{1, 2, 3},
		UVRectKind: UVRectKindQuad,
	})
	item := tc.cache.Get(h)
	tc.end()

	require.NotZero(t, item.Param)
	got := params.written[item.Param]
	assert.Equal(t, [2]float32{0, 0}, got.P0)
	assert.Equal(t, [2]float32{30, 10}, got.P1)
	assert.Equal(t, float32(1), got.Layer)
	assert.Equal(t, [3]float32{1, 2, 3}, got.UserParams)
	assert.Equal(t, UVRectKindQuad, got.UVRectKind)

	// user params refresh without reallocation
	tc.begin()
	tc.cache.Request(h)
	tc.cache.Update(&h, UpdateRequest{
		Descriptor: ImageDescriptor{Size: Size{30, 10}, Format: FormatBGRA8},
		Filter:     FilterLinear,
		UserParams: [3]float32{4, 5, 6},
	})
	assert.Equal(t, item.Param, tc.cache.Get(h).Param)
	tc.end()
	assert.Equal(t, [3]float32{4, 5, 6}, params.written[item.Param].UserParams)
}

type recordingSink struct {
	profiles []FrameProfile
}

func (s *recordingSink) RecordFrame(p FrameProfile) {
	s.profiles = append(s.profiles, p)
}

func TestTextureCache_EndFrameProfile(t *testing.T) {
	tc := newTestCache(t, Config{MaxTextureLayers: 1})
	sink := &recordingSink{}
	var a, b, c Handle

	stamp := tc.begin()
	tc.update(&a, 16, 16, FormatBGRA8, FilterLinear)
	tc.update(&b, 300, 300, FormatBGRA8, FilterLinear)
	tc.update(&c, 64, 64, FormatRGBAF32, FilterLinear)
	tc.cache.EndFrame(sink)

	require.Len(t, sink.profiles, 1)
	p := sink.profiles[0]
	assert.Equal(t, stamp.FrameID, p.Frame)
	assert.Equal(t, 2, p.StandaloneCount)
	assert.Equal(t, uint64(300*300*4+64*64*16), p.StandaloneBytes)
	assert.Equal(t, uint64(1), p.SharedFallbacks)
	require.Len(t, p.Arrays, 4)
	for _, a := range p.Arrays {
		if a.Name == "color8_linear" {
			assert.Equal(t, 1, a.Layers)
			assert.Equal(t, 1, a.OccupiedSlabs)
			assert.Equal(t, 1024, a.TotalSlabs)
		} else {
			assert.Zero(t, a.Layers)
		}
	}
}

func TestTextureCache_PressureShortensLifetime(t *testing.T) {
	tc := newTestCache(t, Config{MemorySensor: fakeSensor(DefaultPressureBytes)})
	var h Handle

	tc.begin()
	tc.update(&h, 64, 64, FormatRGBAF32, FilterLinear)
	tc.end()
	// at full pressure the default threshold is "now"
	tc.frames(1)
	assert.False(t, tc.cache.IsAllocated(h))
}

func TestIsAllowedInSharedCache(t *testing.T) {
	tests := []struct {
		format ImageFormat
		filter TextureFilter
		size   Size
		want   bool
	}{
		{FormatR8, FilterLinear, Size{10, 10}, true},
		{FormatR16, FilterLinear, Size{10, 10}, true},
		{FormatBGRA8, FilterLinear, Size{512, 512}, true},
		{FormatRGBA8, FilterNearest, Size{10, 10}, true},
		{FormatBGRA8, FilterNearest, Size{10, 10}, true},
		{FormatR8, FilterNearest, Size{10, 10}, false},
		{FormatR16, FilterNearest, Size{10, 10}, false},
		{FormatBGRA8, FilterTrilinear, Size{10, 10}, false},
		{FormatRGBAF32, FilterLinear, Size{10, 10}, false},
		{FormatRG8, FilterLinear, Size{10, 10}, false},
		{FormatBGRA8, FilterLinear, Size{513, 10}, false},
		{FormatBGRA8, FilterLinear, Size{10, 513}, false},
	}
	for _, tt := range tests {
		desc := ImageDescriptor{Size: tt.size, Format: tt.format}
		assert.Equal(t, tt.want, IsAllowedInSharedCache(tt.filter, desc), "%s %s %s", tt.format, tt.filter, tt.size)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, FormatBGRA8, cfg.ColorFormat)
	assert.Equal(t, uint64(DefaultReclaimThresholdBytes), cfg.ReclaimThresholdBytes)
	assert.Equal(t, uint64(DefaultPressureBytes), cfg.PressureBytes)
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.ParamStore)

	assert.Panics(t, func() { Config{ColorFormat: FormatR8}.withDefaults() })

	big := NewTextureCache(Config{MaxTextureLayers: 1000, Logger: logrus.New()})
	if runtime.GOOS == "darwin" {
		assert.Equal(t, 32, big.MaxTextureLayers())
	} else {
		assert.Equal(t, 1000, big.MaxTextureLayers())
	}
}
