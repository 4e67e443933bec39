package texcache

import "fmt"

// allocParams carries what an allocation needs to know about an item.
type allocParams struct {
	descriptor ImageDescriptor
	filter     TextureFilter
	userParams [3]float32
	uvKind     UVRectKind
}

// textureArray is one shared atlas: a layered texture of RegionDimensions
// square layers, each layer managed by a textureRegion. Regions are only ever
// appended; emptying a region deinitializes it in place.
type textureArray struct {
	name         string
	format       ImageFormat
	filter       TextureFilter
	regions      []*textureRegion
	emptyRegions int
	// textureID is zero until the backing texture is created.
	textureID TextureID
}

func newTextureArray(name string, format ImageFormat, filter TextureFilter) *textureArray {
	return &textureArray{name: name, format: format, filter: filter}
}

func (a *textureArray) pushRegion() {
	a.regions = append(a.regions, newTextureRegion(len(a.regions)))
	a.emptyRegions++
}

// allocInfo describes the backing texture with the current layer count.
func (a *textureArray) allocInfo() AllocInfo {
	return AllocInfo{
		Width:      RegionDimensions,
		Height:     RegionDimensions,
		Format:     a.format,
		Filter:     a.filter,
		LayerCount: len(a.regions),
		IsShared:   true,
	}
}

// alloc places an item in the array. It prefers an initialized region of the
// matching slab size with a free slot, then falls back to the first empty
// region. It never grows the array; on failure the caller evicts or grows and
// retries.
func (a *textureArray) alloc(params *allocParams, now FrameStamp) (*CacheEntry, bool) {
	slab := QuantizeSlab(params.descriptor.Size)

	var (
		found  bool
		origin Point
		layer  int
		empty  *textureRegion
	)
	for _, region := range a.regions {
		if region.isEmpty() {
			if empty == nil {
				empty = region
			}
			continue
		}
		if region.slabSize != slab {
			continue
		}
		if origin, found = region.alloc(); found {
			layer = region.layer
			break
		}
	}

	if !found && empty != nil {
		empty.init(slab, &a.emptyRegions)
		origin, found = empty.alloc()
		layer = empty.layer
	}
	if !found {
		return nil, false
	}

	return &CacheEntry{
		size:       params.descriptor.Size,
		format:     params.descriptor.Format,
		filter:     params.filter,
		placement:  placement{kind: placementShared, origin: origin, layer: layer},
		textureID:  a.textureID,
		lastAccess: now,
		eviction:   EvictAuto,
		userParams: params.userParams,
		uvKind:     params.uvKind,
	}, true
}

// free releases the slab of a shared placement.
func (a *textureArray) free(p placement) {
	if p.layer >= len(a.regions) {
		panic(fmt.Sprintf("texcache: %s: free on layer %d of %d", a.name, p.layer, len(a.regions)))
	}
	a.regions[p.layer].free(p.origin, &a.emptyRegions)
}

// clear drops every region and frees the backing texture.
func (a *textureArray) clear(updates *TextureUpdateList) {
	a.regions = nil
	a.emptyRegions = 0
	if a.textureID != 0 {
		updates.PushFree(a.textureID)
		a.textureID = 0
	}
}

func (a *textureArray) layerBytes() uint64 {
	return uint64(RegionDimensions * RegionDimensions * a.format.BytesPerPixel())
}

func (a *textureArray) sizeInBytes() uint64 {
	return uint64(len(a.regions)) * a.layerBytes()
}

func (a *textureArray) emptyRegionBytes() uint64 {
	return uint64(a.emptyRegions) * a.layerBytes()
}

func (a *textureArray) profile() ArrayProfile {
	p := ArrayProfile{
		Name:        a.name,
		Layers:      len(a.regions),
		EmptyLayers: a.emptyRegions,
		Bytes:       a.sizeInBytes(),
	}
	for _, region := range a.regions {
		p.OccupiedSlabs += region.occupied()
		p.TotalSlabs += region.total
	}
	return p
}

// sharedTextures is the fixed set of shared arrays, one per supported
// format/filter pair.
type sharedTextures struct {
	alpha8Linear  *textureArray
	alpha16Linear *textureArray
	color8Linear  *textureArray
	color8Nearest *textureArray
}

func newSharedTextures(colorFormat ImageFormat) *sharedTextures {
	return &sharedTextures{
		alpha8Linear:  newTextureArray("alpha8_linear", FormatR8, FilterLinear),
		alpha16Linear: newTextureArray("alpha16_linear", FormatR16, FilterLinear),
		color8Linear:  newTextureArray("color8_linear", colorFormat, FilterLinear),
		color8Nearest: newTextureArray("color8_nearest", colorFormat, FilterNearest),
	}
}

func (s *sharedTextures) all() []*textureArray {
	return []*textureArray{s.alpha8Linear, s.alpha16Linear, s.color8Linear, s.color8Nearest}
}

// selectArray returns the array holding items of the given format and filter.
// Only combinations accepted by IsAllowedInSharedCache are valid.
func (s *sharedTextures) selectArray(format ImageFormat, filter TextureFilter) *textureArray {
	switch format {
	case FormatR8:
		if filter == FilterLinear {
			return s.alpha8Linear
		}
	case FormatR16:
		if filter == FilterLinear {
			return s.alpha16Linear
		}
	case FormatBGRA8, FormatRGBA8:
		switch filter {
		case FilterLinear:
			return s.color8Linear
		case FilterNearest:
			return s.color8Nearest
		}
	}
	panic(fmt.Sprintf("texcache: no shared array for %s/%s", format, filter))
}

func (s *sharedTextures) clear(updates *TextureUpdateList) {
	for _, a := range s.all() {
		a.clear(updates)
	}
}

func (s *sharedTextures) sizeInBytes() uint64 {
	var n uint64
	for _, a := range s.all() {
		n += a.sizeInBytes()
	}
	return n
}

func (s *sharedTextures) emptyRegionBytes() uint64 {
	var n uint64
	for _, a := range s.all() {
		n += a.emptyRegionBytes()
	}
	return n
}

// IsAllowedInSharedCache reports whether an item with this filter and
// descriptor can be placed in the shared atlas. The table is fixed:
//   - RGBAF32 content is always standalone, and RG8 has no shared array.
//   - Trilinear filtering needs mipmaps, which shared arrays do not have.
//   - Nearest filtering is only shared for 8-bit color; alpha arrays are
//     linear only.
//   - Anything larger than a region in either dimension is standalone.
func IsAllowedInSharedCache(filter TextureFilter, desc ImageDescriptor) bool {
	switch desc.Format {
	case FormatRGBAF32, FormatRG8:
		return false
	}
	switch filter {
	case FilterTrilinear:
		return false
	case FilterNearest:
		if desc.Format.BytesPerPixel() != 4 {
			return false
		}
	}
	if desc.Size.Width > RegionDimensions || desc.Size.Height > RegionDimensions {
		return false
	}
	return true
}
