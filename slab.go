package texcache

import "fmt"

// RegionDimensions is the width and height of one texture region, i.e. one
// layer of a shared texture array.
const RegionDimensions = 512

// SlabSize is the uniform shape of every slab in a region.
// The zero value is the invalid size held by uninitialized regions.
type SlabSize struct {
	Width  int
	Height int
}

// rectangular slab shapes, matched exactly after each side is rounded up.
var rectSlabs = [...]SlabSize{
	{512, 256},
	{512, 128},
	{512, 64},
	{256, 512},
	{128, 512},
	{64, 512},
}

// QuantizeSlab maps a requested item size to the slab shape it is stored in.
//
// Each side is rounded up to the next step of 16, 32, 64, 128, 256 or 512.
// If the rounded pair is one of the rectangular shapes it is used as is,
// otherwise the item gets a square slab sized to its larger rounded side.
// Sizes with a side of zero or above RegionDimensions are not cacheable in a
// region and panic.
func QuantizeSlab(size Size) SlabSize {
	w := quantizeDimension(size.Width)
	h := quantizeDimension(size.Height)

	rounded := SlabSize{Width: w, Height: h}
	for _, s := range rectSlabs {
		if s == rounded {
			return s
		}
	}

	side := max(w, h)
	return SlabSize{Width: side, Height: side}
}

func quantizeDimension(v int) int {
	switch {
	case v <= 0:
		panic(fmt.Sprintf("texcache: cannot quantize dimension %d", v))
	case v <= 16:
		return 16
	case v <= 32:
		return 32
	case v <= 64:
		return 64
	case v <= 128:
		return 128
	case v <= 256:
		return 256
	case v <= RegionDimensions:
		return RegionDimensions
	}
	panic(fmt.Sprintf("texcache: dimension %d exceeds region size %d", v, RegionDimensions))
}

// IsValid reports whether s is a real slab shape.
func (s SlabSize) IsValid() bool {
	return s.Width > 0 && s.Height > 0
}

// SlotsPerRegion returns how many slabs of this shape fit in one region.
func (s SlabSize) SlotsPerRegion() int {
	if !s.IsValid() {
		return 0
	}
	return (RegionDimensions / s.Width) * (RegionDimensions / s.Height)
}

// Size converts the slab shape to a Size.
func (s SlabSize) Size() Size {
	return Size{Width: s.Width, Height: s.Height}
}

func (s SlabSize) String() string {
	if !s.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}
