package texcache

import (
	"fmt"

	"github.com/google/btree"
)

// slabSlot is the column/row coordinate of a slab inside its region.
type slabSlot struct {
	x, y int
}

// slots are ordered row-major so that allocation fills a region from the
// top-left corner.
func slotLess(a, b slabSlot) bool {
	if a.y != b.y {
		return a.y < b.y
	}
	return a.x < b.x
}

const freeSlotDegree = 8

// textureRegion is a slab allocator over one layer of a texture array.
//
// A region is either uninitialized (invalid slab size, no free slots) and
// usable for any slab size, or initialized for exactly one slab size. It goes
// back to uninitialized when its last occupied slab is freed.
type textureRegion struct {
	layer     int
	slabSize  SlabSize
	freeSlots *btree.BTreeG[slabSlot]
	total     int
}

func newTextureRegion(layer int) *textureRegion {
	return &textureRegion{
		layer:     layer,
		freeSlots: btree.NewG[slabSlot](freeSlotDegree, slotLess),
	}
}

// init partitions the region into slabs of the given size. emptyRegions is the
// owning array's count of uninitialized regions.
func (r *textureRegion) init(slab SlabSize, emptyRegions *int) {
	if r.slabSize.IsValid() || r.freeSlots.Len() != 0 {
		panic(fmt.Sprintf("texcache: region %d initialized twice (%s -> %s)", r.layer, r.slabSize, slab))
	}
	if !slab.IsValid() {
		panic("texcache: region initialized with invalid slab size")
	}

	r.slabSize = slab
	perX := RegionDimensions / slab.Width
	perY := RegionDimensions / slab.Height
	for y := 0; y < perY; y++ {
		for x := 0; x < perX; x++ {
			r.freeSlots.ReplaceOrInsert(slabSlot{x: x, y: y})
		}
	}
	r.total = r.freeSlots.Len()
	*emptyRegions--
}

// deinit returns the region to the uninitialized state.
func (r *textureRegion) deinit(emptyRegions *int) {
	r.slabSize = SlabSize{}
	r.freeSlots.Clear(true)
	r.total = 0
	*emptyRegions++
}

func (r *textureRegion) isEmpty() bool {
	return !r.slabSize.IsValid()
}

// occupied returns the number of slabs currently handed out.
func (r *textureRegion) occupied() int {
	return r.total - r.freeSlots.Len()
}

// alloc hands out one free slab and returns its origin in the layer.
func (r *textureRegion) alloc() (Point, bool) {
	if !r.slabSize.IsValid() {
		panic(fmt.Sprintf("texcache: alloc from uninitialized region %d", r.layer))
	}
	slot, ok := r.freeSlots.DeleteMin()
	if !ok {
		return Point{}, false
	}
	return Point{X: slot.x * r.slabSize.Width, Y: slot.y * r.slabSize.Height}, true
}

// free releases the slab at origin. When this empties the region it is
// deinitialized so that it can take a different slab size.
func (r *textureRegion) free(origin Point, emptyRegions *int) {
	if !r.slabSize.IsValid() {
		panic(fmt.Sprintf("texcache: free in uninitialized region %d", r.layer))
	}
	slot := slabSlot{x: origin.X / r.slabSize.Width, y: origin.Y / r.slabSize.Height}
	if _, existed := r.freeSlots.ReplaceOrInsert(slot); existed {
		panic(fmt.Sprintf("texcache: double free of slab (%d,%d) in region %d", origin.X, origin.Y, r.layer))
	}
	if r.freeSlots.Len() == r.total {
		r.deinit(emptyRegions)
	}
}
