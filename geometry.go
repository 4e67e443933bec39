package texcache

import "fmt"

// Point is a position in device pixels.
type Point struct {
	X, Y int
}

// Add offsets p by a size, yielding the far corner of a rectangle at p.
func (p Point) Add(s Size) Point {
	return Point{X: p.X + s.Width, Y: p.Y + s.Height}
}

// Size is a width and height in device pixels.
type Size struct {
	Width, Height int
}

// IsEmpty reports whether either dimension is zero or negative.
func (s Size) IsEmpty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Area returns Width*Height.
func (s Size) Area() int {
	return s.Width * s.Height
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Rect is an axis-aligned rectangle in device pixels.
type Rect struct {
	Origin Point
	Size   Size
}

// NewRect builds a rectangle from an origin and a size.
func NewRect(x, y, width, height int) Rect {
	return Rect{Origin: Point{X: x, Y: y}, Size: Size{Width: width, Height: height}}
}

// Max returns the exclusive bottom-right corner.
func (r Rect) Max() Point {
	return r.Origin.Add(r.Size)
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	rm, om := r.Max(), o.Max()
	return o.Origin.X >= r.Origin.X && o.Origin.Y >= r.Origin.Y &&
		om.X <= rm.X && om.Y <= rm.Y
}

// Intersect returns the overlap of r and o, and false when they do not overlap.
func (r Rect) Intersect(o Rect) (Rect, bool) {
	x0 := max(r.Origin.X, o.Origin.X)
	y0 := max(r.Origin.Y, o.Origin.Y)
	x1 := min(r.Max().X, o.Max().X)
	y1 := min(r.Max().Y, o.Max().Y)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}, false
	}
	return NewRect(x0, y0, x1-x0, y1-y0), true
}

func (r Rect) String() string {
	return fmt.Sprintf("%s@(%d,%d)", r.Size, r.Origin.X, r.Origin.Y)
}
