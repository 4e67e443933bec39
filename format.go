package texcache

import (
	"fmt"
	"strings"
)

// ImageFormat is the pixel format of an image or texture.
type ImageFormat int

const (
	// FormatR8 is a single 8-bit channel, used for glyph coverage masks.
	FormatR8 ImageFormat = iota + 1
	// FormatR16 is a single 16-bit channel.
	FormatR16
	// FormatRG8 is two 8-bit channels.
	FormatRG8
	// FormatBGRA8 is 8-bit color in BGRA order.
	FormatBGRA8
	// FormatRGBA8 is 8-bit color in RGBA order.
	FormatRGBA8
	// FormatRGBAF32 is 32-bit float color. Images in this format are large,
	// high precision photographic content and always get a standalone texture.
	FormatRGBAF32
)

// BytesPerPixel returns the storage size of one pixel.
func (f ImageFormat) BytesPerPixel() int {
	switch f {
	case FormatR8:
		return 1
	case FormatR16, FormatRG8:
		return 2
	case FormatBGRA8, FormatRGBA8:
		return 4
	case FormatRGBAF32:
		return 16
	}
	panic(fmt.Sprintf("texcache: unknown image format %d", int(f)))
}

func (f ImageFormat) String() string {
	switch f {
	case FormatR8:
		return "R8"
	case FormatR16:
		return "R16"
	case FormatRG8:
		return "RG8"
	case FormatBGRA8:
		return "BGRA8"
	case FormatRGBA8:
		return "RGBA8"
	case FormatRGBAF32:
		return "RGBAF32"
	}
	return fmt.Sprintf("ImageFormat(%d)", int(f))
}

// ParseImageFormat is the inverse of ImageFormat.String, ignoring case.
func ParseImageFormat(s string) (ImageFormat, bool) {
	for f := FormatR8; f <= FormatRGBAF32; f++ {
		if strings.EqualFold(f.String(), s) {
			return f, true
		}
	}
	return 0, false
}

// TextureFilter is the sampling filter a texture is created with.
type TextureFilter int

const (
	FilterNearest TextureFilter = iota + 1
	FilterLinear
	FilterTrilinear
)

func (f TextureFilter) String() string {
	switch f {
	case FilterNearest:
		return "nearest"
	case FilterLinear:
		return "linear"
	case FilterTrilinear:
		return "trilinear"
	}
	return fmt.Sprintf("TextureFilter(%d)", int(f))
}

// ParseTextureFilter is the inverse of TextureFilter.String.
func ParseTextureFilter(s string) (TextureFilter, bool) {
	for f := FilterNearest; f <= FilterTrilinear; f++ {
		if f.String() == s {
			return f, true
		}
	}
	return 0, false
}

// ImageDescriptor describes the pixel layout of an image handed to the cache.
type ImageDescriptor struct {
	Size   Size
	Format ImageFormat
	// Stride is the distance in bytes between rows. Zero means tightly packed.
	Stride int
	// Offset is the byte offset of the first pixel in the source data.
	Offset   int
	IsOpaque bool
}

// ComputeStride returns the row stride in bytes.
func (d ImageDescriptor) ComputeStride() int {
	if d.Stride > 0 {
		return d.Stride
	}
	return d.Size.Width * d.Format.BytesPerPixel()
}

// ComputeTotalSize returns the number of source bytes the image spans,
// starting at Offset.
func (d ImageDescriptor) ComputeTotalSize() int {
	return d.ComputeStride() * d.Size.Height
}

// TextureID identifies a GPU texture created through the command queue.
// Zero is never a valid id.
type TextureID uint32
