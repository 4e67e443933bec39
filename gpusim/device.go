// Package gpusim executes texture cache update lists against an in-memory
// model of GPU textures. It validates every command the way a real backend
// would fail on it, and optionally keeps pixel contents so uploads can be
// inspected.
package gpusim

import (
	"sync/atomic"

	"github.com/ansel1/merry"
	"github.com/sirupsen/logrus"

	"github.com/jwilder/texcache"
)

var (
	// ErrUnknownTexture is returned for commands naming a texture that does not exist
	ErrUnknownTexture = merry.New("unknown texture")
	// ErrTextureExists is returned when an alloc reuses a live texture id
	ErrTextureExists = merry.New("texture already exists")
	// ErrBadRealloc is returned when a realloc changes anything but the layer count
	ErrBadRealloc = merry.New("invalid realloc")
	// ErrOutOfBounds is returned for uploads and clears outside their texture
	ErrOutOfBounds = merry.New("rectangle out of bounds")
	// ErrShortUpload is returned when an upload source holds fewer bytes than its rectangle needs
	ErrShortUpload = merry.New("upload source too short")
)

// DebugClearByte is the value debug clears fill pixels with.
const DebugClearByte = 0xEE

// Options configures a Device.
type Options struct {
	// KeepPixels makes the device store texture contents. Without it only
	// metadata is tracked.
	KeepPixels bool
	Logger     logrus.FieldLogger
}

// Texture is the device-side state of one texture.
type Texture struct {
	Info texcache.AllocInfo
	// Layers holds one tightly packed pixel buffer per layer when the device
	// keeps pixels.
	Layers [][]byte
}

// Stats counts applied commands.
type Stats struct {
	Allocs        uint64
	Reallocs      uint64
	Frees         uint64
	Uploads       uint64
	UploadedBytes uint64
	DebugClears   uint64
}

// Device is an in-memory GPU. Apply must not be called concurrently;
// GPUBytesAllocated may be read from any goroutine.
type Device struct {
	log        logrus.FieldLogger
	keepPixels bool
	textures   map[texcache.TextureID]*Texture
	allocated  atomic.Uint64
	stats      Stats
}

// New creates an empty device.
func New(opts Options) *Device {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger().WithField("component", "gpusim")
	}
	return &Device{
		log:        log,
		keepPixels: opts.KeepPixels,
		textures:   make(map[texcache.TextureID]*Texture),
	}
}

// GPUBytesAllocated implements texcache.MemorySensor.
func (d *Device) GPUBytesAllocated() uint64 {
	return d.allocated.Load()
}

// Texture returns the texture with the given id.
func (d *Device) Texture(id texcache.TextureID) (*Texture, bool) {
	t, ok := d.textures[id]
	return t, ok
}

// TextureCount returns the number of live textures.
func (d *Device) TextureCount() int {
	return len(d.textures)
}

// Stats returns command counters since New.
func (d *Device) Stats() Stats {
	return d.stats
}

// Apply executes the commands of updates in order. It stops at the first
// failing command; commands before it stay applied.
func (d *Device) Apply(updates *texcache.TextureUpdateList) error {
	for i, cmd := range updates.Commands() {
		var err error
		switch cmd.Kind {
		case texcache.CommandAlloc:
			err = d.alloc(cmd.Texture, cmd.Alloc)
		case texcache.CommandRealloc:
			err = d.realloc(cmd.Texture, cmd.Alloc)
		case texcache.CommandFree:
			err = d.free(cmd.Texture)
		case texcache.CommandUpload:
			err = d.upload(cmd.Texture, cmd.Upload)
		case texcache.CommandDebugClear:
			err = d.debugClear(cmd.Texture, cmd.Clear)
		default:
			err = merry.Errorf("unknown command kind %d", int(cmd.Kind))
		}
		if err != nil {
			return merry.WithValue(err, "command", i).WithValue("kind", cmd.Kind.String())
		}
	}
	return nil
}

func (d *Device) newLayers(info texcache.AllocInfo) [][]byte {
	if !d.keepPixels {
		return nil
	}
	layers := make([][]byte, info.LayerCount)
	for i := range layers {
		layers[i] = make([]byte, info.Width*info.Height*info.Format.BytesPerPixel())
	}
	return layers
}

func (d *Device) alloc(id texcache.TextureID, info texcache.AllocInfo) error {
	if _, ok := d.textures[id]; ok {
		return merry.Appendf(ErrTextureExists, "texture %d", id)
	}
	d.textures[id] = &Texture{Info: info, Layers: d.newLayers(info)}
	d.allocated.Add(info.ByteSize())
	d.stats.Allocs++
	d.log.WithFields(logrus.Fields{
		"texture": id,
		"width":   info.Width,
		"layers":  info.LayerCount,
		"format":  info.Format,
		"shared":  info.IsShared,
	}).Trace("alloc")
	return nil
}

func (d *Device) realloc(id texcache.TextureID, info texcache.AllocInfo) error {
	t, ok := d.textures[id]
	if !ok {
		return merry.Appendf(ErrUnknownTexture, "realloc of texture %d", id)
	}
	old := t.Info
	if !old.IsShared || old.Width != info.Width || old.Height != info.Height || old.Format != info.Format {
		return merry.Appendf(ErrBadRealloc, "texture %d", id)
	}
	if info.LayerCount < old.LayerCount {
		return merry.Appendf(ErrBadRealloc, "texture %d shrinks from %d to %d layers", id, old.LayerCount, info.LayerCount)
	}
	if d.keepPixels {
		grown := d.newLayers(info)
		copy(grown, t.Layers)
		t.Layers = grown
	}
	t.Info = info
	d.allocated.Add(info.ByteSize() - old.ByteSize())
	d.stats.Reallocs++
	return nil
}

func (d *Device) free(id texcache.TextureID) error {
	t, ok := d.textures[id]
	if !ok {
		return merry.Appendf(ErrUnknownTexture, "free of texture %d", id)
	}
	delete(d.textures, id)
	d.allocated.Add(^(t.Info.ByteSize() - 1))
	d.stats.Frees++
	return nil
}

func (d *Device) checkBounds(id texcache.TextureID, t *Texture, layer int, r texcache.Rect) error {
	bounds := texcache.NewRect(0, 0, t.Info.Width, t.Info.Height)
	if layer < 0 || layer >= t.Info.LayerCount || !bounds.Contains(r) {
		return merry.Appendf(ErrOutOfBounds, "texture %d layer %d rect %s", id, layer, r)
	}
	return nil
}

func (d *Device) upload(id texcache.TextureID, up *texcache.Upload) error {
	t, ok := d.textures[id]
	if !ok {
		return merry.Appendf(ErrUnknownTexture, "upload to texture %d", id)
	}
	if err := d.checkBounds(id, t, up.Layer, up.Rect); err != nil {
		return err
	}
	d.stats.Uploads++
	bpp := up.Format.BytesPerPixel()
	row := up.Rect.Size.Width * bpp
	d.stats.UploadedBytes += uint64(row * up.Rect.Size.Height)
	if up.Source.IsExternal() {
		// external images are resolved by the embedder
		return nil
	}
	src := up.Source.Bytes
	if need := up.Offset + (up.Rect.Size.Height-1)*up.Stride + row; need > len(src) {
		return merry.Appendf(ErrShortUpload, "texture %d: need %d bytes, have %d", id, need, len(src))
	}
	if !d.keepPixels {
		return nil
	}
	dst := t.Layers[up.Layer]
	dstStride := t.Info.Width * bpp
	for y := 0; y < up.Rect.Size.Height; y++ {
		s := up.Offset + y*up.Stride
		o := (up.Rect.Origin.Y+y)*dstStride + up.Rect.Origin.X*bpp
		copy(dst[o:o+row], src[s:s+row])
	}
	return nil
}

func (d *Device) debugClear(id texcache.TextureID, dc *texcache.DebugClear) error {
	t, ok := d.textures[id]
	if !ok {
		return merry.Appendf(ErrUnknownTexture, "debug clear of texture %d", id)
	}
	r := texcache.Rect{Origin: dc.Origin, Size: dc.Size}
	if err := d.checkBounds(id, t, dc.Layer, r); err != nil {
		return err
	}
	d.stats.DebugClears++
	if !d.keepPixels {
		return nil
	}
	bpp := t.Info.Format.BytesPerPixel()
	dst := t.Layers[dc.Layer]
	for y := r.Origin.Y; y < r.Origin.Y+r.Size.Height; y++ {
		o := (y*t.Info.Width + r.Origin.X) * bpp
		for i := range dst[o : o+r.Size.Width*bpp] {
			dst[o+i] = DebugClearByte
		}
	}
	return nil
}

// Pixel returns the bytes of one pixel. It panics unless the device keeps
// pixels.
func (t *Texture) Pixel(layer, x, y int) []byte {
	bpp := t.Info.Format.BytesPerPixel()
	o := (y*t.Info.Width + x) * bpp
	return t.Layers[layer][o : o+bpp]
}
