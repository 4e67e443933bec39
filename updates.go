package texcache

import "fmt"

// CommandKind tags a TextureCommand.
type CommandKind int

const (
	// CommandAlloc creates a texture.
	CommandAlloc CommandKind = iota + 1
	// CommandRealloc changes the layer count of an existing shared texture,
	// preserving the contents of existing layers.
	CommandRealloc
	// CommandFree destroys a texture.
	CommandFree
	// CommandUpload copies pixels into a texture.
	CommandUpload
	// CommandDebugClear fills an evicted slab with a debug color.
	CommandDebugClear
)

func (k CommandKind) String() string {
	switch k {
	case CommandAlloc:
		return "alloc"
	case CommandRealloc:
		return "realloc"
	case CommandFree:
		return "free"
	case CommandUpload:
		return "upload"
	case CommandDebugClear:
		return "debug-clear"
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// AllocInfo describes the storage of an allocated or reallocated texture.
type AllocInfo struct {
	Width      int
	Height     int
	Format     ImageFormat
	Filter     TextureFilter
	LayerCount int
	IsShared   bool
}

// ByteSize returns the storage the texture needs across all layers.
func (a AllocInfo) ByteSize() uint64 {
	return uint64(a.Width * a.Height * a.LayerCount * a.Format.BytesPerPixel())
}

// ExternalImage refers to pixels owned outside the cache, e.g. by a video
// decoder.
type ExternalImage struct {
	ID      uint64
	Channel int
}

// UploadSource is either a byte slice or an external image reference.
type UploadSource struct {
	Bytes    []byte
	External *ExternalImage
}

// IsExternal reports whether the source refers to an external image.
func (s UploadSource) IsExternal() bool {
	return s.External != nil
}

// Upload copies Rect worth of source pixels into one layer of a texture.
// Rows start Stride bytes apart, the first pixel at Offset.
type Upload struct {
	Layer  int
	Rect   Rect
	Source UploadSource
	Format ImageFormat
	Stride int
	Offset int
}

// DebugClear marks a freed slab.
type DebugClear struct {
	Origin Point
	Size   Size
	Layer  int
}

// TextureCommand is one entry of the pending update queue. Which of the
// payload fields is set depends on Kind.
type TextureCommand struct {
	Kind    CommandKind
	Texture TextureID
	Alloc   AllocInfo
	Upload  *Upload
	Clear   *DebugClear
}

// TextureUpdateList is the ordered queue of commands produced during a frame.
// The GPU executor must apply all of them, in order, before drawing anything
// that uses this frame's placements.
type TextureUpdateList struct {
	commands []TextureCommand
}

// NewTextureUpdateList returns an empty queue.
func NewTextureUpdateList() *TextureUpdateList {
	return &TextureUpdateList{}
}

// Commands returns the queued commands in submission order.
func (l *TextureUpdateList) Commands() []TextureCommand {
	return l.commands
}

// Len returns the number of queued commands.
func (l *TextureUpdateList) Len() int {
	return len(l.commands)
}

// IsEmpty reports whether nothing is queued.
func (l *TextureUpdateList) IsEmpty() bool {
	return len(l.commands) == 0
}

// PushAlloc queues the creation of a texture.
func (l *TextureUpdateList) PushAlloc(id TextureID, info AllocInfo) {
	l.commands = append(l.commands, TextureCommand{Kind: CommandAlloc, Texture: id, Alloc: info})
}

// PushRealloc queues a layer count change of a shared texture.
func (l *TextureUpdateList) PushRealloc(id TextureID, info AllocInfo) {
	l.commands = append(l.commands, TextureCommand{Kind: CommandRealloc, Texture: id, Alloc: info})
}

// PushFree queues the destruction of a texture. Uploads and debug clears still
// queued for it are dropped since their target goes away first.
func (l *TextureUpdateList) PushFree(id TextureID) {
	kept := l.commands[:0]
	for _, cmd := range l.commands {
		if cmd.Texture == id && (cmd.Kind == CommandUpload || cmd.Kind == CommandDebugClear) {
			continue
		}
		kept = append(kept, cmd)
	}
	l.commands = append(kept, TextureCommand{Kind: CommandFree, Texture: id})
}

// PushUpload queues a pixel copy into a texture.
func (l *TextureUpdateList) PushUpload(id TextureID, upload Upload) {
	l.commands = append(l.commands, TextureCommand{Kind: CommandUpload, Texture: id, Upload: &upload})
}

// PushDebugClear queues a debug fill of a freed slab.
func (l *TextureUpdateList) PushDebugClear(id TextureID, dc DebugClear) {
	l.commands = append(l.commands, TextureCommand{Kind: CommandDebugClear, Texture: id, Clear: &dc})
}

// newUpload builds the upload for an item placed at origin with the given
// size. A partial dirty rect is clipped to the item; nil is returned when it
// does not overlap the item at all.
func newUpload(data *ImageData, desc ImageDescriptor, origin Point, size Size, layer int, dirty DirtyRect) *Upload {
	source := UploadSource{External: data.External}
	if data.External == nil {
		source.Bytes = data.Bytes
	}

	stride := desc.ComputeStride()
	if !dirty.Partial {
		return &Upload{
			Layer:  layer,
			Rect:   Rect{Origin: origin, Size: size},
			Source: source,
			Format: desc.Format,
			Stride: stride,
			Offset: desc.Offset,
		}
	}

	clipped, ok := dirty.Rect.Intersect(Rect{Size: size})
	if !ok {
		return nil
	}
	offset := desc.Offset + clipped.Origin.Y*stride + clipped.Origin.X*desc.Format.BytesPerPixel()
	return &Upload{
		Layer: layer,
		Rect: Rect{
			Origin: Point{X: origin.X + clipped.Origin.X, Y: origin.Y + clipped.Origin.Y},
			Size:   clipped.Size,
		},
		Source: source,
		Format: desc.Format,
		Stride: stride,
		Offset: offset,
	}
}
