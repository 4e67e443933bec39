package main

import (
	"os"
	"time"

	"github.com/ansel1/merry"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/jwilder/texcache"
)

var (
	// ErrInvalidWorkload is returned when a workload file fails validation
	ErrInvalidWorkload = merry.New("invalid workload")
)

// Workload is the YAML description of a simulation run.
type Workload struct {
	Frames        int           `yaml:"frames"`
	FrameInterval string        `yaml:"frame_interval"`
	Seed          int64         `yaml:"seed"`
	Cache         CacheSettings `yaml:"cache"`
	Groups        []Group       `yaml:"groups"`
	Pauses        []Pause       `yaml:"pauses"`
	// Purges drop a key prefix at a given frame, like a font being unloaded.
	Purges []Purge `yaml:"purges"`

	interval time.Duration
}

// CacheSettings maps onto texcache.Config.
type CacheSettings struct {
	MaxTextureLayers  int    `yaml:"max_texture_layers"`
	ColorFormat       string `yaml:"color_format"`
	ReclaimThreshold  string `yaml:"reclaim_threshold"`
	Pressure          string `yaml:"pressure"`
	DebugClearEvicted bool   `yaml:"debug_clear_evicted"`
}

// Group is a family of images requested with the same parameters.
type Group struct {
	Name     string  `yaml:"name"`
	Prefix   string  `yaml:"prefix"`
	Count    int     `yaml:"count"`
	MinSize  int     `yaml:"min_size"`
	MaxSize  int     `yaml:"max_size"`
	Format   string  `yaml:"format"`
	Filter   string  `yaml:"filter"`
	Policy   string  `yaml:"policy"`
	PerFrame int     `yaml:"per_frame"`
	Churn    float64 `yaml:"churn"`

	format texcache.ImageFormat
	filter texcache.TextureFilter
	policy texcache.EvictionPolicy
}

// Pause stalls the clock after a frame, as when the application is hidden.
type Pause struct {
	AtFrame  int    `yaml:"at_frame"`
	Duration string `yaml:"duration"`

	duration time.Duration
}

// Purge drops every resource under Prefix at a frame.
type Purge struct {
	AtFrame int    `yaml:"at_frame"`
	Prefix  string `yaml:"prefix"`
}

func defaultWorkload() *Workload {
	return &Workload{
		Frames:        600,
		FrameInterval: "16ms",
		Seed:          1,
		Groups: []Group{
			{Name: "glyphs", Prefix: "glyph/", Count: 3000, MinSize: 6, MaxSize: 48, Format: "r8", Filter: "linear", Policy: "auto", PerFrame: 300, Churn: 0},
			{Name: "icons", Prefix: "icon/", Count: 400, MinSize: 16, MaxSize: 128, Format: "bgra8", Filter: "linear", Policy: "auto", PerFrame: 40, Churn: 0.01},
			{Name: "pixel-art", Prefix: "sprite/", Count: 100, MinSize: 16, MaxSize: 64, Format: "bgra8", Filter: "nearest", Policy: "auto", PerFrame: 20},
			{Name: "photos", Prefix: "photo/", Count: 20, MinSize: 300, MaxSize: 900, Format: "rgbaf32", Filter: "linear", Policy: "auto", PerFrame: 2},
			{Name: "render-tasks", Prefix: "task/", Count: 30, MinSize: 32, MaxSize: 256, Format: "bgra8", Filter: "linear", Policy: "eager", PerFrame: 10, Churn: 0.1},
		},
		Pauses: []Pause{{AtFrame: 300, Duration: "6s"}},
	}
}

// loadWorkload reads and validates a workload file. An empty path returns the
// built-in workload.
func loadWorkload(path string) (*Workload, error) {
	w := defaultWorkload()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, merry.Prependf(err, "reading workload %s", path)
		}
		w, err = parseWorkload(data)
		if err != nil {
			return nil, merry.WithValue(err, "path", path)
		}
		return w, nil
	}
	return w, w.validate()
}

func parseWorkload(data []byte) (*Workload, error) {
	w := &Workload{}
	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, merry.Appendf(ErrInvalidWorkload, "yaml: %v", err)
	}
	if w.Frames == 0 {
		w.Frames = defaultWorkload().Frames
	}
	if w.FrameInterval == "" {
		w.FrameInterval = defaultWorkload().FrameInterval
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Workload) validate() error {
	var err error
	if w.Frames < 0 {
		return merry.Appendf(ErrInvalidWorkload, "frames must be positive, got %d", w.Frames)
	}
	if w.interval, err = time.ParseDuration(w.FrameInterval); err != nil {
		return merry.Appendf(ErrInvalidWorkload, "frame_interval: %v", err)
	}
	if _, err = w.Cache.config(); err != nil {
		return err
	}
	if len(w.Groups) == 0 {
		return merry.Appendf(ErrInvalidWorkload, "no groups")
	}
	for i := range w.Groups {
		if err := w.Groups[i].validate(); err != nil {
			return merry.WithValue(err, "group", w.Groups[i].Name)
		}
	}
	for i := range w.Pauses {
		p := &w.Pauses[i]
		if p.duration, err = time.ParseDuration(p.Duration); err != nil {
			return merry.Appendf(ErrInvalidWorkload, "pause at frame %d: %v", p.AtFrame, err)
		}
	}
	return nil
}

func (g *Group) validate() error {
	if g.Count <= 0 || g.PerFrame < 0 {
		return merry.Appendf(ErrInvalidWorkload, "group %q: count must be positive and per_frame non-negative", g.Name)
	}
	if g.MinSize <= 0 || g.MaxSize < g.MinSize {
		return merry.Appendf(ErrInvalidWorkload, "group %q: bad size range %d..%d", g.Name, g.MinSize, g.MaxSize)
	}
	if g.Churn < 0 || g.Churn > 1 {
		return merry.Appendf(ErrInvalidWorkload, "group %q: churn %v outside [0,1]", g.Name, g.Churn)
	}
	var ok bool
	if g.format, ok = texcache.ParseImageFormat(g.Format); !ok {
		return merry.Appendf(ErrInvalidWorkload, "group %q: unknown format %q", g.Name, g.Format)
	}
	if g.filter, ok = texcache.ParseTextureFilter(g.Filter); !ok {
		return merry.Appendf(ErrInvalidWorkload, "group %q: unknown filter %q", g.Name, g.Filter)
	}
	if g.Policy == "" {
		g.Policy = texcache.EvictAuto.String()
	}
	if g.policy, ok = texcache.ParseEvictionPolicy(g.Policy); !ok {
		return merry.Appendf(ErrInvalidWorkload, "group %q: unknown policy %q", g.Name, g.Policy)
	}
	return nil
}

// size is the deterministic size of image idx of the group.
func (g *Group) size(idx int) texcache.Size {
	span := g.MaxSize - g.MinSize + 1
	return texcache.Size{
		Width:  g.MinSize + (idx*7919)%span,
		Height: g.MinSize + (idx*104729+13)%span,
	}
}

func (c CacheSettings) config() (texcache.Config, error) {
	cfg := texcache.Config{MaxTextureLayers: c.MaxTextureLayers}
	if c.ColorFormat != "" {
		f, ok := texcache.ParseImageFormat(c.ColorFormat)
		if !ok || (f != texcache.FormatBGRA8 && f != texcache.FormatRGBA8) {
			return cfg, merry.Appendf(ErrInvalidWorkload, "color_format must be bgra8 or rgba8, got %q", c.ColorFormat)
		}
		cfg.ColorFormat = f
	}
	if c.ReclaimThreshold != "" {
		n, err := humanize.ParseBytes(c.ReclaimThreshold)
		if err != nil {
			return cfg, merry.Appendf(ErrInvalidWorkload, "reclaim_threshold: %v", err)
		}
		cfg.ReclaimThresholdBytes = n
	}
	if c.Pressure != "" {
		n, err := humanize.ParseBytes(c.Pressure)
		if err != nil {
			return cfg, merry.Appendf(ErrInvalidWorkload, "pressure: %v", err)
		}
		cfg.PressureBytes = n
	}
	if c.DebugClearEvicted {
		cfg.DebugFlags |= texcache.DebugClearEvicted
	}
	return cfg, nil
}

func (w *Workload) pauseAfter(frame int) time.Duration {
	var d time.Duration
	for _, p := range w.Pauses {
		if p.AtFrame == frame {
			d += p.duration
		}
	}
	return d
}

func (w *Workload) purgesAt(frame int) []string {
	var prefixes []string
	for _, p := range w.Purges {
		if p.AtFrame == frame {
			prefixes = append(prefixes, p.Prefix)
		}
	}
	return prefixes
}
