package main

import (
	"fmt"
	"io"
	"math/rand"
	"sort"
	"time"

	"github.com/ansel1/merry"
	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jwilder/texcache"
	"github.com/jwilder/texcache/gpusim"
	"github.com/jwilder/texcache/metrics"
	"github.com/jwilder/texcache/paramstore"
	"github.com/jwilder/texcache/resource"
)

const (
	// shader parameter records unused for this many frames are recycled
	paramMaxAge = 600
	// keys of evicted entries are forgotten every this many frames
	resourceSweepInterval = 60
)

type simResult struct {
	Frames   int
	Elapsed  time.Duration
	Requests uint64
	Cache    texcache.Stats
	Resource resource.Stats
	Device   gpusim.Stats
	GPUBytes uint64
	Params   int
	Registry *prometheus.Registry
}

type simulator struct {
	w        *Workload
	log      logrus.FieldLogger
	clock    clockwork.FakeClock
	stamper  *texcache.FrameStamper
	device   *gpusim.Device
	params   *paramstore.Store
	cache    *texcache.TextureCache
	res      *resource.Cache
	registry *prometheus.Registry
	sink     *metrics.Sink
	rnd      *rand.Rand
	// generations holds the content generation per key for churned images
	generations map[string]uint64
	requests    uint64
}

func newSimulator(w *Workload, log logrus.FieldLogger, keepPixels bool) (*simulator, error) {
	cfg, err := w.Cache.config()
	if err != nil {
		return nil, err
	}
	s := &simulator{
		w:           w,
		log:         log,
		clock:       clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		device:      gpusim.New(gpusim.Options{KeepPixels: keepPixels, Logger: log.WithField("component", "gpusim")}),
		params:      paramstore.New(),
		registry:    prometheus.NewRegistry(),
		rnd:         rand.New(rand.NewSource(w.Seed)),
		generations: make(map[string]uint64),
	}
	s.stamper = texcache.NewFrameStamper(s.clock)
	s.sink = metrics.NewSink(s.registry)

	cfg.Logger = log.WithField("component", "texcache")
	cfg.MemorySensor = s.device
	cfg.ParamStore = s.params
	s.cache = texcache.NewTextureCache(cfg)
	s.res = resource.New(s.cache, s.load, log.WithField("component", "resource"))
	return s, nil
}

// load fills an image with a byte derived from its key and generation.
func (s *simulator) load(key string, req resource.ImageRequest) (*texcache.ImageData, error) {
	desc := req.Descriptor
	data := make([]byte, desc.ComputeTotalSize())
	fill := byte(len(key)) ^ byte(req.Generation)
	for i := range data {
		data[i] = fill
	}
	return &texcache.ImageData{Bytes: data}, nil
}

func (s *simulator) run() (*simResult, error) {
	start := s.clock.Now()
	for f := 0; f < s.w.Frames; f++ {
		if err := s.frame(f); err != nil {
			return nil, merry.WithValue(err, "frame", f)
		}
		s.clock.Advance(s.w.interval + s.w.pauseAfter(f))
	}
	return &simResult{
		Frames:   s.w.Frames,
		Elapsed:  s.clock.Since(start),
		Requests: s.requests,
		Cache:    s.cache.Stats(),
		Resource: s.res.Stats(),
		Device:   s.device.Stats(),
		GPUBytes: s.device.GPUBytesAllocated(),
		Params:   s.params.Len(),
		Registry: s.registry,
	}, nil
}

func (s *simulator) frame(f int) error {
	stamp := s.stamper.Next()
	s.params.BeginFrame(stamp.FrameID)
	s.cache.BeginFrame(stamp)

	for _, prefix := range s.w.purgesAt(f) {
		n := s.res.DeletePrefix(prefix)
		s.log.WithFields(logrus.Fields{"prefix": prefix, "keys": n}).Debug("purged")
	}

	for i := range s.w.Groups {
		g := &s.w.Groups[i]
		for n := 0; n < g.PerFrame; n++ {
			idx := s.rnd.Intn(g.Count)
			key := fmt.Sprintf("%s%d", g.Prefix, idx)
			if g.Churn > 0 && s.rnd.Float64() < g.Churn {
				s.generations[key]++
			}
			size := g.size(idx)
			_, err := s.res.Request(key, resource.ImageRequest{
				Descriptor: texcache.ImageDescriptor{Size: size, Format: g.format},
				Filter:     g.filter,
				Policy:     g.policy,
				Generation: s.generations[key],
			})
			if err != nil {
				return err
			}
			s.requests++
		}
	}

	s.cache.EndFrame(s.sink)
	if err := s.device.Apply(s.cache.PendingUpdates()); err != nil {
		return err
	}
	s.params.Drain()
	s.params.Sweep(paramMaxAge)
	if f%resourceSweepInterval == resourceSweepInterval-1 {
		s.res.Sweep()
	}
	return nil
}

func printResult(out io.Writer, r *simResult) {
	fmt.Fprintln(out, "=== Simulation ===")
	fmt.Fprintf(out, "Frames: %d (%v simulated)\n", r.Frames, r.Elapsed)
	fmt.Fprintf(out, "Requests: %s\n", humanize.Comma(int64(r.Requests)))
	fmt.Fprintf(out, "Hits/Misses: %s/%s\n", humanize.Comma(int64(r.Resource.Hits)), humanize.Comma(int64(r.Resource.Misses)))
	fmt.Fprintf(out, "Evictions seen by callers: %s\n", humanize.Comma(int64(r.Resource.Evictions)))

	fmt.Fprintln(out, "\n=== Texture Cache ===")
	fmt.Fprintf(out, "Entries: %d (%d shared, %d standalone)\n", r.Cache.Entries, r.Cache.SharedEntries, r.Cache.StandaloneEntries)
	fmt.Fprintf(out, "Shared: %s (%s in empty layers)\n", humanize.IBytes(r.Cache.SharedBytes), humanize.IBytes(r.Cache.EmptyRegionBytes))
	fmt.Fprintf(out, "Standalone: %s\n", humanize.IBytes(r.Cache.StandaloneBytes))
	fmt.Fprintf(out, "Shared fallbacks: %d\n", r.Cache.SharedFallbacks)
	for _, a := range r.Cache.Arrays {
		fmt.Fprintf(out, "  %-15s layers=%d empty=%d slabs=%d/%d %s\n",
			a.Name, a.Layers, a.EmptyLayers, a.OccupiedSlabs, a.TotalSlabs, humanize.IBytes(a.Bytes))
	}
	if len(r.Cache.SlabBreakdown) > 0 {
		fmt.Fprintln(out, "\n  Slab Breakdown:")
		slabs := make([]texcache.SlabSize, 0, len(r.Cache.SlabBreakdown))
		for slab := range r.Cache.SlabBreakdown {
			slabs = append(slabs, slab)
		}
		sort.Slice(slabs, func(i, j int) bool {
			if slabs[i].Width != slabs[j].Width {
				return slabs[i].Width < slabs[j].Width
			}
			return slabs[i].Height < slabs[j].Height
		})
		for _, slab := range slabs {
			fmt.Fprintf(out, "    %s x %d regions\n", slab, r.Cache.SlabBreakdown[slab])
		}
	}

	fmt.Fprintln(out, "\n=== Device ===")
	fmt.Fprintf(out, "GPU memory: %s\n", humanize.IBytes(r.GPUBytes))
	fmt.Fprintf(out, "Allocs: %d Reallocs: %d Frees: %d\n", r.Device.Allocs, r.Device.Reallocs, r.Device.Frees)
	fmt.Fprintf(out, "Uploads: %d (%s)\n", r.Device.Uploads, humanize.IBytes(r.Device.UploadedBytes))
	fmt.Fprintf(out, "Debug clears: %d\n", r.Device.DebugClears)
	fmt.Fprintf(out, "Shader param records: %d\n", r.Params)
}

func printMetrics(out io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return merry.Prepend(err, "gathering metrics")
	}
	fmt.Fprintln(out, "\n=== Metrics ===")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf("{%s=%q}", lp.GetName(), lp.GetValue())
			}
			var v float64
			switch {
			case m.GetGauge() != nil:
				v = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				v = m.GetCounter().GetValue()
			}
			fmt.Fprintf(out, "%s%s %g\n", mf.GetName(), labels, v)
		}
	}
	return nil
}
