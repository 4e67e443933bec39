// Package metrics exports texture cache frame profiles as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwilder/texcache"
)

const namespace = "texcache"

// Sink is a texcache.ProfileSink that mirrors each frame's profile into
// Prometheus collectors.
type Sink struct {
	layers          *prometheus.GaugeVec
	emptyLayers     *prometheus.GaugeVec
	arrayBytes      *prometheus.GaugeVec
	slabOccupancy   *prometheus.GaugeVec
	standaloneCount prometheus.Gauge
	standaloneBytes prometheus.Gauge
	fallbacks       prometheus.Counter
	frames          prometheus.Counter

	// the profile carries a lifetime total; the counter is fed the delta
	lastFallbacks uint64
}

// NewSink creates the collectors and registers them with reg. A nil reg
// uses the default registerer.
func NewSink(reg prometheus.Registerer) *Sink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Sink{
		layers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "array_layers",
			Help:      "Layers allocated per shared texture array",
		}, []string{"array"}),
		emptyLayers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "array_empty_layers",
			Help:      "Uninitialized layers per shared texture array",
		}, []string{"array"}),
		arrayBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "array_bytes",
			Help:      "GPU bytes held by each shared texture array",
		}, []string{"array"}),
		slabOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "array_slab_occupancy_ratio",
			Help:      "Occupied slabs over total slabs in initialized layers",
		}, []string{"array"}),
		standaloneCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "standalone_textures",
			Help:      "Entries stored in their own texture",
		}),
		standaloneBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "standalone_bytes",
			Help:      "GPU bytes held by standalone textures",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shared_fallbacks_total",
			Help:      "Shared-eligible entries stored standalone because their array was full",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames reported",
		}),
	}
	reg.MustRegister(
		s.layers,
		s.emptyLayers,
		s.arrayBytes,
		s.slabOccupancy,
		s.standaloneCount,
		s.standaloneBytes,
		s.fallbacks,
		s.frames,
	)
	return s
}

// RecordFrame implements texcache.ProfileSink.
func (s *Sink) RecordFrame(p texcache.FrameProfile) {
	for _, a := range p.Arrays {
		s.layers.WithLabelValues(a.Name).Set(float64(a.Layers))
		s.emptyLayers.WithLabelValues(a.Name).Set(float64(a.EmptyLayers))
		s.arrayBytes.WithLabelValues(a.Name).Set(float64(a.Bytes))
		occupancy := 0.0
		if a.TotalSlabs > 0 {
			occupancy = float64(a.OccupiedSlabs) / float64(a.TotalSlabs)
		}
		s.slabOccupancy.WithLabelValues(a.Name).Set(occupancy)
	}
	s.standaloneCount.Set(float64(p.StandaloneCount))
	s.standaloneBytes.Set(float64(p.StandaloneBytes))
	if p.SharedFallbacks > s.lastFallbacks {
		s.fallbacks.Add(float64(p.SharedFallbacks - s.lastFallbacks))
	}
	s.lastFallbacks = p.SharedFallbacks
	s.frames.Inc()
}
