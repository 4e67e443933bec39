// Package paramstore keeps the per-entry shader parameter records a renderer
// uploads alongside the texture cache's textures.
package paramstore

import (
	"github.com/jwilder/texcache"
)

// A handle packs the record index in the low 32 bits and the record
// generation in the high 32 bits. Index 0 is never used so the zero handle
// stays unassigned.
func pack(index, gen uint32) texcache.ParamHandle {
	return texcache.ParamHandle(uint64(gen)<<32 | uint64(index))
}

func unpack(h texcache.ParamHandle) (index, gen uint32) {
	return uint32(h), uint32(h >> 32)
}

type record struct {
	gen         uint32
	live        bool
	valid       bool
	lastRequest texcache.FrameID
	params      texcache.ShaderParams
}

// Store is a ShaderParamStore backed by a slice of records. Records nobody
// requested for a while are recycled by Sweep; handles to them stop
// resolving and are reassigned on their next Request.
type Store struct {
	records []record
	free    []uint32
	frame   texcache.FrameID
	live    int
	// dirty lists records written since the last Drain.
	dirty []texcache.ParamHandle
}

// New returns an empty store.
func New() *Store {
	// slot 0 is reserved
	return &Store{records: make([]record, 1)}
}

// BeginFrame sets the frame that Request stamps records with.
func (s *Store) BeginFrame(frame texcache.FrameID) {
	s.frame = frame
}

func (s *Store) resolve(h texcache.ParamHandle) *record {
	index, gen := unpack(h)
	if index == 0 || int(index) >= len(s.records) {
		return nil
	}
	r := &s.records[index]
	if !r.live || r.gen != gen {
		return nil
	}
	return r
}

// Request implements texcache.ShaderParamStore. An unassigned or recycled
// handle gets a fresh record.
func (s *Store) Request(h *texcache.ParamHandle) bool {
	if r := s.resolve(*h); r != nil {
		r.lastRequest = s.frame
		return !r.valid
	}

	var index uint32
	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.records = append(s.records, record{})
		index = uint32(len(s.records) - 1)
	}
	r := &s.records[index]
	r.gen++
	r.live = true
	r.valid = false
	r.lastRequest = s.frame
	s.live++
	*h = pack(index, r.gen)
	return true
}

// Write stores params for h and queues h for the next Drain. Stale handles
// are ignored.
func (s *Store) Write(h texcache.ParamHandle, params texcache.ShaderParams) {
	r := s.resolve(h)
	if r == nil {
		return
	}
	r.params = params
	r.valid = true
	s.dirty = append(s.dirty, h)
}

// Invalidate makes the next Request for h report true.
func (s *Store) Invalidate(h texcache.ParamHandle) {
	if r := s.resolve(h); r != nil {
		r.valid = false
	}
}

// Lookup returns the record behind h if it was written and is still live.
func (s *Store) Lookup(h texcache.ParamHandle) (texcache.ShaderParams, bool) {
	r := s.resolve(h)
	if r == nil || !r.valid {
		return texcache.ShaderParams{}, false
	}
	return r.params, true
}

// Drain returns the handles written since the previous Drain, i.e. what a
// renderer has to upload this frame.
func (s *Store) Drain() []texcache.ParamHandle {
	d := s.dirty
	s.dirty = nil
	return d
}

// Sweep recycles records not requested in the last maxAge frames and returns
// how many were recycled.
func (s *Store) Sweep(maxAge uint64) int {
	if uint64(s.frame) <= maxAge {
		return 0
	}
	cutoff := s.frame - texcache.FrameID(maxAge)
	n := 0
	for i := 1; i < len(s.records); i++ {
		r := &s.records[i]
		if !r.live || r.lastRequest >= cutoff {
			continue
		}
		r.live = false
		r.valid = false
		s.free = append(s.free, uint32(i))
		n++
	}
	s.live -= n
	return n
}

// Len is the number of live records.
func (s *Store) Len() int {
	return s.live
}
