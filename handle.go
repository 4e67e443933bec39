package texcache

import "fmt"

// Handle is a weak reference to a cache entry. It is the only handle type
// callers see: copy it freely, and expect lookups to fail once the entry is
// evicted. The zero Handle refers to nothing.
type Handle struct {
	index uint32
	epoch uint32
}

// IsZero reports whether the handle was never assigned.
func (h Handle) IsZero() bool {
	return h.epoch == 0
}

// strongHandle owns the entry it points to. Exactly one exists per live
// entry, held in the cache's standalone or shared ownership list.
type strongHandle struct {
	index uint32
	epoch uint32
}

func (h strongHandle) weak() Handle {
	return Handle{index: h.index, epoch: h.epoch}
}

type slot[T any] struct {
	// epoch changes every time the slot is freed; weak handles carrying an
	// older epoch no longer resolve.
	epoch uint32
	next  int
	value *T
}

// freeList is an arena of generational slots. Freed slots are recycled through
// an intrusive free list.
type freeList[T any] struct {
	slots  []slot[T]
	head   int
	active int
}

const noSlot = -1

func newFreeList[T any]() *freeList[T] {
	return &freeList[T]{head: noSlot}
}

func (l *freeList[T]) len() int {
	return l.active
}

func (l *freeList[T]) insert(v *T) strongHandle {
	l.active++
	if l.head != noSlot {
		idx := l.head
		s := &l.slots[idx]
		if s.value != nil {
			panic(fmt.Sprintf("texcache: free list slot %d is on the free list but occupied", idx))
		}
		l.head = s.next
		s.next = noSlot
		s.value = v
		return strongHandle{index: uint32(idx), epoch: s.epoch}
	}

	l.slots = append(l.slots, slot[T]{epoch: 1, next: noSlot, value: v})
	return strongHandle{index: uint32(len(l.slots) - 1), epoch: 1}
}

// get resolves a weak handle, returning nil when the entry is gone.
func (l *freeList[T]) get(h Handle) *T {
	if h.IsZero() || int(h.index) >= len(l.slots) {
		return nil
	}
	s := &l.slots[h.index]
	if s.epoch != h.epoch {
		return nil
	}
	return s.value
}

// getStrong resolves a strong handle. A strong handle that does not resolve
// means the arena is corrupted.
func (l *freeList[T]) getStrong(h strongHandle) *T {
	v := l.get(h.weak())
	if v == nil {
		panic(fmt.Sprintf("texcache: strong handle %d/%d does not resolve", h.index, h.epoch))
	}
	return v
}

// free removes the value owned by h and returns it.
func (l *freeList[T]) free(h strongHandle) *T {
	v := l.getStrong(h)
	s := &l.slots[h.index]
	s.value = nil
	s.epoch++
	if s.epoch == 0 {
		// skip the zero epoch so the zero Handle never resolves
		s.epoch = 1
	}
	s.next = l.head
	l.head = int(h.index)
	l.active--
	return v
}

type upsertResult[T any] struct {
	// old is set when an existing entry was replaced.
	old *T
	// inserted is set when h did not resolve and a new slot was used.
	inserted strongHandle
}

// upsert replaces the value behind h if h resolves, and inserts a new value
// otherwise.
func (l *freeList[T]) upsert(h Handle, v *T) upsertResult[T] {
	if old := l.get(h); old != nil {
		l.slots[h.index].value = v
		return upsertResult[T]{old: old}
	}
	return upsertResult[T]{inserted: l.insert(v)}
}
