package common

// SemiSpace implements a two-equal-halves bump-pointer copying heap. It
// backs the copying backend directly; the generational backend's
// nursery has its own implementation (age byte,
// promotion, deep-promotion) built the same way but specialised enough
// that sharing this type would mostly be indirection; see
// internal/gcbackend/generational.
type SemiSpace struct {
	spaces   [2][]byte
	active   int // index of the space currently being bump-allocated into
	bump     uint64
	capacity uint64 // per-half size

	objects    map[Ptr]*ssObject
	nextHandle Ptr

	// scanList/scanIdx implement Cheney's two-finger scan: every object
	// copied into to-space during the current cycle is appended here in
	// allocation order, and scanning drains it to a fixpoint.
	scanList []Ptr
	scanIdx  int

	fromSpace int // valid only while a collection is in progress
}

type ssObject struct {
	handle Ptr
	offset uint64
	size   int
	trace  TraceFunc
	tag    Tag
	space  int // which physical half currently holds this object's bytes
	forward Ptr
}

// NewSemiSpace allocates two equal halves of perHalf bytes each.
func NewSemiSpace(perHalf uint64) *SemiSpace {
	return &SemiSpace{
		spaces:   [2][]byte{make([]byte, perHalf), make([]byte, perHalf)},
		capacity: perHalf,
		objects:  make(map[Ptr]*ssObject),
	}
}

// Capacity reports the size of a single half.
func (s *SemiSpace) Capacity() uint64 { return s.capacity }

// Used reports the bump offset of the active half.
func (s *SemiSpace) Used() uint64 { return s.bump }

// Alloc bump-allocates n bytes in the active half. Returns Null if the
// active half is exhausted.
func (s *SemiSpace) Alloc(n int) Ptr {
	need := uint64(n)
	if s.bump+need > s.capacity {
		return Null
	}
	offset := s.bump
	s.bump += need
	clearBytes(s.spaces[s.active][offset : offset+need])

	s.nextHandle++
	h := s.nextHandle
	s.objects[h] = &ssObject{handle: h, offset: offset, size: n, space: s.active}
	return h
}

// Payload returns the live payload slice for handle.
func (s *SemiSpace) Payload(handle Ptr) []byte {
	rec, ok := s.objects[handle]
	if !ok {
		return nil
	}
	return s.spaces[rec.space][rec.offset : rec.offset+uint64(rec.size)]
}

// SetTrace installs/replaces handle's trace function.
func (s *SemiSpace) SetTrace(handle Ptr, fn TraceFunc) {
	if rec, ok := s.objects[handle]; ok {
		rec.trace = fn
	}
}

// SetTag records handle's diagnostic tag.
func (s *SemiSpace) SetTag(handle Ptr, tag Tag) {
	if rec, ok := s.objects[handle]; ok {
		rec.tag = tag
	}
}

// BeginCollect swaps active/inactive roles: the old active becomes
// from-space, the old inactive becomes to-space with its bump pointer
// reset.
func (s *SemiSpace) BeginCollect() {
	s.fromSpace = s.active
	s.active = 1 - s.active
	s.bump = 0
	s.scanList = s.scanList[:0]
	s.scanIdx = 0
}

// CopyPointer forwards p to its to-space copy: if p's record already
// has a forwarding pointer, return it; otherwise bump-allocate a to-space
// copy, memcpy the payload, record the forward, and return the new
// handle. Null is returned unchanged.
func (s *SemiSpace) CopyPointer(p Ptr) Ptr {
	if p == Null {
		return Null
	}
	rec, ok := s.objects[p]
	if !ok {
		return p
	}
	if rec.space == s.active {
		return p // already a to-space copy; re-copying would break mark idempotence
	}
	if rec.forward != Null {
		return rec.forward
	}

	need := uint64(rec.size)
	if s.bump+need > s.capacity {
		panic(ErrToSpaceExhausted)
	}
	offset := s.bump
	s.bump += need
	copy(s.spaces[s.active][offset:offset+need], s.spaces[rec.space][rec.offset:rec.offset+uint64(rec.size)])

	s.nextHandle++
	newHandle := s.nextHandle
	newRec := &ssObject{handle: newHandle, offset: offset, size: rec.size, trace: rec.trace, tag: rec.tag, space: s.active}
	s.objects[newHandle] = newRec
	rec.forward = newHandle
	s.scanList = append(s.scanList, newHandle)
	return newHandle
}

// ScanNext returns the next to-space object awaiting its trace callback,
// draining scanList to a fixpoint (new entries may be appended by
// CopyPointer calls made from within trace callbacks driven by the
// caller).
func (s *SemiSpace) ScanNext() (handle Ptr, trace TraceFunc, ok bool) {
	if s.scanIdx >= len(s.scanList) {
		return Null, nil, false
	}
	h := s.scanList[s.scanIdx]
	s.scanIdx++
	rec := s.objects[h]
	return h, rec.trace, true
}

// EndCollect purges every record still addressing from-space, both the
// ones a forward was set for (superseded by their to-space copy) and the
// unreachable ones, so the handle table does not grow without bound
// across cycles. From-space content is logically garbage; there is no
// explicit free, but the payload bytes of objects abandoned without a
// forward are reported so the backend can account them as freed.
func (s *SemiSpace) EndCollect() (scanned, copied int, freedBytes uint64) {
	copied = len(s.scanList)
	for h, rec := range s.objects {
		if rec.space == s.fromSpace {
			if rec.forward == Null {
				freedBytes += uint64(rec.size)
			}
			delete(s.objects, h)
		}
	}
	return len(s.scanList), copied, freedBytes
}

// ForEachLive visits every object in the active half, in bump-allocation
// (linear-scan) order, for heap-snapshot enumeration.
func (s *SemiSpace) ForEachLive(fn func(handle Ptr, size int, tag Tag)) {
	type entry struct {
		offset uint64
		handle Ptr
		size   int
		tag    Tag
	}
	var live []entry
	for h, rec := range s.objects {
		if rec.space == s.active {
			live = append(live, entry{rec.offset, h, rec.size, rec.tag})
		}
	}
	// Insertion sort by offset: the active half's live set is small
	// relative to how often snapshots are taken, and objects are mostly
	// already offset-ordered right after a collection.
	for i := 1; i < len(live); i++ {
		for j := i; j > 0 && live[j-1].offset > live[j].offset; j-- {
			live[j-1], live[j] = live[j], live[j-1]
		}
	}
	for _, e := range live {
		fn(e.handle, e.size, e.tag)
	}
}

// LiveBytes sums the payload sizes of every object in the active half.
func (s *SemiSpace) LiveBytes() uint64 {
	var total uint64
	for _, rec := range s.objects {
		if rec.space == s.active {
			total += uint64(rec.size)
		}
	}
	return total
}
