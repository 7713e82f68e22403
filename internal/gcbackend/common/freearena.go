package common

// FreeArena implements a free-list-managed arena: a single contiguous
// byte region, an address-sorted singly-linked free list with first-fit
// allocation and split/coalesce, and a doubly-linked object list
// threading every live allocation for sweep-time iteration. It backs
// both the mark-sweep backend and the generational backend's old
// generation, which uses an arena of identical mechanism for its
// promoted objects.
//
// Free-list and object-list node metadata is kept in ordinary Go structs
// rather than packed into the byte arena itself. A packed-header layout
// threads free-node headers through the raw bytes it hands back out,
// which requires pointer arithmetic this redesign avoids entirely. The byte arena still exists and is still the thing payload
// slices are sliced from and zeroed into; only the bookkeeping moved out
// of-band. The allocation algorithm (first-fit, split-on-remainder,
// coalesce-on-free, address order) is unchanged.
type FreeArena struct {
	storage  []byte
	capacity uint64

	freeHead *freeNode
	objHead  *objRecord
	objTail  *objRecord
	objects  map[Ptr]*objRecord

	// counter issues handles. By default an arena owns its own (starting
	// at 0), but the generational backend shares a single counter
	// between its nursery and old generation so a Ptr value
	// unambiguously identifies which one holds it.
	counter   *Ptr
	ownCounter Ptr
	liveBytes  uint64
	objCount   int

	peakFragIndex float64

	// MinBlockSize is the minimum unit a block (free or allocated) can
	// be split down to; a split remainder smaller than this is folded
	// into the allocation instead of becoming its own free node.
	MinBlockSize uint64
	// HeaderOverhead is the notional per-object bookkeeping cost charged
	// against every live allocation for the wasted_bytes/fragmentation
	// diagnostics; there is no literal in-arena header in this design,
	// so this constant stands in for "header we'd have paid for in a
	// packed-byte layout."
	HeaderOverhead uint64
}

type freeNode struct {
	offset uint64
	size   uint64
	next   *freeNode
}

type objRecord struct {
	handle     Ptr
	offset     uint64
	size       int // payload size
	blockSize  uint64
	marked     bool
	trace      TraceFunc
	tag        Tag
	prev, next *objRecord
}

const (
	defaultMinBlockSize   uint64 = 16
	defaultHeaderOverhead uint64 = 24
)

// NewFreeArena allocates a fresh arena of the given capacity, entirely
// free.
func NewFreeArena(capacity uint64) *FreeArena {
	a := &FreeArena{
		storage:        make([]byte, capacity),
		capacity:       capacity,
		objects:        make(map[Ptr]*objRecord),
		MinBlockSize:   defaultMinBlockSize,
		HeaderOverhead: defaultHeaderOverhead,
	}
	a.counter = &a.ownCounter
	if capacity > 0 {
		a.freeHead = &freeNode{offset: 0, size: capacity}
	}
	return a
}

// NewFreeArenaShared is like NewFreeArena but issues handles from a
// counter shared with another arena/space, used by the generational
// backend so its nursery and old generation draw from one Ptr
// namespace.
func NewFreeArenaShared(capacity uint64, counter *Ptr) *FreeArena {
	a := NewFreeArena(capacity)
	a.counter = counter
	return a
}

// Capacity reports the arena's total byte size.
func (a *FreeArena) Capacity() uint64 { return a.capacity }

// LiveBytes reports the sum of payload sizes of currently live objects.
func (a *FreeArena) LiveBytes() uint64 { return a.liveBytes }

// Alloc first-fits n bytes, splitting the free block when the remainder
// can hold at least MinBlockSize. Returns Null if no block is large
// enough (caller triggers collection or aborts).
func (a *FreeArena) Alloc(n int) Ptr {
	need := uint64(n)
	blockSize := need
	if blockSize < a.MinBlockSize {
		blockSize = a.MinBlockSize
	}

	var prev *freeNode
	node := a.freeHead
	for node != nil && node.size < blockSize {
		prev = node
		node = node.next
	}
	if node == nil {
		return Null
	}

	offset := node.offset
	remainder := node.size - blockSize
	if remainder >= a.MinBlockSize {
		node.offset += blockSize
		node.size = remainder
	} else {
		blockSize = node.size
		if prev == nil {
			a.freeHead = node.next
		} else {
			prev.next = node.next
		}
	}

	clearBytes(a.storage[offset : offset+need])

	*a.counter++
	handle := *a.counter
	rec := &objRecord{handle: handle, offset: offset, size: n, blockSize: blockSize}
	a.objects[handle] = rec
	a.appendObj(rec)
	a.liveBytes += need
	a.objCount++
	return handle
}

func (a *FreeArena) appendObj(rec *objRecord) {
	rec.prev = a.objTail
	rec.next = nil
	if a.objTail != nil {
		a.objTail.next = rec
	} else {
		a.objHead = rec
	}
	a.objTail = rec
}

func (a *FreeArena) removeObj(rec *objRecord) {
	if rec.prev != nil {
		rec.prev.next = rec.next
	} else {
		a.objHead = rec.next
	}
	if rec.next != nil {
		rec.next.prev = rec.prev
	} else {
		a.objTail = rec.prev
	}
	rec.prev, rec.next = nil, nil
}

// freeBlock returns [offset, offset+size) to the free list, inserted at
// the correct address position and coalesced with whichever neighbours
// are now adjacent.
func (a *FreeArena) freeBlock(offset, size uint64) {
	var prev *freeNode
	node := a.freeHead
	for node != nil && node.offset < offset {
		prev = node
		node = node.next
	}
	nn := &freeNode{offset: offset, size: size, next: node}
	if prev == nil {
		a.freeHead = nn
	} else {
		prev.next = nn
	}
	if nn.next != nil && nn.offset+nn.size == nn.next.offset {
		nn.size += nn.next.size
		nn.next = nn.next.next
	}
	if prev != nil && prev.offset+prev.size == nn.offset {
		prev.size += nn.size
		prev.next = nn.next
	}
}

// Payload returns the live payload slice for handle, or nil if handle is
// unknown (freed or never issued by this arena).
func (a *FreeArena) Payload(handle Ptr) []byte {
	rec, ok := a.objects[handle]
	if !ok {
		return nil
	}
	return a.storage[rec.offset : rec.offset+uint64(rec.size)]
}

func (a *FreeArena) record(handle Ptr) (*objRecord, bool) {
	rec, ok := a.objects[handle]
	return rec, ok
}

// SetTrace installs/replaces the trace function for handle. No-op if
// handle is unknown.
func (a *FreeArena) SetTrace(handle Ptr, fn TraceFunc) {
	if rec, ok := a.objects[handle]; ok {
		rec.trace = fn
	}
}

// SetTag records the diagnostic tag for handle. No-op if unknown.
func (a *FreeArena) SetTag(handle Ptr, tag Tag) {
	if rec, ok := a.objects[handle]; ok {
		rec.tag = tag
	}
}

// TraceOf returns the trace function installed for handle, or nil if
// handle is unknown or has no trace installed.
func (a *FreeArena) TraceOf(handle Ptr) TraceFunc {
	if rec, ok := a.objects[handle]; ok {
		return rec.trace
	}
	return nil
}

// Mark sets the mark bit for handle if not already set, returning true
// the first time (so the caller knows whether to recurse into its
// trace). Returns false for an unknown handle.
func (a *FreeArena) Mark(handle Ptr) (rec *objRecord, firstVisit bool) {
	r, ok := a.objects[handle]
	if !ok {
		return nil, false
	}
	if r.marked {
		return r, false
	}
	r.marked = true
	return r, true
}

// Sweep walks the object list, returning every unmarked object to the
// free list (with coalescing) and clearing mark bits on survivors.
func (a *FreeArena) Sweep() (freedBytes uint64, freedCount int) {
	rec := a.objHead
	for rec != nil {
		next := rec.next
		if !rec.marked {
			a.removeObj(rec)
			delete(a.objects, rec.handle)
			a.freeBlock(rec.offset, rec.blockSize)
			a.liveBytes -= uint64(rec.size)
			a.objCount--
			freedBytes += uint64(rec.size)
			freedCount++
		} else {
			rec.marked = false
		}
		rec = next
	}
	a.updatePeakFrag()
	return
}

// ForEachLive visits every live object in object-list order (allocation
// order modulo sweep removals), for heap-snapshot enumeration.
func (a *FreeArena) ForEachLive(fn func(handle Ptr, size int, tag Tag)) {
	for rec := a.objHead; rec != nil; rec = rec.next {
		fn(rec.handle, rec.size, rec.tag)
	}
}

// FragStats computes the fragmentation metrics by walking the free list.
func (a *FreeArena) FragStats() FragStats {
	var largest, total uint64
	var count int
	for node := a.freeHead; node != nil; node = node.next {
		if node.size > largest {
			largest = node.size
		}
		total += node.size
		count++
	}

	var fragIndex float64
	if total > 0 {
		fragIndex = 1 - float64(largest)/float64(total)
	}

	var wasted uint64
	for rec := a.objHead; rec != nil; rec = rec.next {
		wasted += rec.blockSize - uint64(rec.size) + a.HeaderOverhead
	}

	var avgPad float64
	if a.objCount > 0 {
		avgPad = float64(wasted) / float64(a.objCount)
	}

	var internalRatio float64
	if a.liveBytes+wasted > 0 {
		internalRatio = float64(wasted) / float64(a.liveBytes+wasted)
	}

	return FragStats{
		LargestFreeBlock:           largest,
		TotalFreeMemory:            total,
		FreeBlocksCount:            count,
		FragmentationIndex:         fragIndex,
		PeakFragmentationIndex:     a.peakFragIndex,
		WastedBytes:                wasted,
		InternalFragmentationRatio: internalRatio,
		AveragePaddingPerObject:    avgPad,
	}
}

func (a *FreeArena) updatePeakFrag() {
	f := a.FragStats()
	if f.FragmentationIndex > a.peakFragIndex {
		a.peakFragIndex = f.FragmentationIndex
	}
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
