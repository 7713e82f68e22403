package common

import "unsafe"

// RootIndex is an open-addressed hash table mapping a slot's address to
// its position in a dense array of registered slots. It gives O(1) duplicate detection, O(1)
// insertion, and O(1) removal via swap-with-last-and-rehash-probe-cluster,
// and is reused both for the mutator's root set and, in the generational
// backend, for the remembered set (both are "sets of slot addresses").
type RootIndex struct {
	buckets  []bucket
	array    []*Ptr
	count    int // live buckets (used && !deleted is not tracked; linear probing has no tombstones here)
}

type bucket struct {
	key  *Ptr
	idx  int
	used bool
}

const minBuckets = 16

// NewRootIndex builds an empty index.
func NewRootIndex() *RootIndex {
	return &RootIndex{
		buckets: make([]bucket, minBuckets),
	}
}

func slotHash(slot *Ptr) uint64 {
	addr := uint64(uintptr(unsafe.Pointer(slot)))
	// A 64-bit xor-shift/multiply finalizer mix (as in MurmurHash3) to
	// spread pointer addresses, which are usually aligned (low bits all
	// zero) and would otherwise cluster badly.
	addr ^= addr >> 33
	addr *= 0xff51afd7ed558ccd
	addr ^= addr >> 33
	return addr
}

func (r *RootIndex) bucketFor(slot *Ptr) int {
	mask := uint64(len(r.buckets) - 1)
	i := slotHash(slot) & mask
	for r.buckets[i].used {
		if r.buckets[i].key == slot {
			return int(i)
		}
		i = (i + 1) & mask
	}
	return int(i)
}

// findFilled returns the bucket index currently holding slot, or -1.
func (r *RootIndex) findFilled(slot *Ptr) int {
	mask := uint64(len(r.buckets) - 1)
	i := slotHash(slot) & mask
	for r.buckets[i].used {
		if r.buckets[i].key == slot {
			return int(i)
		}
		i = (i + 1) & mask
	}
	return -1
}

func (r *RootIndex) grow() {
	old := r.buckets
	r.buckets = make([]bucket, len(old)*2)
	for _, b := range old {
		if !b.used {
			continue
		}
		i := r.bucketFor(b.key)
		r.buckets[i] = bucket{key: b.key, idx: b.idx, used: true}
	}
}

// Add registers slot if it is not already present. Returns true if slot
// was newly added. Duplicate registration is a no-op (idempotent).
func (r *RootIndex) Add(slot *Ptr) bool {
	if slot == nil {
		return false
	}
	if len(r.buckets)*3 <= (r.count+1)*4 { // load factor > 0.75
		r.grow()
	}
	i := r.bucketFor(slot)
	if r.buckets[i].used {
		return false // already present
	}
	idx := len(r.array)
	r.array = append(r.array, slot)
	r.buckets[i] = bucket{key: slot, idx: idx, used: true}
	r.count++
	return true
}

// Contains reports whether slot is currently registered.
func (r *RootIndex) Contains(slot *Ptr) bool {
	if slot == nil {
		return false
	}
	return r.findFilled(slot) >= 0
}

// Remove unregisters slot. Removing an unregistered slot is a no-op.
func (r *RootIndex) Remove(slot *Ptr) bool {
	if slot == nil {
		return false
	}
	bi := r.findFilled(slot)
	if bi < 0 {
		return false
	}
	freedIdx := r.buckets[bi].idx
	lastIdx := len(r.array) - 1

	if freedIdx != lastIdx {
		movedSlot := r.array[lastIdx]
		r.array[freedIdx] = movedSlot
		mbi := r.findFilled(movedSlot)
		r.buckets[mbi].idx = freedIdx
	}
	r.array = r.array[:lastIdx]
	r.count--

	// Classic open-addressing deletion: clear the freed bucket, then walk
	// the probe cluster that follows it, reinserting every entry so none
	// of them appear to have vanished behind the now-empty bucket.
	mask := uint64(len(r.buckets) - 1)
	r.buckets[bi] = bucket{}
	i := (uint64(bi) + 1) & mask
	for r.buckets[i].used {
		b := r.buckets[i]
		r.buckets[i] = bucket{}
		r.count--
		j := r.bucketFor(b.key)
		r.buckets[j] = b
		r.count++
		i = (i + 1) & mask
	}
	return true
}

// Len reports the number of registered slots.
func (r *RootIndex) Len() int {
	return len(r.array)
}

// ForEach visits every registered slot. fn must not add or remove slots.
func (r *RootIndex) ForEach(fn func(slot *Ptr)) {
	for _, slot := range r.array {
		fn(slot)
	}
}

// Slots returns the dense backing array directly; callers must treat it
// as read-only.
func (r *RootIndex) Slots() []*Ptr {
	return r.array
}
