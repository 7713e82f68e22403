// Package generational implements a two-generation collector: a
// two-space copying nursery for young objects, a free-list old
// generation identical in mechanism to the mark-sweep backend, a
// write-barrier-maintained remembered set bridging the two, and
// deep-promotion scanning so an object promoted out of the nursery
// drags its own young referents along with it.
package generational

import (
	"fmt"

	"github.com/minimalisp-lang/heapgc/internal/clock"
	"github.com/minimalisp-lang/heapgc/internal/fatal"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

const (
	DefaultNurseryHalfSize = 512 * 1024
	DefaultOldGenSize      = 4 * 1024 * 1024
	DefaultPromoteAge      = 2
)

type phase int

const (
	phaseNone phase = iota
	phaseMinor
	phaseOldMark
)

type nurseryObj struct {
	offset  uint64
	size    int
	trace   common.TraceFunc
	tag     common.Tag
	age     byte
	half    int
	forward common.Ptr
	marked  bool // visited during a major collection's old-gen mark phase
}

// Backend is the generational collector.
type Backend struct {
	nursery     [2][]byte
	nurserySize uint64
	activeHalf  int
	fromHalf    int
	bump        uint64
	nurseryObjs map[common.Ptr]*nurseryObj
	counter     common.Ptr

	oldGen       *common.FreeArena
	oldThreshold uint64

	roots      *common.RootIndex
	remembered *common.RootIndex

	clk        clock.Clock
	growth     *common.GrowthPolicy
	promoteAge byte
	debug      bool

	minorCollecting bool
	majorCollecting bool
	ph              phase
	deepPromoting   bool

	scanList        []common.Ptr
	scanIdx         int
	promoteWorklist []common.Ptr
	promoteIdx      int

	stats common.Stats
}

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "generational" }

func (b *Backend) Init(cfg common.Config) error {
	nsize := cfg.NurserySize
	if nsize <= 0 {
		nsize = DefaultNurseryHalfSize
	}
	osize := cfg.HeapSize
	if osize <= 0 {
		osize = DefaultOldGenSize
	}
	page := cfg.PromoteAge
	if page <= 0 {
		page = DefaultPromoteAge
	}

	// A panic out of arena provisioning (the host allocator rejecting the
	// requested nursery or old-gen size) is routed to the fatal path.
	defer func() {
		if r := recover(); r != nil {
			fatal.Init(b.Name(), fmt.Errorf("%v", r))
		}
	}()

	b.nursery = [2][]byte{make([]byte, nsize), make([]byte, nsize)}
	b.nurserySize = uint64(nsize)
	b.activeHalf = 0
	b.bump = 0
	b.nurseryObjs = make(map[common.Ptr]*nurseryObj)
	b.counter = 0
	b.oldGen = common.NewFreeArenaShared(uint64(osize), &b.counter)
	b.roots = common.NewRootIndex()
	b.remembered = common.NewRootIndex()
	b.clk = clock.Real{}
	b.promoteAge = byte(page)
	b.growth = common.NewGrowthPolicy(cfg.GrowthExpr)
	b.debug = cfg.Debug
	b.stats = common.Stats{}

	th := cfg.ThresholdBytes
	if th == 0 {
		th = uint64(osize)
	}
	b.oldThreshold = common.ClampThreshold(th)
	return nil
}

func (b *Backend) allocNursery(n int) common.Ptr {
	need := uint64(n)
	if b.bump+need > b.nurserySize {
		return common.Null
	}
	offset := b.bump
	b.bump += need
	clearBytes(b.nursery[b.activeHalf][offset : offset+need])

	b.counter++
	h := b.counter
	b.nurseryObjs[h] = &nurseryObj{offset: offset, size: n, half: b.activeHalf}
	return h
}

func clearBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// Allocate falls through a minor collection, then a major collection,
// aborting only if both leave the nursery still unable to fit n bytes.
func (b *Backend) Allocate(n int) common.Ptr {
	if b.debug && !b.minorCollecting && !b.majorCollecting {
		b.minorCollect()
	}

	p := b.allocNursery(n)
	if p == common.Null {
		b.minorCollect()
		p = b.allocNursery(n)
	}
	if p == common.Null {
		b.majorCollect()
		p = b.allocNursery(n)
	}
	if p == common.Null {
		fatal.OOM(b.Name(), n)
		return common.Null
	}

	b.stats.AllocatedBytes += uint64(n)
	b.stats.CurrentBytes = b.liveBytes()
	return p
}

func (b *Backend) liveBytes() uint64 {
	var nurseryLive uint64
	for _, obj := range b.nurseryObjs {
		if obj.half == b.activeHalf {
			nurseryLive += uint64(obj.size)
		}
	}
	return nurseryLive + b.oldGen.LiveBytes()
}

func (b *Backend) Payload(p common.Ptr) []byte {
	if obj, ok := b.nurseryObjs[p]; ok {
		return b.nursery[obj.half][obj.offset : obj.offset+uint64(obj.size)]
	}
	return b.oldGen.Payload(p)
}

func (b *Backend) SetTrace(p common.Ptr, fn common.TraceFunc) {
	if p == common.Null {
		return
	}
	if obj, ok := b.nurseryObjs[p]; ok {
		obj.trace = fn
		return
	}
	b.oldGen.SetTrace(p, fn)
}

func (b *Backend) SetTag(p common.Ptr, tag common.Tag) {
	if p == common.Null {
		return
	}
	if obj, ok := b.nurseryObjs[p]; ok {
		obj.tag = tag
		return
	}
	b.oldGen.SetTag(p, tag)
}

// MarkPointer dispatches on which phase of collection is in progress:
// nursery evacuation during a minor collection, or old-gen mark/sweep
// during a major collection's second phase. Outside any collection it
// returns p unchanged.
func (b *Backend) MarkPointer(p common.Ptr) common.Ptr {
	if p == common.Null {
		return common.Null
	}
	switch b.ph {
	case phaseMinor:
		return b.evacuate(p)
	case phaseOldMark:
		// Old-gen objects may be reachable only through a young object's
		// fields (a root points at young Y, Y points at old O), so the
		// mark phase traces through nursery objects too, without moving
		// them and at most once each.
		if obj, young := b.nurseryObjs[p]; young {
			if !obj.marked {
				obj.marked = true
				b.stats.ObjectsScanned++
				if obj.trace != nil {
					ctx := common.NewTraceCtx(b)
					obj.trace(ctx)
				}
			}
			return p
		}
		rec, first := b.oldGen.Mark(p)
		if rec == nil {
			return p
		}
		if first {
			b.stats.ObjectsScanned++
			if trace := b.oldGen.TraceOf(p); trace != nil {
				ctx := common.NewTraceCtx(b)
				trace(ctx)
			}
		}
		return p
	default:
		return p
	}
}

// evacuate is copy_pointer specialised for the nursery: a young object
// not yet forwarded is either copied into the new nursery half (age+1 <
// PROMOTE_AGE) or promoted into the old generation. While deep-promoting
// (tracing an object reached from the promotion worklist), every young
// child is itself forced into promotion rather than copied in-nursery;
// keeping old-to-young references here would require remembered-set
// entries for fields we cannot enumerate post-hoc.
func (b *Backend) evacuate(p common.Ptr) common.Ptr {
	obj, ok := b.nurseryObjs[p]
	if !ok {
		return p // already old, or not a managed handle at all
	}
	if obj.forward != common.Null {
		return obj.forward
	}
	if obj.half == b.activeHalf {
		return p // already a to-half copy; re-copying would break mark idempotence
	}
	if b.deepPromoting || int(obj.age)+1 >= int(b.promoteAge) {
		return b.promote(p, obj)
	}
	return b.copyYoung(p, obj)
}

func (b *Backend) copyYoung(p common.Ptr, obj *nurseryObj) common.Ptr {
	need := uint64(obj.size)
	if b.bump+need > b.nurserySize {
		fatal.ToSpaceExhausted(b.Name())
		return common.Null
	}
	offset := b.bump
	b.bump += need
	copy(b.nursery[b.activeHalf][offset:offset+need], b.nursery[obj.half][obj.offset:obj.offset+uint64(obj.size)])

	b.counter++
	newHandle := b.counter
	newObj := &nurseryObj{offset: offset, size: obj.size, trace: obj.trace, tag: obj.tag, age: obj.age + 1, half: b.activeHalf}
	b.nurseryObjs[newHandle] = newObj
	obj.forward = newHandle
	b.scanList = append(b.scanList, newHandle)
	b.stats.ObjectsCopied++
	return newHandle
}

func (b *Backend) promote(p common.Ptr, obj *nurseryObj) common.Ptr {
	newHandle := b.oldGen.Alloc(obj.size)
	if newHandle == common.Null {
		fatal.OOM(b.Name()+":promote", obj.size)
		return common.Null
	}
	copy(b.oldGen.Payload(newHandle), b.nursery[obj.half][obj.offset:obj.offset+uint64(obj.size)])
	b.oldGen.SetTrace(newHandle, obj.trace)
	b.oldGen.SetTag(newHandle, obj.tag)
	obj.forward = newHandle
	b.stats.ObjectsPromoted++
	b.promoteWorklist = append(b.promoteWorklist, newHandle)
	return newHandle
}

func (b *Backend) AddRoot(slot *common.Ptr)    { b.roots.Add(slot) }
func (b *Backend) RemoveRoot(slot *common.Ptr) { b.roots.Remove(slot) }

// WriteBarrier records slot in the remembered set when owner is an old
// (or already-promoted) object and child currently lives in the active
// nursery half. No-op when owner is itself young (root reachability will
// cover it) or child is null/old.
func (b *Backend) WriteBarrier(owner common.Ptr, slot *common.Ptr, child common.Ptr) {
	if slot == nil || child == common.Null {
		return
	}
	if _, ownerYoung := b.nurseryObjs[owner]; ownerYoung {
		return
	}
	if obj, ok := b.nurseryObjs[child]; ok && obj.half == b.activeHalf {
		b.remembered.Add(slot)
	}
}

// Collect performs a minor collection, then a major collection if the
// old generation has grown past its threshold.
func (b *Backend) Collect() {
	if b.minorCollecting || b.majorCollecting {
		return
	}
	b.minorCollect()
	if b.oldGen.LiveBytes() > b.oldThreshold {
		b.majorCollect()
	}
}

// minorCollect evacuates the nursery: swap halves, evacuate roots and
// remembered slots, drain the normal scan queue and the deep-promotion
// worklist to a fixpoint, then clean stale remembered-set entries.
func (b *Backend) minorCollect() {
	if b.minorCollecting {
		return
	}
	b.minorCollecting = true
	b.ph = phaseMinor
	start := b.clk.Now()

	b.fromHalf = b.activeHalf
	b.activeHalf = 1 - b.activeHalf
	b.bump = 0
	b.scanList = b.scanList[:0]
	b.scanIdx = 0
	b.promoteWorklist = b.promoteWorklist[:0]
	b.promoteIdx = 0
	b.deepPromoting = false

	b.roots.ForEach(func(slot *common.Ptr) {
		*slot = b.evacuate(*slot)
	})
	b.remembered.ForEach(func(slot *common.Ptr) {
		*slot = b.evacuate(*slot)
	})

	for {
		progressed := false
		for b.scanIdx < len(b.scanList) {
			h := b.scanList[b.scanIdx]
			b.scanIdx++
			obj := b.nurseryObjs[h]
			if obj.trace != nil {
				b.deepPromoting = false
				ctx := common.NewTraceCtx(b)
				obj.trace(ctx)
			}
			progressed = true
		}
		for b.promoteIdx < len(b.promoteWorklist) {
			h := b.promoteWorklist[b.promoteIdx]
			b.promoteIdx++
			if trace := b.oldGen.TraceOf(h); trace != nil {
				b.deepPromoting = true
				ctx := common.NewTraceCtx(b)
				trace(ctx)
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	b.deepPromoting = false

	var stale []*common.Ptr
	b.remembered.ForEach(func(slot *common.Ptr) {
		obj, ok := b.nurseryObjs[*slot]
		if !ok || obj.half != b.activeHalf {
			stale = append(stale, slot)
		}
	})
	for _, s := range stale {
		b.remembered.Remove(s)
	}

	var freedBytes uint64
	for h, obj := range b.nurseryObjs {
		if obj.half == b.fromHalf {
			if obj.forward == common.Null {
				freedBytes += uint64(obj.size)
			}
			delete(b.nurseryObjs, h)
		}
	}

	b.ph = phaseNone
	b.minorCollecting = false

	scanned := len(b.scanList) + len(b.promoteWorklist)
	b.stats.Collections++
	b.stats.ObjectsScanned += uint64(scanned)
	b.stats.FreedBytes += freedBytes
	if scanned > 0 {
		b.stats.SurvivalRate = float64(len(b.scanList)) / float64(scanned)
	} else {
		b.stats.SurvivalRate = 0
	}
	b.stats.CurrentBytes = b.liveBytes()

	pause := clock.MillisSince(b.clk, start)
	b.recordPause(pause)
}

// majorCollect runs a minor collection, then mark-and-sweeps the old
// generation. Marking starts from the root set and the remembered set,
// and traverses young objects in place where they hold the only path to
// an old one.
func (b *Backend) majorCollect() {
	if b.majorCollecting {
		return
	}
	b.majorCollecting = true
	b.minorCollect()

	b.ph = phaseOldMark
	start := b.clk.Now()

	b.roots.ForEach(func(slot *common.Ptr) {
		*slot = b.MarkPointer(*slot)
	})
	b.remembered.ForEach(func(slot *common.Ptr) {
		*slot = b.MarkPointer(*slot)
	})

	freedBytes, _ := b.oldGen.Sweep()
	for _, obj := range b.nurseryObjs {
		obj.marked = false
	}
	b.ph = phaseNone
	b.majorCollecting = false

	b.stats.Collections++
	b.stats.FreedBytes += freedBytes
	b.stats.CurrentBytes = b.liveBytes()

	pause := clock.MillisSince(b.clk, start)
	b.recordPause(pause)

	b.oldThreshold = b.growth.Next(b.oldGen.LiveBytes(), b.oldGen.Capacity(), b.stats.Collections)
}

func (b *Backend) recordPause(pause float64) {
	b.stats.LastPauseMS = pause
	b.stats.TotalPauseMS += pause
	if pause > b.stats.MaxPauseMS {
		b.stats.MaxPauseMS = pause
	}
	b.stats.AvgPauseMS = b.stats.TotalPauseMS / float64(b.stats.Collections)
}

// SetThreshold/GetThreshold govern the old-generation promotion
// threshold that gates whether an explicit Collect escalates to a major
// collection (a major collection runs whenever old-gen live bytes
// exceed this threshold).
func (b *Backend) SetThreshold(bytes uint64) { b.oldThreshold = common.ClampThreshold(bytes) }
func (b *Backend) GetThreshold() uint64      { return b.oldThreshold }

func (b *Backend) Stats() common.Stats { return b.stats }

func (b *Backend) FragStats() common.FragStats { return b.oldGen.FragStats() }

func (b *Backend) Snapshot() []common.SnapshotEntry {
	var out []common.SnapshotEntry
	for h, obj := range b.nurseryObjs {
		if obj.half != b.activeHalf {
			continue
		}
		out = append(out, common.SnapshotEntry{
			Address:    uint64(h),
			Size:       uint32(obj.size),
			Generation: common.GenNursery,
			Tag:        obj.tag,
		})
	}
	b.oldGen.ForEachLive(func(handle common.Ptr, size int, tag common.Tag) {
		out = append(out, common.SnapshotEntry{
			Address:    uint64(handle),
			Size:       uint32(size),
			Generation: common.GenOld,
			Tag:        tag,
		})
	})
	return out
}
