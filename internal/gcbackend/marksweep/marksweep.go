// Package marksweep implements a mark-sweep collector: a fixed-size
// free-list arena, first-fit allocation with split/coalesce, and a
// stop-the-world mark/sweep cycle driven from the registered root set.
package marksweep

import (
	"fmt"

	"github.com/minimalisp-lang/heapgc/internal/clock"
	"github.com/minimalisp-lang/heapgc/internal/fatal"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

// DefaultArenaSize is the default mark-sweep arena size (4 MiB).
const DefaultArenaSize = 4 * 1024 * 1024

// DefaultGrowthFactor is applied by the default growth expression; kept
// as a named constant purely for documentation/tests, since the actual
// computation goes through common.GrowthPolicy.
const DefaultGrowthFactor = 1.5

// Backend is the mark-sweep collector.
type Backend struct {
	arena  *common.FreeArena
	roots  *common.RootIndex
	clk    clock.Clock
	growth *common.GrowthPolicy

	threshold  uint64
	collecting bool
	debug      bool

	stats common.Stats
}

// New returns an uninitialised mark-sweep backend; Init must be called
// before use.
func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "markSweep" }

// Init carves the arena and resets all counters. Idempotent: a second
// call replaces the arena (only the dispatcher is expected to call this,
// exactly once). A panic out of arena provisioning (the host allocator
// rejecting the requested size) is routed to the fatal path.
func (b *Backend) Init(cfg common.Config) error {
	size := cfg.HeapSize
	if size <= 0 {
		size = DefaultArenaSize
	}
	defer func() {
		if r := recover(); r != nil {
			fatal.Init(b.Name(), fmt.Errorf("%v", r))
		}
	}()
	b.arena = common.NewFreeArena(uint64(size))
	b.roots = common.NewRootIndex()
	b.clk = clock.Real{}
	b.growth = common.NewGrowthPolicy(cfg.GrowthExpr)
	b.debug = cfg.Debug
	b.collecting = false
	b.stats = common.Stats{}

	th := cfg.ThresholdBytes
	if th == 0 {
		th = uint64(size)
	}
	b.threshold = common.ClampThreshold(th)
	return nil
}

// Allocate returns n zeroed payload bytes, triggering a collection first
// if debug mode is on or the live-byte threshold has been crossed, and
// again (once) if the arena has no block large enough.
func (b *Backend) Allocate(n int) common.Ptr {
	if !b.collecting {
		if b.debug {
			b.Collect()
		} else if b.arena.LiveBytes()+uint64(n) >= b.threshold {
			b.Collect()
		}
	}

	p := b.arena.Alloc(n)
	if p == common.Null && !b.collecting {
		b.Collect()
		p = b.arena.Alloc(n)
	}
	if p == common.Null {
		fatal.OOM(b.Name(), n)
		return common.Null // unreachable; fatal.OOM terminates the process
	}

	b.stats.AllocatedBytes += uint64(n)
	b.stats.CurrentBytes = b.arena.LiveBytes()
	return p
}

func (b *Backend) Payload(p common.Ptr) []byte { return b.arena.Payload(p) }

func (b *Backend) SetTrace(p common.Ptr, fn common.TraceFunc) {
	if p == common.Null {
		return
	}
	b.arena.SetTrace(p, fn)
}

func (b *Backend) SetTag(p common.Ptr, tag common.Tag) {
	if p == common.Null {
		return
	}
	b.arena.SetTag(p, tag)
}

// MarkPointer marks p and, the first time it is visited in this cycle,
// invokes its trace function. Outside a collection it is a no-op
// returning p unchanged.
func (b *Backend) MarkPointer(p common.Ptr) common.Ptr {
	if !b.collecting || p == common.Null {
		return p
	}
	rec, firstVisit := b.arena.Mark(p)
	if rec == nil {
		return p
	}
	if firstVisit {
		b.stats.ObjectsScanned++
		if trace := b.arena.TraceOf(p); trace != nil {
			ctx := common.NewTraceCtx(b)
			trace(ctx)
		}
	}
	return p
}

func (b *Backend) AddRoot(slot *common.Ptr)    { b.roots.Add(slot) }
func (b *Backend) RemoveRoot(slot *common.Ptr) { b.roots.Remove(slot) }

// WriteBarrier is a no-op for mark-sweep: there is only one generation,
// so no remembered set is needed.
func (b *Backend) WriteBarrier(owner common.Ptr, slot *common.Ptr, child common.Ptr) {}

// Collect performs a full stop-the-world mark/sweep cycle. Reentrant
// calls are suppressed.
func (b *Backend) Collect() {
	if b.collecting {
		return
	}
	b.collecting = true
	start := b.clk.Now()

	b.roots.ForEach(func(slot *common.Ptr) {
		*slot = b.MarkPointer(*slot)
	})

	freedBytes, _ := b.arena.Sweep()

	b.collecting = false

	b.stats.Collections++
	b.stats.FreedBytes += freedBytes
	b.stats.CurrentBytes = b.arena.LiveBytes()

	pause := clock.MillisSince(b.clk, start)
	b.stats.LastPauseMS = pause
	b.stats.TotalPauseMS += pause
	if pause > b.stats.MaxPauseMS {
		b.stats.MaxPauseMS = pause
	}
	b.stats.AvgPauseMS = b.stats.TotalPauseMS / float64(b.stats.Collections)

	b.threshold = b.growth.Next(b.arena.LiveBytes(), b.arena.Capacity(), b.stats.Collections)
}

func (b *Backend) SetThreshold(bytes uint64) { b.threshold = common.ClampThreshold(bytes) }
func (b *Backend) GetThreshold() uint64      { return b.threshold }

func (b *Backend) Stats() common.Stats         { return b.stats }
func (b *Backend) FragStats() common.FragStats { return b.arena.FragStats() }

func (b *Backend) Snapshot() []common.SnapshotEntry {
	var out []common.SnapshotEntry
	b.arena.ForEachLive(func(handle common.Ptr, size int, tag common.Tag) {
		out = append(out, common.SnapshotEntry{
			Address:    uint64(handle),
			Size:       uint32(size),
			Generation: common.GenUnknown,
			Tag:        tag,
		})
	})
	return out
}
