// Package copying implements a semi-space (Cheney-style) collector: a
// single generation split into two equal halves, where every collection
// evacuates survivors from the active half into the other and flips
// which half is active.
package copying

import (
	"fmt"

	"github.com/minimalisp-lang/heapgc/internal/clock"
	"github.com/minimalisp-lang/heapgc/internal/fatal"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

// DefaultSemiSpaceSize is the default size of each semi-space half (32 MiB).
const DefaultSemiSpaceSize = 32 * 1024 * 1024

// Backend is the copying collector.
type Backend struct {
	space *common.SemiSpace
	roots *common.RootIndex
	clk   clock.Clock

	collecting bool
	debug      bool
	threshold  uint64
	stats      common.Stats
}

func New() *Backend { return &Backend{} }

func (b *Backend) Name() string { return "copying" }

// Init provisions the two semi-spaces. A panic out of space provisioning
// (the host allocator rejecting the requested size) is routed to the
// fatal path.
func (b *Backend) Init(cfg common.Config) error {
	size := cfg.HeapSize
	if size <= 0 {
		size = DefaultSemiSpaceSize
	}
	defer func() {
		if r := recover(); r != nil {
			fatal.Init(b.Name(), fmt.Errorf("%v", r))
		}
	}()
	b.space = common.NewSemiSpace(uint64(size))
	b.roots = common.NewRootIndex()
	b.clk = clock.Real{}
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

func (b *Backend) Allocate(n int) common.Ptr {
	if !b.collecting {
		if b.debug {
			b.Collect()
		} else if b.space.Used()+uint64(n) >= b.threshold {
			b.Collect()
		}
	}

	p := b.space.Alloc(n)
	if p == common.Null && !b.collecting {
		b.Collect()
		p = b.space.Alloc(n)
	}
	if p == common.Null {
		fatal.OOM(b.Name(), n)
		return common.Null
	}

	b.stats.AllocatedBytes += uint64(n)
	b.stats.CurrentBytes = b.space.LiveBytes()
	return p
}

func (b *Backend) Payload(p common.Ptr) []byte { return b.space.Payload(p) }

func (b *Backend) SetTrace(p common.Ptr, fn common.TraceFunc) {
	if p == common.Null {
		return
	}
	b.space.SetTrace(p, fn)
}

func (b *Backend) SetTag(p common.Ptr, tag common.Tag) {
	if p == common.Null {
		return
	}
	b.space.SetTag(p, tag)
}

// MarkPointer forwards p to its to-space copy during a collection; outside
// one it returns p unchanged.
func (b *Backend) MarkPointer(p common.Ptr) common.Ptr {
	if !b.collecting {
		return p
	}
	return b.space.CopyPointer(p)
}

func (b *Backend) AddRoot(slot *common.Ptr)    { b.roots.Add(slot) }
func (b *Backend) RemoveRoot(slot *common.Ptr) { b.roots.Remove(slot) }

// WriteBarrier is a no-op: copying has only one generation, so there is
// no remembered set to maintain.
func (b *Backend) WriteBarrier(owner common.Ptr, slot *common.Ptr, child common.Ptr) {}

// Collect runs a full Cheney-style cycle: swap spaces, evacuate roots,
// then scan to-space to a fixpoint. Reentrant calls are suppressed.
func (b *Backend) Collect() {
	if b.collecting {
		return
	}
	b.collecting = true
	start := b.clk.Now()

	// to-space exhaustion is fatal and unrecoverable: SemiSpace.CopyPointer
	// panics with a sentinel and we translate that into the
	// process-terminating fatal path right here.
	defer func() {
		if r := recover(); r != nil {
			if r == common.ErrToSpaceExhausted {
				fatal.ToSpaceExhausted(b.Name())
				return
			}
			panic(r)
		}
	}()

	b.space.BeginCollect()

	b.roots.ForEach(func(slot *common.Ptr) {
		*slot = b.space.CopyPointer(*slot)
	})

	for {
		_, trace, ok := b.space.ScanNext()
		if !ok {
			break
		}
		if trace != nil {
			ctx := common.NewTraceCtx(b)
			trace(ctx)
		}
	}

	scanned, copied, freed := b.space.EndCollect()
	b.collecting = false

	b.stats.Collections++
	b.stats.ObjectsScanned += uint64(scanned)
	b.stats.ObjectsCopied += uint64(copied)
	b.stats.FreedBytes += freed
	if scanned > 0 {
		b.stats.SurvivalRate = float64(copied) / float64(scanned)
	} else {
		b.stats.SurvivalRate = 0
	}
	b.stats.CurrentBytes = b.space.LiveBytes()

	pause := clock.MillisSince(b.clk, start)
	b.stats.LastPauseMS = pause
	b.stats.TotalPauseMS += pause
	if pause > b.stats.MaxPauseMS {
		b.stats.MaxPauseMS = pause
	}
	b.stats.AvgPauseMS = b.stats.TotalPauseMS / float64(b.stats.Collections)

	b.threshold = common.ClampThreshold(b.space.Capacity())
}

func (b *Backend) SetThreshold(bytes uint64) { b.threshold = common.ClampThreshold(bytes) }
func (b *Backend) GetThreshold() uint64      { return b.threshold }

func (b *Backend) Stats() common.Stats { return b.stats }

// FragStats is not meaningful for a bump-pointer copying heap (there is
// no free list to walk); it reports the trivial all-or-nothing shape.
func (b *Backend) FragStats() common.FragStats {
	free := b.space.Capacity() - b.space.Used()
	return common.FragStats{
		LargestFreeBlock: free,
		TotalFreeMemory:  free,
		FreeBlocksCount:  boolToInt(free > 0),
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (b *Backend) Snapshot() []common.SnapshotEntry {
	var out []common.SnapshotEntry
	b.space.ForEachLive(func(handle common.Ptr, size int, tag common.Tag) {
		out = append(out, common.SnapshotEntry{
			Address:    uint64(handle),
			Size:       uint32(size),
			Generation: common.GenUnknown,
			Tag:        tag,
		})
	})
	return out
}
