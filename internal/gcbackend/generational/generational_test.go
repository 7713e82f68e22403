package generational

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

func newTestBackend(t *testing.T, cfg common.Config) *Backend {
	t.Helper()
	b := New()
	require.NoError(t, b.Init(cfg))
	return b
}

func TestGenerationalNameAndDefaults(t *testing.T) {
	b := newTestBackend(t, common.Config{})
	assert.Equal(t, "generational", b.Name())
	assert.Equal(t, uint64(DefaultOldGenSize), b.GetThreshold())
}

func TestGenerationalAllocateZeroesPayload(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096})
	p := b.Allocate(16)
	payload := b.Payload(p)
	require.Len(t, payload, 16)
	for _, bb := range payload {
		assert.Equal(t, byte(0), bb)
	}
}

func TestGenerationalMinorCollectReclaimsUnreachable(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096})

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(16)
	b.SetTrace(root, func(ctx *common.TraceCtx) {})

	garbage := b.Allocate(16)
	b.SetTrace(garbage, func(ctx *common.TraceCtx) {})

	b.Collect()

	assert.NotNil(t, b.Payload(root))
	assert.Nil(t, b.Payload(garbage))
}

func TestGenerationalSurvivorAgesAndEventuallyPromotes(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096, PromoteAge: 2})

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(16)
	b.SetTrace(root, func(ctx *common.TraceCtx) {})

	// First minor collection: age 0 -> 1, still below PromoteAge (2), so it
	// stays in the nursery as a copied (not promoted) object.
	b.Collect()
	assert.Equal(t, uint64(0), b.Stats().ObjectsPromoted)
	_, stillNursery := b.nurseryObjs[root]
	assert.True(t, stillNursery)

	// Second minor collection: age 1 -> 2 meets PromoteAge, so this time it
	// must be promoted into the old generation.
	b.Collect()
	assert.Equal(t, uint64(1), b.Stats().ObjectsPromoted)
	_, inNursery := b.nurseryObjs[root]
	assert.False(t, inNursery, "object should have left the nursery once promoted")
	assert.NotNil(t, b.oldGen.Payload(root))
}

func TestGenerationalWriteBarrierTracksOldToYoungReferences(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096, PromoteAge: 1})

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(16)
	b.SetTrace(root, func(ctx *common.TraceCtx) {})

	// PromoteAge 1 means the very first minor collection promotes root
	// straight into the old generation.
	b.Collect()
	require.NotEqual(t, common.Null, root)
	_, inNursery := b.nurseryObjs[root]
	require.False(t, inNursery, "root should already be promoted")

	// Now the mutator links a fresh nursery object as a child of the
	// promoted (old) object, via a field the old object's trace will walk.
	var childField common.Ptr
	child := b.Allocate(8)
	b.SetTrace(child, func(ctx *common.TraceCtx) {})
	childField = child
	b.oldGen.SetTrace(root, func(ctx *common.TraceCtx) {
		childField = ctx.Mark(childField)
	})
	b.WriteBarrier(root, &childField, child)

	// Without a remembered-set entry, a minor collection has no root
	// reaching the nursery child, so it would be wrongly reclaimed.
	b.Collect()
	assert.NotNil(t, b.Payload(childField), "child reachable only via the remembered set must survive a minor collection")
}

func TestGenerationalWriteBarrierNoOpWhenOwnerYoung(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096})

	owner := b.Allocate(8)
	b.SetTrace(owner, func(ctx *common.TraceCtx) {})
	child := b.Allocate(8)
	b.SetTrace(child, func(ctx *common.TraceCtx) {})

	var slot common.Ptr
	b.WriteBarrier(owner, &slot, child)
	assert.Equal(t, 0, b.remembered.Len(), "a young owner never needs a remembered-set entry")
}

// Scenario 3: an object O is promoted into the old generation by two
// minor collections under PromoteAge 2. A fresh nursery object Y is then
// linked into one of O's fields under the write barrier, Y's own root is
// dropped, and a further minor collection must still keep Y alive and
// leave O's field pointing at Y's new (post-collection) address, proving
// that the remembered set, not O's absent young-generation trace, is
// what kept Y reachable.
func TestScenario3WriteBarrierKeepsPromotedObjectsChildAlive(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096, PromoteAge: 2})

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(16)
	b.SetTrace(root, func(ctx *common.TraceCtx) {})

	b.Collect() // age 0 -> 1, still nursery
	_, stillNursery := b.nurseryObjs[root]
	require.True(t, stillNursery)

	b.Collect() // age 1 -> 2, meets PromoteAge: O promotes
	_, inNursery := b.nurseryObjs[root]
	require.False(t, inNursery, "O must be promoted before scenario 3 continues")
	o := root

	var yRoot common.Ptr
	b.AddRoot(&yRoot)
	yRoot = b.Allocate(8)
	b.SetTrace(yRoot, func(ctx *common.TraceCtx) {})
	y := yRoot
	originalY := y

	var oField common.Ptr
	b.oldGen.SetTrace(o, func(ctx *common.TraceCtx) {
		oField = ctx.Mark(oField)
	})
	oField = y
	b.WriteBarrier(o, &oField, y)

	b.RemoveRoot(&yRoot)

	b.Collect() // minor collect: Y must survive via the remembered set alone

	assert.NotNil(t, b.Payload(oField), "Y must survive a minor collection once reachable only through O's remembered field")
	assert.NotEqual(t, originalY, oField, "O's field must be updated to Y's new post-collection address")
}

// Scenario 4: a chain Y1 -> Y2 -> Y3, each referenced only by its
// predecessor, is rooted at Y1 and survives two minor collections under
// PromoteAge 2. The second collection promotes Y1 (age reaches 2) and
// must cascade that promotion down the whole chain in the same pass:
// Y2 and Y3 each get force-promoted regardless of their own age, since a
// promoted object can never hold an old-to-young pointer. All three must
// end up in the old generation with the remembered set left empty.
func TestScenario4DeepPromotionCascadesThroughChain(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096, PromoteAge: 2})

	y3 := b.Allocate(8)
	b.SetTrace(y3, func(ctx *common.TraceCtx) {})

	var y2Child common.Ptr // Y2's field, pointing at Y3
	y2 := b.Allocate(8)
	b.SetTrace(y2, func(ctx *common.TraceCtx) {
		y2Child = ctx.Mark(y2Child)
	})
	y2Child = y3

	var y1Child common.Ptr // Y1's field, pointing at Y2
	var root common.Ptr
	b.AddRoot(&root)
	y1 := b.Allocate(8)
	b.SetTrace(y1, func(ctx *common.TraceCtx) {
		y1Child = ctx.Mark(y1Child)
	})
	y1Child = y2
	root = y1

	b.Collect() // age 0 -> 1 for the whole chain, all still in the nursery
	b.Collect() // age 1 -> 2 for Y1: promotes, must deep-promote Y2 and Y3 too

	_, y1Nursery := b.nurseryObjs[root]
	_, y2Nursery := b.nurseryObjs[y1Child]
	_, y3Nursery := b.nurseryObjs[y2Child]
	assert.False(t, y1Nursery, "Y1 must be promoted")
	assert.False(t, y2Nursery, "Y2 must be deep-promoted alongside Y1")
	assert.False(t, y3Nursery, "Y3 must be deep-promoted alongside Y1 and Y2")

	assert.NotNil(t, b.oldGen.Payload(root))
	assert.NotNil(t, b.oldGen.Payload(y1Child))
	assert.NotNil(t, b.oldGen.Payload(y2Child))

	assert.Equal(t, 0, b.remembered.Len(), "no old-to-young reference should remain once the whole chain is promoted")
}

// An old-generation object can be reachable only through a young one (a
// root points at nursery Y, whose field points at promoted O). The major
// collection's old-gen mark phase must trace through Y rather than treat
// it as an opaque leaf, or O gets wrongly swept.
func TestGenerationalMajorCollectMarksOldReachableOnlyThroughYoung(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 8192, PromoteAge: 2})

	var oRoot common.Ptr
	b.AddRoot(&oRoot)
	oRoot = b.Allocate(16)
	b.SetTrace(oRoot, func(ctx *common.TraceCtx) {})
	b.Collect() // age 0 -> 1
	b.Collect() // age 1 -> 2: O promotes into the old generation
	o := oRoot
	_, inNursery := b.nurseryObjs[o]
	require.False(t, inNursery)

	// Y is a fresh nursery object holding the only remaining reference to
	// O once O's own root is dropped. Y itself stays young across the
	// major collection's minor pass (age 0 -> 1, below PromoteAge 2).
	var yField common.Ptr
	var yRoot common.Ptr
	b.AddRoot(&yRoot)
	y := b.Allocate(8)
	b.SetTrace(y, func(ctx *common.TraceCtx) {
		yField = ctx.Mark(yField)
	})
	yField = o
	yRoot = y
	b.RemoveRoot(&oRoot)

	b.majorCollect()

	_, yStillNursery := b.nurseryObjs[yRoot]
	require.True(t, yStillNursery, "Y must still be young for this scenario to exercise the young-traversal path")

	assert.NotNil(t, b.oldGen.Payload(yField), "old object reachable only through a young object's trace must survive a major collection")
}

// Marking an already-evacuated handle a second time (a trace run twice
// over the same field) must return it unchanged instead of copying again.
func TestGenerationalEvacuateIsIdempotentOnToHalfHandles(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096, PromoteAge: 5})

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(8)
	marks := 0
	b.SetTrace(root, func(ctx *common.TraceCtx) {
		// Deliberately re-mark the already-updated root slot value.
		got := ctx.Mark(root)
		assert.Equal(t, root, got)
		marks++
	})

	b.Collect()
	assert.Equal(t, 1, marks)
	assert.NotNil(t, b.Payload(root))
}

func TestGenerationalMinorCollectCountsFreedBytes(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096})

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(16)
	b.SetTrace(root, func(ctx *common.TraceCtx) {})
	b.Allocate(24) // unrooted

	b.Collect()
	stats := b.Stats()
	assert.Equal(t, uint64(24), stats.FreedBytes)
	assert.Equal(t, uint64(16), stats.CurrentBytes)
	assert.LessOrEqual(t, stats.FreedBytes+stats.CurrentBytes, stats.AllocatedBytes)
}

func TestGenerationalSharedCounterUniqueAcrossNurseryAndOld(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096, PromoteAge: 1})

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(16)
	b.SetTrace(root, func(ctx *common.TraceCtx) {})
	b.Collect() // promotes root into the old generation

	fresh := b.Allocate(16) // a brand-new nursery object
	assert.NotEqual(t, root, fresh, "old-gen and nursery handles must never collide")
}

func TestGenerationalMajorCollectionTriggersPastThreshold(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 8192, PromoteAge: 1})
	b.SetThreshold(common.ThresholdFloor) // lowest the clamp allows, well below what root will promote

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(2000)
	b.SetTrace(root, func(ctx *common.TraceCtx) {})

	before := b.Stats().Collections
	b.Collect()
	// The minor pass promotes root (age 0, PromoteAge 1) straight into the
	// old generation, pushing its live bytes above the threshold: Collect
	// must then run majorCollect, which itself runs one more (trivial)
	// minor pass before the old-gen mark/sweep, for three recorded
	// collections total from this single Collect call.
	assert.Equal(t, before+3, b.Stats().Collections)
	assert.True(t, b.oldGen.LiveBytes() > common.ThresholdFloor)
}

func TestGenerationalFragStatsDelegatesToOldGen(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096})
	frag := b.FragStats()
	assert.GreaterOrEqual(t, frag.TotalFreeMemory, uint64(0))
}

func TestGenerationalSnapshotTagsNurseryAndOld(t *testing.T) {
	b := newTestBackend(t, common.Config{NurserySize: 4096, HeapSize: 4096, PromoteAge: 1})

	var root common.Ptr
	b.AddRoot(&root)
	root = b.Allocate(16)
	b.SetTrace(root, func(ctx *common.TraceCtx) {})
	b.SetTag(root, common.TagPair)
	b.Collect() // promotes root to old gen

	young := b.Allocate(8)
	b.SetTrace(young, func(ctx *common.TraceCtx) {})
	b.SetTag(young, common.TagString)

	snap := b.Snapshot()
	var sawOld, sawNursery bool
	for _, e := range snap {
		switch e.Generation {
		case common.GenOld:
			sawOld = true
			assert.Equal(t, common.TagPair, e.Tag)
		case common.GenNursery:
			sawNursery = true
			assert.Equal(t, common.TagString, e.Tag)
		}
	}
	assert.True(t, sawOld)
	assert.True(t, sawNursery)
}
