package heap

import "github.com/minimalisp-lang/heapgc/internal/gcbackend/common"

// Ref is the managed-pointer cell type. A root slot is the address of a
// mutator-owned Ref variable: an ordinary Go variable whose address is
// taken and registered, rather than a bespoke wrapper struct.
type Ref = common.Ptr

// Null is the zero Ref, always safe to pass to any operation.
const Null = common.Null

// Tag is the advisory object-kind enum used for diagnostics.
type Tag = common.Tag

const (
	TagUnknown = common.TagUnknown
	TagString  = common.TagString
	TagPair    = common.TagPair
	TagSymbol  = common.TagSymbol
	TagLambda  = common.TagLambda
	TagBuiltin = common.TagBuiltin
	TagEnv     = common.TagEnv
	TagBinding = common.TagBinding
	TagNumber  = common.TagNumber
)

// Generation identifies which arena an object currently lives in, for
// diagnostics only.
type Generation = common.Generation

const (
	GenUnknown = common.GenUnknown
	GenNursery = common.GenNursery
	GenOld     = common.GenOld
)

// TraceCtx is handed to a TraceFunc during a collection cycle; Mark must
// be called on every managed child field, and its result written back.
type TraceCtx = common.TraceCtx

// TraceFunc is installed via SetTrace and invoked only by the collector.
type TraceFunc = common.TraceFunc

// Stats are the cumulative counters maintained across collections.
type Stats = common.Stats

// FragStats are derived on demand by walking the active backend's free
// list(s).
type FragStats = common.FragStats

// SnapshotEntry is one record of a heap snapshot.
type SnapshotEntry = common.SnapshotEntry
