// Package heap is the mutator-facing API: allocate, install trace/tag
// metadata, register/unregister roots, honour the write barrier, trigger
// collection, and read diagnostics. It wraps whichever collector backend
// was selected at construction time and never exposes backend-specific
// behaviour to callers.
package heap

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/uuid"

	"github.com/minimalisp-lang/heapgc/internal/events"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

// Heap is an explicit heap context, so that tests and multi-heap hosts
// can instantiate fresh, independent heaps rather than share one global.
// Every exported method forwards to the single backend chosen at Open
// and cached for the context's lifetime.
type Heap struct {
	id      uuid.UUID
	backend common.Backend
	events  *events.Publisher
}

// Open selects and initializes the backend named by fc.Backend (falling
// back to markSweep for an empty/unrecognized name) and wires the
// optional NATS lifecycle-event publisher described by fc.Events.
func Open(fc FileConfig) (*Heap, error) {
	b, err := gcbackend.New(fc.Backend, fc.ToBackendConfig())
	if err != nil {
		return nil, err
	}

	h := &Heap{
		id:      uuid.New(),
		backend: b,
	}

	if fc.Events.Address != "" {
		pub, err := events.NewPublisher(events.Config{
			Address:       fc.Events.Address,
			Subject:       fc.Events.Subject,
			Username:      fc.Events.Username,
			Password:      fc.Events.Password,
			CredsFilePath: fc.Events.CredsFilePath,
		})
		if err != nil {
			cclog.Warnf("[HEAPGC]> heap %s: lifecycle events disabled: %s", h.id, err.Error())
		} else {
			h.events = pub
		}
	}

	cclog.Infof("[HEAPGC]> heap %s: opened with %s backend", h.id, b.Name())
	return h, nil
}

// ID returns the heap context's instance identifier, used to disambiguate
// log lines and lifecycle events when multiple heaps run in one process.
func (h *Heap) ID() uuid.UUID { return h.id }

// BackendName reports which collector algorithm is active.
func (h *Heap) BackendName() string { return h.backend.Name() }

// Allocate reserves n zeroed payload bytes and returns the Ref identifying
// them. May trigger a collection internally.
func (h *Heap) Allocate(n int) Ref { return h.backend.Allocate(n) }

// Payload returns the live payload slice addressed by ref, or nil if ref
// is unknown to the current backend.
func (h *Heap) Payload(ref Ref) []byte { return h.backend.Payload(ref) }

// SetTrace installs the trace callback invoked on ref during collection.
func (h *Heap) SetTrace(ref Ref, fn TraceFunc) { h.backend.SetTrace(ref, fn) }

// SetTag records the diagnostic object-kind tag for ref.
func (h *Heap) SetTag(ref Ref, tag Tag) { h.backend.SetTag(ref, tag) }

// AddRoot registers slot as a GC root: the object it addresses (and
// everything reachable through its trace) survives every future
// collection until RemoveRoot is called. Adding a slot twice is a no-op.
func (h *Heap) AddRoot(slot *Ref) { h.backend.AddRoot(slot) }

// RemoveRoot unregisters slot. Removing an unregistered slot is a no-op.
func (h *Heap) RemoveRoot(slot *Ref) { h.backend.RemoveRoot(slot) }

// WriteBarrier must be called by the mutator immediately after storing
// child into the field addressed by slot, which lives inside owner.
// Required for correctness only under the generational backend (where it
// maintains the remembered set); the other two backends treat it as a
// no-op.
func (h *Heap) WriteBarrier(owner Ref, slot *Ref, child Ref) {
	h.backend.WriteBarrier(owner, slot, child)
}

// Collect runs a full collection cycle synchronously on the calling
// goroutine. Reentrant calls made from within a trace callback are
// suppressed by the backend.
func (h *Heap) Collect() {
	h.backend.Collect()
	if h.events != nil {
		h.events.PublishCollected(h.id.String(), h.backend.Name(), h.backend.Stats())
	}
}

// SetThreshold overrides the opportunistic-collection threshold.
func (h *Heap) SetThreshold(bytes uint64) { h.backend.SetThreshold(bytes) }

// GetThreshold reports the current opportunistic-collection threshold.
func (h *Heap) GetThreshold() uint64 { return h.backend.GetThreshold() }

// Stats reports the cumulative counters maintained across collections.
func (h *Heap) Stats() Stats { return h.backend.Stats() }

// FragStats derives fragmentation metrics by walking the active
// backend's free list(s).
func (h *Heap) FragStats() FragStats { return h.backend.FragStats() }

// Snapshot enumerates every live object, for external diagnostic bridges.
func (h *Heap) Snapshot() []SnapshotEntry { return h.backend.Snapshot() }

// Close releases the heap context's ambient resources (the lifecycle
// event publisher, if one was configured). The backend's own memory is
// left to the garbage collector of the host Go runtime.
func (h *Heap) Close() {
	if h.events != nil {
		h.events.Close()
	}
}
