// Package fatal centralises the heap's one and only unrecoverable-error
// path: OS allocation failure, to-space exhaustion during a copying
// cycle, and allocate failing after a collection attempt. All
// three print a diagnostic to the error stream and terminate the
// process. There is no partial recovery, because the mutator's
// reachability invariant cannot be honoured with a half-collected heap.
package fatal

import cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

// OOM reports that backend could not satisfy an n-byte allocation even
// after attempting a collection, and terminates the process.
func OOM(backend string, n int) {
	cclog.Fatalf("[HEAPGC]> %s backend: out of memory allocating %d bytes after collection attempt\n", backend, n)
}

// ToSpaceExhausted reports that a copying cycle could not fit its
// survivors into to-space (a misconfigured heap) and terminates the
// process.
func ToSpaceExhausted(backend string) {
	cclog.Fatalf("[HEAPGC]> %s backend: to-space exhausted during collection; heap is misconfigured\n", backend)
}

// Init reports that the host allocator could not provision the arena(s)
// a backend needs at startup, and terminates the process.
func Init(backend string, err error) {
	cclog.Fatalf("[HEAPGC]> %s backend: failed to initialize arena: %s\n", backend, err.Error())
}
