package common

import "errors"

// ErrToSpaceExhausted is panicked by SemiSpace.CopyPointer when a copying
// cycle cannot fit a survivor into to-space. This is fatal and
// unrecoverable (the heap is misconfigured); the backend that owns the
// SemiSpace recovers this specific panic only to attach its own
// diagnostic context before handing it to the fatal-error path.
var ErrToSpaceExhausted = errors.New("heapgc: to-space exhausted during copying collection")
