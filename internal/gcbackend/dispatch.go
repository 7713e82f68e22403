// Package gcbackend selects the collector backend at heap-open time and
// hands back a single initialized instance for the heap's lifetime; the
// choice of backend is fixed for as long as the heap stays open.
package gcbackend

import (
	"fmt"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend/copying"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend/generational"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend/marksweep"
)

// Kind names the three backend implementations, accepted (case-sensitive)
// via configuration.
type Kind string

const (
	MarkSweep    Kind = "markSweep"
	Copying      Kind = "copying"
	Generational Kind = "generational"
)

// normalize accepts the aliases a human is likely to type in config or an
// environment variable.
func normalize(s string) Kind {
	switch s {
	case "markSweep", "mark-sweep", "mark_sweep", "ms", "":
		return MarkSweep
	case "copying", "copy", "semispace", "semi-space", "cheney":
		return Copying
	case "generational", "gen", "generational-gc":
		return Generational
	default:
		return Kind(s)
	}
}

// New constructs and initializes the backend named by kind, falling back
// to mark-sweep (the simplest and default collector) for an unrecognized
// name rather than failing startup over a config typo.
func New(kind string, cfg common.Config) (common.Backend, error) {
	k := normalize(kind)

	var b common.Backend
	switch k {
	case Copying:
		b = copying.New()
	case Generational:
		b = generational.New()
	case MarkSweep:
		b = marksweep.New()
	default:
		cclog.Warnf("[HEAPGC]> unknown backend %q, falling back to markSweep", kind)
		b = marksweep.New()
	}

	if err := b.Init(cfg); err != nil {
		return nil, fmt.Errorf("gcbackend: init %s: %w", b.Name(), err)
	}
	return b, nil
}
