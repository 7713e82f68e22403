// Command heapgcd is the demo process for the managed heap subsystem: it
// opens a heap, optionally starts the gops agent and the HTTP
// diagnostics bridge, then drives a small synthetic mutator (cons-cell
// pairs and string buffers standing in for a host language's managed
// values) that allocates, links, and periodically collects, enough to
// exercise every backend end to end.
package main

import (
	"flag"
	"fmt"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"

	"github.com/minimalisp-lang/heapgc/internal/bridge"
	"github.com/minimalisp-lang/heapgc/pkg/heap"
)

func main() {
	var flagGops bool
	var flagConfigFile, flagEnvFile string
	var flagRounds int
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagConfigFile, "config", "./heapgc.json", "Path to the heap configuration file")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Path to an optional .env file of overrides")
	flag.IntVar(&flagRounds, "rounds", 20, "Number of demo-mutator allocation rounds to run")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("[HEAPGC]> gops/agent.Listen failed: %s", err.Error())
		}
	}

	fc, err := heap.LoadConfig(flagConfigFile, flagEnvFile)
	if err != nil {
		cclog.Fatalf("[HEAPGC]> failed to load config: %s", err.Error())
	}

	h, err := heap.Open(fc)
	if err != nil {
		cclog.Fatalf("[HEAPGC]> failed to open heap: %s", err.Error())
	}
	defer h.Close()

	if fc.Bridge.Addr != "" {
		srv := bridge.New(h, fc.Bridge.Addr, fc.Bridge.RateLimitPerSec)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				cclog.Warnf("[HEAPGC]> bridge server stopped: %s", err.Error())
			}
		}()
		defer srv.Close()
	}

	runDemoMutator(h, flagRounds)
	os.Exit(0)
}

// pair is a cons cell: two managed fields, traced together.
type pair struct {
	car, cdr heap.Ref
}

// runDemoMutator allocates a chain of pairs, each holding a fresh string
// buffer in its car, roots only the chain head, and forces periodic
// collections. Every third round the oldest pair's car is replaced by
// another fresh string, so the string it held before becomes unreachable
// and is reclaimed; the chain and the strings it still references survive.
//
// Each pair's car/cdr live in a plain Go struct the trace closure closes
// over directly, not in a ref-keyed side table: a relocating backend
// hands the moved object a new Ref, but the *pair Go value itself never
// moves, so the closure stays valid across collections.
func runDemoMutator(h *heap.Heap, rounds int) {
	traceString := func(ctx *heap.TraceCtx) {}
	tracePair := func(p *pair) heap.TraceFunc {
		return func(ctx *heap.TraceCtx) {
			p.car = ctx.Mark(p.car)
			p.cdr = ctx.Mark(p.cdr)
		}
	}

	var head heap.Ref
	h.AddRoot(&head)

	var oldestPair *pair
	var oldestRef heap.Ref

	for i := 0; i < rounds; i++ {
		// A string buffer that this round's pair holds in its car, so it
		// stays reachable for as long as that car still points at it.
		s := h.Allocate(32)
		h.SetTag(s, heap.TagString)
		h.SetTrace(s, traceString)
		copy(h.Payload(s), []byte(fmt.Sprintf("scratch-%d", i)))

		// A new pair linked onto the root chain.
		ref := h.Allocate(16)
		h.SetTag(ref, heap.TagPair)
		p := &pair{car: s, cdr: head}
		h.SetTrace(ref, tracePair(p))

		head = ref
		if oldestPair == nil {
			oldestPair, oldestRef = p, ref
		}

		// Mutate a field of an already-live pair to point at a fresh
		// string: under the generational backend this may be an
		// old-generation object gaining a reference to a nursery object,
		// so the write barrier must run to keep it in the remembered set.
		if i%3 == 0 {
			fresh := h.Allocate(32)
			h.SetTag(fresh, heap.TagString)
			h.SetTrace(fresh, traceString)
			oldestPair.car = fresh
			h.WriteBarrier(oldestRef, &oldestPair.car, fresh)
		}

		if i%5 == 4 {
			h.Collect()
			stats := h.Stats()
			cclog.Infof("[HEAPGC]> heap %s round %d: collections=%d live=%d pause_ms=%.3f",
				h.ID(), i, stats.Collections, stats.CurrentBytes, stats.LastPauseMS)
		}
	}

	snap := h.Snapshot()
	cclog.Infof("[HEAPGC]> heap %s: final snapshot has %d live objects", h.ID(), len(snap))
}
