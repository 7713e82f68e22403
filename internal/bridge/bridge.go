// Package bridge is an optional HTTP diagnostics server for a heap: it
// exposes a heap's stats, snapshot, and Prometheus metrics over HTTP for
// a host process that wants to poll or scrape them out-of-band. Routing
// and middleware follow gorilla/mux for the router and gorilla/handlers
// for compression/recovery/logging middleware; rate limiting uses
// golang.org/x/time/rate to keep a misbehaving poller from forcing
// back-to-back full heap walks. The REST surface is documented with
// swaggo annotations and served live at /swagger/ via swaggo/http-swagger.
package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	_ "github.com/minimalisp-lang/heapgc/internal/bridge/docs"
	"github.com/minimalisp-lang/heapgc/internal/diag"
	"github.com/minimalisp-lang/heapgc/internal/diag/avrosnap"
	"github.com/minimalisp-lang/heapgc/internal/diag/lpexport"
	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

// Flat-snapshot wire layout: handleSnapshotFlat packs one fixed-size
// record per live object, in this field order, so a reader in any
// language can decode /snapshot.flat without a copy of this package.
const (
	// FlatEntrySize is the size in bytes of one packed snapshot record.
	FlatEntrySize = 16

	// FlatFieldOffsetAddress is the byte offset of the uint32 address field.
	FlatFieldOffsetAddress = 0
	// FlatFieldOffsetSize is the byte offset of the uint32 size field.
	FlatFieldOffsetSize = 4
	// FlatFieldOffsetGeneration is the byte offset of the uint32 generation field.
	FlatFieldOffsetGeneration = 8
	// FlatFieldOffsetTag is the byte offset of the uint32 tag field.
	FlatFieldOffsetTag = 12
)

// HeapView is the narrow read-only surface the bridge needs from a
// pkg/heap.Heap, kept as an interface so bridge tests can supply a stub
// without depending on pkg/heap (which in turn depends on this package's
// sibling, internal/events).
type HeapView interface {
	BackendName() string
	Stats() common.Stats
	FragStats() common.FragStats
	Snapshot() []common.SnapshotEntry
}

// Server is the diagnostics HTTP bridge for a single heap instance.
type Server struct {
	heap     HeapView
	exporter *diag.Exporter
	router   *mux.Router
	server   *http.Server
	limiter  *rate.Limiter
}

// New builds a Server listening on addr. One limiter of ratePerSec
// requests/second is shared by /stats, /snapshot, /snapshot.flat,
// /snapshot.avro and /stats.line (0 disables limiting); /metrics and
// /swagger/ are not rate-limited.
//
// @title heapgc diagnostics API
// @description Read-only HTTP surface for polling a single heap's stats and object snapshot out-of-band.
// @BasePath /
func New(h HeapView, addr string, ratePerSec float64) *Server {
	s := &Server{
		heap:     h,
		exporter: diag.NewExporter(h),
	}
	if ratePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	router := mux.NewRouter()
	router.HandleFunc("/stats", s.rateLimited(s.handleStats)).Methods(http.MethodGet)
	router.HandleFunc("/snapshot", s.rateLimited(s.handleSnapshot)).Methods(http.MethodGet)
	router.HandleFunc("/snapshot.flat", s.rateLimited(s.handleSnapshotFlat)).Methods(http.MethodGet)
	router.HandleFunc("/snapshot.avro", s.rateLimited(s.handleSnapshotAvro)).Methods(http.MethodGet)
	router.HandleFunc("/stats.line", s.rateLimited(s.handleStatsLine)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.exporter.Registry(), promhttp.HandlerOpts{}))
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	router.Use(handlers.CompressHandler)
	router.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	s.router = router
	s.server = &http.Server{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler: handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
			cclog.Debugf("[HEAPGC]> bridge: %s %s (%d, %dms)",
				params.Request.Method, params.URL.RequestURI(), params.StatusCode,
				time.Since(params.TimeStamp).Milliseconds())
		}),
	}
	return s
}

// rateLimited wraps fn so that, when a limiter is configured, excess
// requests receive 429 instead of driving another full heap walk.
func (s *Server) rateLimited(fn http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return fn
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(rw, "heapgc: diagnostics rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		fn(rw, r)
	}
}

// handleStats godoc
// @Summary Cumulative allocation and collection counters
// @Description One object with the backend name under "backend", common.Stats under "stats" and common.FragStats under "fragmentation".
// @Produce json
// @Success 200 {object} object
// @Router /stats [get]
func (s *Server) handleStats(rw http.ResponseWriter, r *http.Request) {
	stats := s.heap.Stats()
	frag := s.heap.FragStats()

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(struct {
		Backend string           `json:"backend"`
		Stats   common.Stats     `json:"stats"`
		Frag    common.FragStats `json:"fragmentation"`
	}{
		Backend: s.heap.BackendName(),
		Stats:   stats,
		Frag:    frag,
	})
}

// handleSnapshot godoc
// @Summary Live-object snapshot as JSON records
// @Description One {address,size,generation,tag} object per live heap entry.
// @Produce json
// @Success 200 {array} common.SnapshotEntry
// @Router /snapshot [get]
func (s *Server) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(s.heap.Snapshot())
}

// handleSnapshotFlat godoc
// @Summary Live-object snapshot as a packed binary array
// @Description One FlatEntrySize-byte little-endian record per live object, laid out at FlatFieldOffsetAddress/Size/Generation/Tag. A reader can decode the stream using those offsets alone, without importing this package.
// @Produce octet-stream
// @Success 200 {string} binary
// @Router /snapshot.flat [get]
func (s *Server) handleSnapshotFlat(rw http.ResponseWriter, r *http.Request) {
	entries := s.heap.Snapshot()
	buf := make([]byte, 0, len(entries)*FlatEntrySize)
	for _, e := range entries {
		var rec [FlatEntrySize]byte
		putU32(rec[FlatFieldOffsetAddress:FlatFieldOffsetAddress+4], uint32(e.Address))
		putU32(rec[FlatFieldOffsetSize:FlatFieldOffsetSize+4], e.Size)
		putU32(rec[FlatFieldOffsetGeneration:FlatFieldOffsetGeneration+4], uint32(e.Generation))
		putU32(rec[FlatFieldOffsetTag:FlatFieldOffsetTag+4], uint32(e.Tag))
		buf = append(buf, rec[:]...)
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Write(buf)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// handleSnapshotAvro godoc
// @Summary Live-object snapshot as an Avro object container
// @Produce application/avro-binary
// @Success 200 {string} binary
// @Router /snapshot.avro [get]
func (s *Server) handleSnapshotAvro(rw http.ResponseWriter, r *http.Request) {
	data, err := avrosnap.Encode(s.heap.Snapshot())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/avro-binary")
	rw.Write(data)
}

// handleStatsLine godoc
// @Summary Cumulative counters as one InfluxDB line-protocol point
// @Produce plain
// @Success 200 {string} string
// @Router /stats.line [get]
func (s *Server) handleStatsLine(rw http.ResponseWriter, r *http.Request) {
	data, err := lpexport.Encode(s.heap.BackendName(), s.heap.Stats(), s.heap.FragStats(), time.Now())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Write(data)
}

// ListenAndServe starts the bridge's HTTP server and blocks until it
// stops (matching net/http.Server.ListenAndServe's contract).
func (s *Server) ListenAndServe() error {
	cclog.Infof("[HEAPGC]> bridge: listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Close shuts the server down immediately, without waiting for in-flight
// requests to finish.
func (s *Server) Close() error {
	return s.server.Close()
}
