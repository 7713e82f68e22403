package bridge

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

type stubHeap struct {
	stats common.Stats
	frag  common.FragStats
	snap  []common.SnapshotEntry
}

func (s *stubHeap) BackendName() string               { return "markSweep" }
func (s *stubHeap) Stats() common.Stats               { return s.stats }
func (s *stubHeap) FragStats() common.FragStats       { return s.frag }
func (s *stubHeap) Snapshot() []common.SnapshotEntry  { return s.snap }

func newTestServer(ratePerSec float64) (*Server, *stubHeap) {
	h := &stubHeap{
		stats: common.Stats{Collections: 2, AllocatedBytes: 512, FreedBytes: 128, CurrentBytes: 384},
		frag:  common.FragStats{TotalFreeMemory: 640, LargestFreeBlock: 512, FreeBlocksCount: 2, FragmentationIndex: 0.2},
		snap: []common.SnapshotEntry{
			{Address: 7, Size: 64, Generation: common.GenNursery, Tag: common.TagPair},
			{Address: 9, Size: 32, Generation: common.GenOld, Tag: common.TagString},
		},
	}
	return New(h, ":0", ratePerSec), h
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rw := httptest.NewRecorder()
	s.router.ServeHTTP(rw, req)
	return rw
}

func TestStatsEndpointReturnsCountersAndFragmentation(t *testing.T) {
	s, _ := newTestServer(0)
	rw := get(t, s, "/stats")
	require.Equal(t, http.StatusOK, rw.Code)

	var body struct {
		Backend string           `json:"backend"`
		Stats   common.Stats     `json:"stats"`
		Frag    common.FragStats `json:"fragmentation"`
	}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &body))
	assert.Equal(t, "markSweep", body.Backend)
	assert.Equal(t, uint64(2), body.Stats.Collections)
	assert.Equal(t, uint64(640), body.Frag.TotalFreeMemory)
}

func TestSnapshotEndpointReturnsEntries(t *testing.T) {
	s, _ := newTestServer(0)
	rw := get(t, s, "/snapshot")
	require.Equal(t, http.StatusOK, rw.Code)

	var entries []common.SnapshotEntry
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(7), entries[0].Address)
	assert.Equal(t, common.GenOld, entries[1].Generation)
}

func TestSnapshotFlatPacksFixedLayoutRecords(t *testing.T) {
	s, _ := newTestServer(0)
	rw := get(t, s, "/snapshot.flat")
	require.Equal(t, http.StatusOK, rw.Code)

	buf := rw.Body.Bytes()
	require.Len(t, buf, 2*FlatEntrySize)

	// Decode the first record using only the exported offsets, the way an
	// external reader is expected to.
	first := buf[:FlatEntrySize]
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(first[FlatFieldOffsetAddress:]))
	assert.Equal(t, uint32(64), binary.LittleEndian.Uint32(first[FlatFieldOffsetSize:]))
	assert.Equal(t, uint32(common.GenNursery), binary.LittleEndian.Uint32(first[FlatFieldOffsetGeneration:]))
	assert.Equal(t, uint32(common.TagPair), binary.LittleEndian.Uint32(first[FlatFieldOffsetTag:]))
}

func TestStatsLineEndpointSpeaksLineProtocol(t *testing.T) {
	s, _ := newTestServer(0)
	rw := get(t, s, "/stats.line")
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), "heapgc,backend=markSweep ")
}

func TestMetricsEndpointServesPrometheusExposition(t *testing.T) {
	s, h := newTestServer(0)

	// A Prometheus server only ever hits /metrics; the very first scrape
	// must already reflect the heap's live counters.
	rw := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), `heapgc_collections_total{backend="markSweep"} 2`)

	h.stats.Collections = 5
	rw = get(t, s, "/metrics")
	assert.Contains(t, rw.Body.String(), `heapgc_collections_total{backend="markSweep"} 5`)
}

func TestRateLimiterRejectsBurstBeyondLimit(t *testing.T) {
	s, _ := newTestServer(1) // 1 req/s, burst 1

	first := get(t, s, "/stats")
	assert.Equal(t, http.StatusOK, first.Code)

	second := get(t, s, "/stats")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestSnapshotAvroEndpointReturnsContainer(t *testing.T) {
	s, _ := newTestServer(0)
	rw := get(t, s, "/snapshot.avro")
	require.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "application/avro-binary", rw.Header().Get("Content-Type"))
	assert.Equal(t, []byte("Obj"), rw.Body.Bytes()[:3], "Avro OCF magic")
}
