package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubBackend struct {
	marked []Ptr
}

func (s *stubBackend) Init(Config) error             { return nil }
func (s *stubBackend) Allocate(int) Ptr               { return Null }
func (s *stubBackend) Payload(Ptr) []byte             { return nil }
func (s *stubBackend) SetTrace(Ptr, TraceFunc)        {}
func (s *stubBackend) SetTag(Ptr, Tag)                {}
func (s *stubBackend) MarkPointer(p Ptr) Ptr {
	s.marked = append(s.marked, p)
	return p + 1000
}
func (s *stubBackend) AddRoot(*Ptr)                     {}
func (s *stubBackend) RemoveRoot(*Ptr)                  {}
func (s *stubBackend) WriteBarrier(Ptr, *Ptr, Ptr)      {}
func (s *stubBackend) Collect()                         {}
func (s *stubBackend) SetThreshold(uint64)               {}
func (s *stubBackend) GetThreshold() uint64             { return 0 }
func (s *stubBackend) Stats() Stats                     { return Stats{} }
func (s *stubBackend) FragStats() FragStats             { return FragStats{} }
func (s *stubBackend) Snapshot() []SnapshotEntry        { return nil }
func (s *stubBackend) Name() string                     { return "stub" }

func TestTraceCtxMarkDelegatesToBackend(t *testing.T) {
	b := &stubBackend{}
	ctx := NewTraceCtx(b)

	got := ctx.Mark(Ptr(7))
	assert.Equal(t, Ptr(1007), got)
	assert.Equal(t, []Ptr{7}, b.marked)
}

func TestTagString(t *testing.T) {
	cases := []struct {
		tag  Tag
		want string
	}{
		{TagString, "string"},
		{TagPair, "pair"},
		{TagSymbol, "symbol"},
		{TagLambda, "lambda"},
		{TagBuiltin, "builtin"},
		{TagEnv, "env"},
		{TagBinding, "binding"},
		{TagNumber, "number"},
		{TagUnknown, "unknown"},
		{Tag(200), "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.tag.String())
	}
}

func TestClampThreshold(t *testing.T) {
	assert.Equal(t, ThresholdFloor, ClampThreshold(0))
	assert.Equal(t, ThresholdFloor, ClampThreshold(100))
	assert.Equal(t, uint64(5000), ClampThreshold(5000))
}
