package lisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCyclicPairsCollectedWithoutPins builds a two-cell cycle (a.Cdr -> b,
// b.Cdr -> a) with no external pin keeping either cell alive, and checks
// that a single GC cycle reclaims both.
func TestCyclicPairsCollectedWithoutPins(t *testing.T) {
	s := NewSession(DefaultSessionConfig())

	a := AllocPair(s, PairStorage{Car: IntValue(1), Cdr: NilValue()})
	b := AllocPair(s, PairStorage{Car: IntValue(2), Cdr: ConsValue(a)})
	a.SetCdr(ConsValue(b))

	a.Release()
	b.Release()

	s.ForceGC()

	p := getPage[PairStorage](s)
	assert.Equal(t, 0, p.allocatedCount(), "a cycle with no external pins must be fully collected")
}

// TestPinKeepsReferentAlive exercises the opposite case: a single pin on
// one cell of an otherwise cyclic pair structure keeps the whole cycle
// alive across a GC cycle.
func TestPinKeepsReferentAlive(t *testing.T) {
	s := NewSession(DefaultSessionConfig())

	a := AllocPair(s, PairStorage{Car: IntValue(1), Cdr: NilValue()})
	b := AllocPair(s, PairStorage{Car: IntValue(2), Cdr: ConsValue(a)})
	a.SetCdr(ConsValue(b))

	b.Release() // only a remains pinned

	s.ForceGC()

	p := getPage[PairStorage](s)
	assert.Equal(t, 2, p.allocatedCount(), "the pinned cell and, transitively through the cycle, its partner must survive")
	got, ok := a.Car().AsInt()
	require.True(t, ok)
	assert.Equal(t, int32(1), got)

	a.Release()
	s.ForceGC()
	assert.Equal(t, 0, p.allocatedCount())
}

func TestUnpinOfUnpinnedAddressPanics(t *testing.T) {
	s := NewSession(DefaultSessionConfig())
	a := AllocPair(s, PairStorage{})
	a.Release()
	assert.Panics(t, func() { a.Release() }, "double release must panic")
}

func TestSessionCloseWithLivePinsPanics(t *testing.T) {
	s := NewSession(DefaultSessionConfig())
	AllocPair(s, PairStorage{}) // pinned ref intentionally never released
	assert.Panics(t, func() { s.close() })
}

func TestWithHeapRunsFinalGC(t *testing.T) {
	err := WithHeap(DefaultSessionConfig(), func(s *Session) error {
		ref := AllocPair(s, PairStorage{Car: IntValue(42)})
		ref.Release()
		return nil
	})
	require.NoError(t, err)
}

func TestWithHeapPropagatesBodyError(t *testing.T) {
	boom := UndefinedNameError{Name: "x"}
	err := WithHeap(DefaultSessionConfig(), func(s *Session) error {
		return boom
	})
	assert.Equal(t, boom, err)
}

func TestAllocAcrossDistinctTypesUsesDistinctPages(t *testing.T) {
	s := NewSession(DefaultSessionConfig())
	pair := AllocPair(s, PairStorage{})
	vec := AllocVector(s, []Value{IntValue(1)})
	defer pair.Release()
	defer vec.Release()

	assert.NotEqual(t, typeIDOf[PairStorage](), typeIDOf[VectorStorage]())
	assert.Equal(t, 1, getPage[PairStorage](s).allocatedCount())
	assert.Equal(t, 1, getPage[VectorStorage](s).allocatedCount())
}
