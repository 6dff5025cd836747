package lisp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPinnedRefCloneRequiresBothReleases(t *testing.T) {
	s := NewSession(DefaultSessionConfig())
	a := AllocPair(s, PairStorage{Car: IntValue(7)})
	b := PairRef{a.Clone()}

	a.Release()
	s.ForceGC()
	assert.Equal(t, 1, getPage[PairStorage](s).allocatedCount(), "a clone still outstanding must keep the cell alive")

	b.Release()
	s.ForceGC()
	assert.Equal(t, 0, getPage[PairStorage](s).allocatedCount())
}

func TestPinnedRefEqualIsIdentityNotStructural(t *testing.T) {
	s := NewSession(DefaultSessionConfig())
	a := AllocPair(s, PairStorage{Car: IntValue(1)})
	b := AllocPair(s, PairStorage{Car: IntValue(1)})
	defer a.Release()
	defer b.Release()

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b), "two distinct allocations with equal contents are not the same cell")
}

func TestPinnedRefSessionMismatchPanics(t *testing.T) {
	s1 := NewSession(DefaultSessionConfig())
	s2 := NewSession(DefaultSessionConfig())
	a := AllocPair(s1, PairStorage{})
	defer a.Release()

	wrong := PairRef{PinnedRef[PairStorage]{addr: a.Addr(), session: s2}}
	assert.Panics(t, func() { wrong.Car() }, "a ref branded with the wrong session must be rejected")
}

func TestZeroValuePinnedRefPanics(t *testing.T) {
	var r PairRef
	assert.Panics(t, func() { r.Car() })
}
