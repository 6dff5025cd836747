package lisp

import (
	"fmt"
	"log"
	"runtime"
	"unsafe"
)

// PinnedRef is a root holder: it keeps one heap cell of concrete storage
// type T alive by holding a pin on it for as long as the PinnedRef is
// not Released. Plain Values never pin anything, so a cell survives the
// next GC cycle only if a PinnedRef holds it or it is reachable from a
// cell that one holds.
//
// Go has no destructors, so unlike the Rust original's Drop-based
// PinnedRef, Release must be called explicitly. A finalizer on an
// internal handle only logs a leaked root for diagnostics; it never
// unpins anything itself, since running arbitrary session mutation from
// a finalizer goroutine would race the owning session.
type PinnedRef[T Markable] struct {
	addr    *T
	session *Session
	handle  *pinHandle
}

// pinHandle is the small separately-allocated object the finalizer is
// attached to; attaching a finalizer directly to a PinnedRef value
// (which is usually stack-allocated and copied around) would be
// ineffective, since runtime.SetFinalizer only fires for a value that is
// itself heap-allocated and becomes unreachable.
type pinHandle struct {
	released bool
}

func newPinnedRef[T Markable](s *Session, addr *T) PinnedRef[T] {
	s.pin(unsafe.Pointer(addr))
	h := &pinHandle{}
	runtime.SetFinalizer(h, func(h *pinHandle) {
		if !h.released {
			log.Printf("lisp: PinnedRef garbage collected without Release (leaked root at %p)", addr)
		}
	})
	return PinnedRef[T]{addr: addr, session: s, handle: h}
}

func (r PinnedRef[T]) checkSession() {
	if r.addr == nil {
		panic(InvariantError{Reason: "use of a zero-value PinnedRef"})
	}
	if owner := sessionOf(r.addr); owner != r.session {
		panic(InvariantError{Reason: "PinnedRef used against a different session than the one that pinned it"})
	}
}

// Clone returns a new PinnedRef to the same cell, pinning it again. The
// cell is only eligible for collection once every clone (including the
// original) has been Released.
func (r PinnedRef[T]) Clone() PinnedRef[T] {
	r.checkSession()
	return newPinnedRef[T](r.session, r.addr)
}

// Release unpins the cell. It must be called exactly once per PinnedRef
// (including every value returned by Clone); it is the explicit
// replacement for Rust's automatic Drop.
func (r PinnedRef[T]) Release() {
	r.checkSession()
	if r.handle.released {
		panic(InvariantError{Reason: "PinnedRef released more than once"})
	}
	r.handle.released = true
	r.session.unpin(unsafe.Pointer(r.addr))
}

// Equal reports whether two PinnedRefs name the same allocated cell.
// Two pinned refs to the same cell are equal; two refs to distinct
// allocations are unequal even if their field values happen to match.
func (r PinnedRef[T]) Equal(other PinnedRef[T]) bool {
	return r.addr == other.addr
}

func (r PinnedRef[T]) String() string {
	return fmt.Sprintf("PinnedRef{%p}", r.addr)
}

// Get reads a snapshot of the cell's current fields. The returned T is a
// copy; mutate the live cell only through the generated per-field
// setters on the typed reference wrappers (PairRef, VectorRef, ...).
func (r PinnedRef[T]) Get() T {
	r.checkSession()
	return *r.addr
}

// Addr exposes the raw, unpinned pointer to the underlying cell. This is
// the boundary between the rooted PinnedRef world and the freely
// copyable Value world: from this point on, it is the evaluator's (or
// the external compiler's) job to keep the referent alive across any
// further allocation, either by re-pinning it or by ensuring it is
// reachable through the heap.
func (r PinnedRef[T]) Addr() *T {
	r.checkSession()
	return r.addr
}
