package lisp

import (
	"math/bits"
	"reflect"
	"unsafe"
)

// pageCapacity is the number of cells of one concrete storage type that
// fit in a single page. It is a compile-time constant, chosen so that a
// page fits comfortably within one pageAlign block (see original_source's
// HEAP_SIZE / HEAP_STORAGE_ALIGN split).
const pageCapacity = 125

// pageAlign is the power-of-two alignment boundary a page is placed on.
// Masking any interior cell address with ^(pageAlign-1) yields the
// address of the owning page's header.
const pageAlign = 1 << 16

// typeID identifies a concrete storage type for the session's per-type
// page map. reflect.Type is already a comparable, stable identity for a
// Go type, so it serves directly as the key without needing a type
// registry of our own.
type typeID = reflect.Type

func typeIDOf[T any]() typeID {
	var zero T
	return reflect.TypeOf(zero)
}

// markFunc marks one cell of a page's concrete type, given a type-erased
// pointer to that cell. It is the per-type entry point stored in every
// page header.
type markFunc func(addr unsafe.Pointer)

// Markable is implemented by every concrete storage type T that can
// live in a heap page. gcMark is called once per reachable cell during
// the mark phase and must call Value.gcMark (or recurse into nested
// storage) for every field that can hold a heap reference.
type Markable interface {
	gcMark(s *Session)
}

// bitset is a flat bitmap sized in 64-bit words, used for both the mark
// and allocated bitmaps of a page.
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) test(i int) bool {
	return b[i/64]&(uint64(1)<<uint(i%64)) != 0
}

func (b bitset) set(i int) {
	b[i/64] |= uint64(1) << uint(i%64)
}

func (b bitset) clear(i int) {
	b[i/64] &^= uint64(1) << uint(i%64)
}

func (b bitset) clearAll() {
	for i := range b {
		b[i] = 0
	}
}

func (b bitset) countOnes() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// pageHeader holds every page field whose layout does not depend on the
// page's concrete storage type T. Because page[T] embeds pageHeader as
// its first field, the header occupies the same offset (0) regardless of
// T, which is what lets the session dereference a type-erased pointer to
// a page's base address as a *pageHeader without knowing T.
type pageHeader struct {
	owner     *Session
	typ       typeID
	markBits  bitset
	allocBits bitset
	markEntry markFunc
	freeHead  int32
	nextFree  [pageCapacity]int32
	raw       []byte // the backing slab this page was carved from; see newPage.
}

// gcPage is the type-erased view of a page used by the session's
// sweep/mark-clear loop, which must operate over heterogeneous page
// types without knowing each one's concrete T.
type gcPage interface {
	clearMarks()
	sweep()
	allocatedCount() int
}

// page is a fixed-capacity, page-aligned slab of CAPACITY cells of
// uniform concrete storage type T, along with the bookkeeping the
// session and the GC cycle need: mark/allocated bitmaps, a side-table
// freelist, and a precise per-type mark entry point.
type page[T Markable] struct {
	pageHeader
	cells [pageCapacity]T
}

// newPage allocates a fresh, page-aligned page for storage type T. The
// alignment is obtained by over-allocating a raw byte slab and rounding
// its base address up to the next pageAlign boundary — the "aligned
// slab" technique, since Go gives no portable way to request OS-page
// alignment for an arbitrary allocation. The header records the raw
// slab, but the header lives inside that slab; what keeps the slab
// allocated is the session's page map, which holds the returned
// *page[T] (an interior pointer into it).
func newPage[T Markable](owner *Session, tid typeID) *page[T] {
	var zero page[T]
	size := unsafe.Sizeof(zero)
	if size > pageAlign {
		panic(InvariantError{Reason: "page storage type too large for page alignment block"})
	}

	raw := make([]byte, uintptr(size)+pageAlign)
	base := uintptr(unsafe.Pointer(&raw[0]))
	aligned := (base + pageAlign - 1) &^ (pageAlign - 1)
	if aligned+uintptr(size) > base+uintptr(len(raw)) {
		panic(InvariantError{Reason: "page alignment arithmetic overran the backing slab"})
	}

	p := (*page[T])(unsafe.Pointer(aligned))
	*p = page[T]{
		pageHeader: pageHeader{
			owner:     owner,
			typ:       tid,
			markBits:  newBitset(pageCapacity),
			allocBits: newBitset(pageCapacity),
			raw:       raw,
		},
	}
	p.markEntry = markEntryPoint(p)
	p.initFreelist()

	if pageHeaderOf(unsafe.Pointer(&p.cells[0])) != unsafe.Pointer(p) {
		panic(InvariantError{Reason: "page header derivation from interior pointer does not round-trip"})
	}
	return p
}

// pageHeaderOf returns the address of the page header owning the cell at
// addr, by masking off the low pageAlign bits. This is the mechanism
// that lets the session mark a type-erased root address without knowing
// its concrete type: the header (and its markEntry function pointer) can
// always be found this way.
func pageHeaderOf(addr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr) &^ (pageAlign - 1))
}

// markEntryPoint builds the per-type mark function installed in a page's
// header. It sets the page's mark bit for the target cell (returning
// early if already set, which is what terminates cycles during marking)
// and then recurses into the cell's own fields via Markable.gcMark.
func markEntryPoint[T Markable](p *page[T]) markFunc {
	return func(addr unsafe.Pointer) {
		idx := p.indexOf((*T)(addr))
		if p.markBits.test(idx) {
			return
		}
		p.markBits.set(idx)
		p.cells[idx].gcMark(p.owner)
	}
}

// indexOf computes the cell index for an interior pointer and asserts
// that the reverse mapping (index -> address) round-trips, catching any
// pointer arithmetic bug in newPage's alignment or this page's stride
// before it silently corrupts an unrelated cell.
func (p *page[T]) indexOf(ptr *T) int {
	base := uintptr(unsafe.Pointer(&p.cells[0]))
	addr := uintptr(unsafe.Pointer(ptr))
	var zero T
	stride := unsafe.Sizeof(zero)
	if addr < base || addr >= base+uintptr(pageCapacity)*stride {
		panic(InvariantError{Reason: "cell address out of range for its page"})
	}
	index := int((addr - base) / stride)
	if unsafe.Pointer(&p.cells[index]) != unsafe.Pointer(ptr) {
		panic(InvariantError{Reason: "cell index does not round-trip to its address"})
	}
	return index
}

// initFreelist links every cell into the freelist, last cell first, so
// tryAlloc hands out cell 0 first.
func (p *page[T]) initFreelist() {
	p.freeHead = -1
	for i := pageCapacity - 1; i >= 0; i-- {
		p.nextFree[i] = p.freeHead
		p.freeHead = int32(i)
	}
}

// tryAlloc pops the freelist head, marks it allocated, and returns a
// pointer to the cell, or nil if the page is full.
func (p *page[T]) tryAlloc() *T {
	if p.freeHead < 0 {
		return nil
	}
	idx := p.freeHead
	p.freeHead = p.nextFree[idx]
	if p.allocBits.test(int(idx)) {
		panic(InvariantError{Reason: "freelist handed out an already-allocated cell"})
	}
	p.allocBits.set(int(idx))
	return &p.cells[idx]
}

// freeIndex pushes cell i back onto the freelist. Called only from
// sweep, after the cell's destructor has run.
func (p *page[T]) freeIndex(i int) {
	p.nextFree[i] = p.freeHead
	p.freeHead = int32(i)
}

func (p *page[T]) clearMarks() {
	p.markBits.clearAll()
}

func (p *page[T]) allocatedCount() int {
	return p.allocBits.countOnes()
}

// sweep destroys every allocated-but-unmarked cell exactly once,
// overwriting it with its zero value (the Go stand-in for running a
// destructor in place), clears its allocated bit, and returns it to the
// freelist. No user code runs during sweep.
func (p *page[T]) sweep() {
	var zero T
	for i := 0; i < pageCapacity; i++ {
		if p.allocBits.test(i) && !p.markBits.test(i) {
			p.cells[i] = zero
			p.allocBits.clear(i)
			p.freeIndex(i)
		}
	}
}
