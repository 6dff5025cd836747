package lisp

import (
	"log"
	"unsafe"
)

// SessionConfig carries the handful of knobs a Session construction
// accepts: a small typed config struct rather than a generic
// string-keyed bag, since the surface area here is just one field.
type SessionConfig struct {
	// Logger receives GC cycle tracing (cycle count, page count, cells
	// swept). A nil Logger disables tracing entirely.
	Logger *log.Logger
}

// DefaultSessionConfig returns the configuration used when a zero-value
// SessionConfig (or none at all) is supplied.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{}
}

// Session is the lifetime-scoped owner of every heap page and the pin
// multiset. It is single-threaded and non-reentrant: the zero value is
// not usable, always construct one via NewSession or WithHeap.
type Session struct {
	cfg      SessionConfig
	pages    map[typeID]gcPage
	pageList []gcPage // stable iteration order for GC, independent of map order
	pins     map[unsafe.Pointer]int
	gcCycles int
	closed   bool
}

// NewSession creates a new, empty heap session. Prefer WithHeap, which
// also guarantees the final GC and leak check run.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		cfg:   cfg,
		pages: make(map[typeID]gcPage),
		pins:  make(map[unsafe.Pointer]int),
	}
}

// WithHeap creates a session, runs body against it, then tears it down:
// a final GC destroys any remaining allocations and the pin multiset is
// asserted empty. This is the Go rendering of the Rust with_heap
// function, and the preferred way to obtain a Session, because the
// final GC and leak check run when body returns. It does not stop a
// PinnedRef from being kept past that point.
func WithHeap(cfg SessionConfig, body func(*Session) error) error {
	s := NewSession(cfg)
	defer s.close()
	return body(s)
}

// close runs the final GC and panics if any pins remain, indicating a
// leaked root. It is the Go stand-in for Heap's Drop impl.
func (s *Session) close() {
	s.gc()
	if len(s.pins) != 0 {
		panic(InvariantError{Reason: "session closed with live pins outstanding"})
	}
	for _, p := range s.pageList {
		if p.allocatedCount() != 0 {
			panic(InvariantError{Reason: "session closed with live allocations after final GC"})
		}
	}
	s.closed = true
}

func (s *Session) logf(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

func getPage[T Markable](s *Session) *page[T] {
	tid := typeIDOf[T]()
	if gp, ok := s.pages[tid]; ok {
		return gp.(*page[T])
	}
	p := newPage[T](s, tid)
	s.pages[tid] = p
	s.pageList = append(s.pageList, p)
	return p
}

// Alloc converts fields to their heap storage form (the caller has
// already done so by passing T directly), attempts a fast allocation,
// and on failure runs one GC cycle and retries once. A second failure is
// fatal: a live, pinned root set plus the page budget leaves nothing
// further to free.
func Alloc[T Markable](s *Session, fields T) PinnedRef[T] {
	p := getPage[T](s)
	addr := p.tryAlloc()
	if addr == nil {
		s.gc()
		addr = p.tryAlloc()
		if addr == nil {
			panic(OutOfMemoryError{})
		}
	}
	*addr = fields
	return newPinnedRef[T](s, addr)
}

// pin adds addr to the root set, or increments its count if already
// present. It panics only when the session is closed; it does not check
// that addr is an allocated cell.
func (s *Session) pin(addr unsafe.Pointer) {
	if s.closed {
		panic(InvariantError{Reason: "pin called on a closed session"})
	}
	s.pins[addr]++
}

// unpin decrements addr's pin count, removing the entry once it reaches
// zero. Unpinning an address with no outstanding pins is a programming
// error.
func (s *Session) unpin(addr unsafe.Pointer) {
	n, ok := s.pins[addr]
	if !ok || n == 0 {
		panic(InvariantError{Reason: "unpin called on an address with no outstanding pin"})
	}
	if n == 1 {
		delete(s.pins, addr)
	} else {
		s.pins[addr] = n - 1
	}
}

// ForceGC runs a full mark-and-sweep cycle outside of the allocation
// retry path, so tests can assert on sweep behavior directly instead of
// exhausting a page to trigger one.
func (s *Session) ForceGC() {
	s.gc()
}

// gc runs one mark-and-sweep cycle: clear every page's mark bits, mark
// from every pinned address, then sweep every page.
func (s *Session) gc() {
	s.gcCycles++
	for _, p := range s.pageList {
		p.clearMarks()
	}
	for addr := range s.pins {
		hdr := (*pageHeader)(pageHeaderOf(addr))
		hdr.markEntry(addr)
	}
	swept := 0
	for _, p := range s.pageList {
		before := p.allocatedCount()
		p.sweep()
		swept += before - p.allocatedCount()
	}
	s.logf("gc: cycle=%d pages=%d swept=%d", s.gcCycles, len(s.pageList), swept)
}

// markRef marks the cell addr belongs to, via the type-erased entry
// point stored in its page header. It is the helper every Markable
// implementation uses to trace a nested heap reference.
func markRef[T any](addr *T) {
	if addr == nil {
		return
	}
	hdr := (*pageHeader)(pageHeaderOf(unsafe.Pointer(addr)))
	hdr.markEntry(unsafe.Pointer(addr))
}

// sessionOf returns the Session that owns the page containing addr, by
// masking to the page header. Used to implement the dynamically checked
// session-id brand on PinnedRef and its typed accessors.
func sessionOf[T any](addr *T) *Session {
	hdr := (*pageHeader)(pageHeaderOf(unsafe.Pointer(addr)))
	return hdr.owner
}
