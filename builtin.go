package lisp

// Builtin is a host-implemented procedure. Two Builtin values are the
// same procedure iff they are the same *Builtin pointer — Value.Equal
// relies on this, which is why builtins are always constructed once (by
// the host embedding this package) and referenced thereafter, never
// copied by value.
type Builtin struct {
	Name string
	Fn   func(s *Session, args []Value) (Trampoline, error)
}

// BuiltinDone is the convenience a Builtin.Fn implementation uses to
// return a final Value with no tail call pending. It passes no guard:
// a Value with no heap reference (the common case for arithmetic and
// comparison builtins) needs none, and a builtin that does return a
// heap reference is expected to have kept it reachable on its own
// (typically by accepting it unchanged from one of its own pinned
// arguments, or by using NewGuard below for anything it allocates).
func BuiltinDone(v Value) (Trampoline, error) {
	return Trampoline{Done: true, Value: v}, nil
}

// BuiltinTailCall lets a builtin implemented in terms of another
// callable (e.g. apply, map) hand off to it without growing the host
// stack: it is evaluated by the very same trampoline loop that drove
// the builtin itself.
func BuiltinTailCall(s *Session, fn Value, args []Value) (Trampoline, error) {
	guard := newTrampolineGuard(s)
	guard.add(fn)
	for _, a := range args {
		guard.add(a)
	}
	return tailCall(fn, args, guard), nil
}

// NewGuard exposes a fresh trampolineGuard to a builtin that needs to
// allocate and return a heap value of its own (e.g. cons, vector); call
// Pin on the guard for every Value it constructs or receives that must
// survive until the Trampoline this call returns is consumed by Eval's
// driver loop.
type Guard struct{ g *trampolineGuard }

func NewGuard(s *Session) Guard { return Guard{g: newTrampolineGuard(s)} }

func (g Guard) Pin(v Value) Value { return g.g.add(v) }

func (g Guard) Done(v Value) Trampoline { return doneTrampoline(g.Pin(v), g.g) }
