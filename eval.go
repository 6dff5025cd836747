package lisp

// Trampoline is the outcome of one evaluation step: either a completed
// Value, or a tail call still to be performed. Bouncing it to
// completion (see Eval) is what gives this evaluator a host stack depth
// independent of how deep the logical (guest) call chain runs.
type Trampoline struct {
	Done  bool
	Value Value
	Fn    Value
	Args  []Value
	guard *trampolineGuard
}

func doneTrampoline(v Value, guard *trampolineGuard) Trampoline {
	return Trampoline{Done: true, Value: v, guard: guard}
}

func tailCall(fn Value, args []Value, guard *trampolineGuard) Trampoline {
	return Trampoline{Fn: fn, Args: args, guard: guard}
}

// trampolineGuard pins every Value (or freshly allocated cell) handed to
// it for as long as the guard itself is alive, releasing all of them,
// most recently added first, when release runs. GC only ever happens
// synchronously inside Alloc, so the only real hazard is a Value sitting
// unrooted on the Go stack across a later Alloc call; a guard is the
// evaluator's way of rooting exactly those Values for exactly that
// window. One guard is built per evaluation step (per Eval/apply
// invocation, and passed down to evalToTail) and travels embedded in
// the Trampoline that step
// produces; Eval's driver loop releases a step's guard only once the
// following step has consumed (or re-pinned) whatever it protects.
type trampolineGuard struct {
	s        *Session
	releases []func()
}

func newTrampolineGuard(s *Session) *trampolineGuard {
	return &trampolineGuard{s: s}
}

// adopt hands ownership of an existing pin's release to the guard.
func (g *trampolineGuard) adopt(release func()) {
	g.releases = append(g.releases, release)
}

// add pins v, if it carries a heap reference, and returns v unchanged so
// it can be used inline (args[i] = guard.add(v)).
func (g *trampolineGuard) add(v Value) Value {
	switch v.kind {
	case KindCons, KindLambda:
		g.adopt(newPinnedRef(g.s, v.pair).Release)
	case KindVector:
		g.adopt(newPinnedRef(g.s, v.vec).Release)
	case KindCode:
		g.adopt(newPinnedRef(g.s, v.code).Release)
	case KindEnvironment:
		g.adopt(newPinnedRef(g.s, v.env).Release)
	}
	return v
}

func (g *trampolineGuard) release() {
	if g == nil {
		return
	}
	for i := len(g.releases) - 1; i >= 0; i-- {
		g.releases[i]()
	}
	g.releases = nil
}

// Eval evaluates e in env to a final Value, driving the trampoline until
// done. env must already be reachable (pinned, or transitively reachable
// from a pin) for the duration of this call; Eval does not pin it.
//
// The returned Value is valid only until the caller's next Alloc — like
// every other Value in this package, it carries no pin of its own. A
// caller that needs it to survive a further allocation must add it to
// its own guard (or a PinnedRef) first.
func Eval(s *Session, env EnvRef, e Expr) (Value, error) {
	guard := newTrampolineGuard(s)
	t, err := evalToTail(s, env, e, guard)
	if err != nil {
		guard.release()
		return Value{}, err
	}
	for !t.Done {
		fn, args, prevGuard := t.Fn, t.Args, t.guard
		next, err := apply(s, fn, args)
		prevGuard.release()
		if err != nil {
			return Value{}, err
		}
		t = next
	}
	t.guard.release()
	return t.Value, nil
}

// evalToTail evaluates e one step. Everything not in tail position
// (operator/operand subexpressions of an App, Seq's leading
// expressions, If's condition, Letrec's initializers) is evaluated with
// a full recursive Eval call; only the expression actually in tail
// position is evaluated with evalToTail, so that a chain of tail calls
// never grows the host stack.
func evalToTail(s *Session, env EnvRef, e Expr, guard *trampolineGuard) (Trampoline, error) {
	switch n := e.(type) {
	case Con:
		return doneTrampoline(n.Value, guard), nil

	case Var:
		v, err := env.DynamicGet(n.Name)
		if err != nil {
			return Trampoline{}, err
		}
		return doneTrampoline(v, guard), nil

	case FastVar:
		return doneTrampoline(env.Get(n.Up, n.Index), guard), nil

	case Fun:
		ref := AllocPair(s, PairStorage{Car: codeRefValue(n.Code), Cdr: EnvironmentValue(env)})
		guard.adopt(ref.Release)
		return doneTrampoline(LambdaValue(ref), guard), nil

	case App:
		if len(n.Subexprs) == 0 {
			return Trampoline{}, InvariantError{Reason: "empty application"}
		}
		fnVal, err := Eval(s, env, n.Subexprs[0])
		if err != nil {
			return Trampoline{}, err
		}
		guard.add(fnVal)
		args := make([]Value, 0, len(n.Subexprs)-1)
		for _, sub := range n.Subexprs[1:] {
			v, err := Eval(s, env, sub)
			if err != nil {
				return Trampoline{}, err
			}
			args = append(args, guard.add(v))
		}
		return tailCall(fnVal, args, guard), nil

	case Seq:
		if len(n.Exprs) == 0 {
			return doneTrampoline(NilValue(), guard), nil
		}
		for _, sub := range n.Exprs[:len(n.Exprs)-1] {
			if _, err := Eval(s, env, sub); err != nil {
				return Trampoline{}, err
			}
		}
		return evalToTail(s, env, n.Exprs[len(n.Exprs)-1], guard)

	case If:
		cond, err := Eval(s, env, n.Cond)
		if err != nil {
			return Trampoline{}, err
		}
		if cond.ToBool() {
			return evalToTail(s, env, n.T, guard)
		}
		return evalToTail(s, env, n.F, guard)

	case Letrec:
		return evalLetrec(s, env, n, guard)

	case Def:
		v, err := Eval(s, env, n.Value)
		if err != nil {
			return Trampoline{}, err
		}
		env.Push(n.Name, v)
		return doneTrampoline(UnspecifiedValue(), guard), nil

	case Set:
		v, err := Eval(s, env, n.Value)
		if err != nil {
			return Trampoline{}, err
		}
		if err := env.DynamicSet(n.Name, v); err != nil {
			return Trampoline{}, err
		}
		return doneTrampoline(UnspecifiedValue(), guard), nil

	default:
		return Trampoline{}, InvariantError{Reason: "unknown Expr node"}
	}
}

// evalLetrec allocates a frame of Nil-initialized slots, evaluates each
// initializer against that frame (so mutually recursive initializers can
// see each other's bindings as closures, per the letrec discipline),
// then tail-evaluates the body in the new frame. The frame is pinned
// only from the moment it is built until this function returns: by
// then, anything the body needs to keep it alive (typically a Lambda
// closing over it) has already been folded into guard.
func evalLetrec(s *Session, env EnvRef, n Letrec, guard *trampolineGuard) (Trampoline, error) {
	values := make([]Value, len(n.SEnv.Names))
	for i := range values {
		values[i] = NilValue()
	}
	vecRef := AllocVector(s, values)
	frame := NewEnvironment(s, &env, n.SEnv, vecRef)
	vecRef.Release()

	for i, init := range n.Inits {
		v, err := Eval(s, frame, init)
		if err != nil {
			frame.Release()
			return Trampoline{}, err
		}
		frame.SetLocal(i, v)
	}

	t, err := evalToTail(s, frame, n.Body, guard)
	frame.Release()
	return t, err
}

// apply invokes fn with args: a Builtin call returns immediately, a
// Lambda call binds args into a fresh frame and tail-evaluates its body.
func apply(s *Session, fn Value, args []Value) (Trampoline, error) {
	if bi, ok := fn.AsBuiltin(); ok {
		return bi.Fn(s, args)
	}

	if fn.Kind() != KindLambda {
		return Trampoline{}, NotAFunctionError{Got: fn}
	}
	pair, _ := fn.AsPair()
	code, ok := pair.Car.AsCode()
	if !ok {
		return Trampoline{}, InvariantError{Reason: "lambda car is not a Code value"}
	}
	closureEnv, ok := pair.Cdr.AsEnvironment()
	if !ok {
		return Trampoline{}, InvariantError{Reason: "lambda cdr is not an Environment value"}
	}

	wanted := len(code.SEnv.Names)
	if code.Rest {
		wanted--
		if len(args) < wanted {
			return Trampoline{}, ArityError{Wanted: wanted, WantedRest: true, Got: len(args)}
		}
	} else if len(args) != wanted {
		return Trampoline{}, ArityError{Wanted: wanted, Got: len(args)}
	}

	values := make([]Value, len(code.SEnv.Names))
	copy(values, args[:wanted])

	var restPin func()
	if code.Rest {
		rest := NilValue()
		for i := len(args) - 1; i >= wanted; i-- {
			p := AllocPair(s, PairStorage{Car: args[i], Cdr: rest})
			if restPin != nil {
				restPin()
			}
			rest = ConsValue(p)
			restPin = p.Release
		}
		values[wanted] = rest
	}

	// closureEnv is already transitively protected for the duration of
	// this call: fn itself was pinned by the caller's guard before
	// apply was invoked, and fn's pair marks its own Cdr (closureEnv)
	// whenever a GC runs while that pin is held. No separate pin is
	// needed to pass its address through to NewEnvironment.
	parentView := EnvRef{PinnedRef[EnvironmentStorage]{addr: closureEnv, session: s}}

	vecRef := AllocVector(s, values)
	if restPin != nil {
		restPin()
	}
	callEnv := NewEnvironment(s, &parentView, code.SEnv, vecRef)
	vecRef.Release()

	guard := newTrampolineGuard(s)
	t, err := evalToTail(s, callEnv, code.Body, guard)
	callEnv.Release()
	if err != nil {
		guard.release()
		return Trampoline{}, err
	}
	return t, nil
}
