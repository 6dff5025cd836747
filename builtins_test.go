package lisp

// A minimal set of arithmetic/comparison builtins, hand-built here to
// drive eval_test.go end-to-end; a real embedder supplies these (and
// many more) the same way.

func testAddBuiltin() *Builtin {
	return &Builtin{Name: "+", Fn: func(s *Session, args []Value) (Trampoline, error) {
		sum := int32(0)
		for _, a := range args {
			i, ok := a.AsInt()
			if !ok {
				return Trampoline{}, InvariantError{Reason: "+ expects integers"}
			}
			sum += i
		}
		return BuiltinDone(IntValue(sum))
	}}
}

func testSubBuiltin() *Builtin {
	return &Builtin{Name: "-", Fn: func(s *Session, args []Value) (Trampoline, error) {
		if len(args) != 2 {
			return Trampoline{}, ArityError{Wanted: 2, Got: len(args)}
		}
		a, _ := args[0].AsInt()
		b, _ := args[1].AsInt()
		return BuiltinDone(IntValue(a - b))
	}}
}

func testEqBuiltin() *Builtin {
	return &Builtin{Name: "=", Fn: func(s *Session, args []Value) (Trampoline, error) {
		if len(args) != 2 {
			return Trampoline{}, ArityError{Wanted: 2, Got: len(args)}
		}
		return BuiltinDone(BoolValue(args[0].Equal(args[1])))
	}}
}

func testConsBuiltin() *Builtin {
	return &Builtin{Name: "cons", Fn: func(s *Session, args []Value) (Trampoline, error) {
		if len(args) != 2 {
			return Trampoline{}, ArityError{Wanted: 2, Got: len(args)}
		}
		// args are already pinned for the duration of this call by the
		// guard the caller's App evaluation built, so no extra pin is
		// needed before AllocPair; the new cell's own pin travels home
		// in the returned Trampoline's guard.
		ref := AllocPair(s, PairStorage{Car: args[0], Cdr: args[1]})
		g := newTrampolineGuard(s)
		g.adopt(ref.Release)
		return doneTrampoline(ConsValue(ref), g), nil
	}}
}

// newTopEnv builds an empty top-level frame with no parent, suitable as
// the root environment for a test's Eval call.
func newTopEnv(s *Session) EnvRef {
	senv := NewSEnv(nil, nil)
	values := AllocVector(s, nil)
	env := NewEnvironment(s, nil, senv, values)
	values.Release()
	return env
}
