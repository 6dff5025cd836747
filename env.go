package lisp

// SEnv is the compile-time shape of a lexical frame: an ordered list of
// names bound in this frame plus a link to the enclosing frame's shape.
// It is produced by the (out of scope) compiler and is never itself a GC
// cell — it is immutable, shared, ordinary Go data.
type SEnv struct {
	Names  []string
	Parent *SEnv
}

func NewSEnv(names []string, parent *SEnv) *SEnv {
	return &SEnv{Names: names, Parent: parent}
}

// EnvironmentStorage is the runtime counterpart of an SEnv: a vector of
// values plus a parent pointer. len(Values) must always equal
// len(SEnv.Names); NewEnvironment is the only constructor and enforces
// it.
type EnvironmentStorage struct {
	Parent    *EnvironmentStorage
	HasParent bool
	SEnv      *SEnv
	Values    *VectorStorage
}

func (e EnvironmentStorage) gcMark(s *Session) {
	if e.HasParent {
		markRef(e.Parent)
	}
	markRef(e.Values)
}

type EnvRef struct {
	PinnedRef[EnvironmentStorage]
}

// NewEnvironment allocates a fresh frame. len(values) must equal
// len(senv.Names); a mismatch panics with InvariantError rather than
// producing a frame whose fast-path indexed lookups could run off the
// end of Values.
func NewEnvironment(s *Session, parent *EnvRef, senv *SEnv, values VectorRef) EnvRef {
	if values.Len() != len(senv.Names) {
		panic(InvariantError{Reason: "environment frame shape does not match its SEnv"})
	}
	storage := EnvironmentStorage{SEnv: senv, Values: values.Addr()}
	if parent != nil {
		storage.Parent = parent.Addr()
		storage.HasParent = true
	}
	return EnvRef{Alloc(s, storage)}
}

// Get implements the fast, compiler-trusted indexed lookup: walk up
// `up` parent frames, then read slot `index`. It performs no bounds
// checking — the compiler is trusted to have resolved names to indices
// that are always in range, the same way a real bytecode interpreter
// trusts its compiler's emitted operands.
func (r EnvRef) Get(up, index int) Value {
	r.checkSession()
	e := r.addr
	for i := 0; i < up; i++ {
		e = e.Parent
	}
	return e.Values.Items[index]
}

// DynamicGet walks the environment chain by name, innermost frame first,
// returning the first match. It is the slow path behind Expr.Var.
func (r EnvRef) DynamicGet(name string) (Value, error) {
	r.checkSession()
	for e := r.addr; e != nil; e = e.Parent {
		for i, n := range e.SEnv.Names {
			if n == name {
				return e.Values.Items[i], nil
			}
		}
		if !e.HasParent {
			break
		}
	}
	return Value{}, UndefinedNameError{Name: name}
}

// DynamicSet mutates the first existing binding named name found while
// walking the chain outward from r. It never creates a new binding —
// only Push does that.
func (r EnvRef) DynamicSet(name string, v Value) error {
	r.checkSession()
	for e := r.addr; e != nil; e = e.Parent {
		for i, n := range e.SEnv.Names {
			if n == name {
				e.Values.Items[i] = v
				return nil
			}
		}
		if !e.HasParent {
			break
		}
	}
	return UndefinedNameError{Name: name}
}

// SetLocal writes slot index of the current frame (up=0). It is the
// fast-path mutator counterpart to Get, used by Expr.Letrec to fill in
// the slots of the frame it just built.
func (r EnvRef) SetLocal(index int, v Value) {
	r.checkSession()
	r.addr.Values.Items[index] = v
}

// Push extends the current frame's SEnv and Values by one slot, binding
// name to v. Used by Expr.Def at the top level. It shadows any outer
// binding with the same name, since DynamicGet/DynamicSet always search
// innermost-first.
func (r EnvRef) Push(name string, v Value) {
	r.checkSession()
	e := r.addr
	e.SEnv = &SEnv{Names: append(append([]string{}, e.SEnv.Names...), name), Parent: e.SEnv.Parent}
	e.Values.Items = append(e.Values.Items, v)
}
