package lisp

import (
	"fmt"
	"strconv"
)

// Symbol is an interned string handle: the index into a session-global
// (or compiler-global) symbol table. Interning is the compiler's job,
// not this package's, so Symbol is simply an opaque comparable integer
// handed to us already interned.
type Symbol int32

// SharedString is the heap-inline form of an immutable, shared string
// payload. It is never itself a GC cell (it holds no reference to
// other heap cells, so gc_trivial_impl-style trivial marking applies:
// there is nothing to trace).
type SharedString struct {
	Text string
}

type valueKind uint8

const (
	KindNil valueKind = iota
	KindUnspecified
	KindBool
	KindInt
	KindSymbol
	KindStr
	KindCons
	KindVector
	KindLambda
	KindCode
	KindBuiltin
	KindEnvironment
)

// Value is the sum type recognized by the evaluator. It is a plain,
// freely copyable tagged struct rather than an interface with a visitor
// method per kind: every eval step copies Values by value with no
// allocation, so paying for an interface's dynamic dispatch and a
// visitor's double dispatch on every Con/Var/App step would be wasted
// work for no benefit here.
//
// Fields that denote heap references (pair, vec, code, env) are always
// plain, unpinned pointers: Value itself never pins anything. Keeping a
// Value alive across a call that may trigger GC is the evaluator's job,
// done with short-lived pins scoped to exactly that window (see
// trampolineGuard in eval.go), not something Value does for itself.
type Value struct {
	kind valueKind
	b    bool
	i    int32
	sym  Symbol
	str  *SharedString
	pair *PairStorage
	vec  *VectorStorage
	code *CodeStorage
	env  *EnvironmentStorage
	bi   *Builtin
}

func NilValue() Value         { return Value{kind: KindNil} }
func UnspecifiedValue() Value { return Value{kind: KindUnspecified} }
func BoolValue(b bool) Value  { return Value{kind: KindBool, b: b} }
func IntValue(i int32) Value  { return Value{kind: KindInt, i: i} }
func SymbolValue(s Symbol) Value { return Value{kind: KindSymbol, sym: s} }
func StrValue(s *SharedString) Value { return Value{kind: KindStr, str: s} }
func BuiltinValue(b *Builtin) Value  { return Value{kind: KindBuiltin, bi: b} }

// ConsValue wraps a pinned pair reference as a plain, unpinned Cons
// value.
func ConsValue(r PairRef) Value { return Value{kind: KindCons, pair: r.Addr()} }

// LambdaValue wraps a pinned pair reference (car=Code, cdr=Environment)
// as a Lambda value.
func LambdaValue(r PairRef) Value { return Value{kind: KindLambda, pair: r.Addr()} }

func VectorValue(r VectorRef) Value { return Value{kind: KindVector, vec: r.Addr()} }
func CodeValue(r CodeRef) Value     { return Value{kind: KindCode, code: r.Addr()} }
func EnvironmentValue(r EnvRef) Value {
	return Value{kind: KindEnvironment, env: r.Addr()}
}

// codeRefValue wraps a raw, already-heap-allocated Code cell as a plain
// Value. Used by Expr.Fun: the compiled procedure a Fun node closes over
// is allocated once (by the out-of-scope compiler, or by a test standing
// in for it), and the CodeRef returned by that allocation is never
// released, so the cell stays pinned as a permanent root. A Code cell
// named by a Fun nested inside another Code's body is also marked
// through that enclosing CodeStorage's gcMark via walkExprConstants.
func codeRefValue(c *CodeStorage) Value { return Value{kind: KindCode, code: c} }

func (v Value) Kind() valueKind { return v.kind }

// ToBool is false only for Bool(false); every other value, including
// Nil and Int(0), is truthy.
func (v Value) ToBool() bool {
	return !(v.kind == KindBool && !v.b)
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int32, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsSymbol() (Symbol, bool) {
	if v.kind != KindSymbol {
		return 0, false
	}
	return v.sym, true
}

func (v Value) AsStr() (*SharedString, bool) {
	if v.kind != KindStr {
		return nil, false
	}
	return v.str, true
}

func (v Value) AsPair() (*PairStorage, bool) {
	if v.kind != KindCons && v.kind != KindLambda {
		return nil, false
	}
	return v.pair, true
}

func (v Value) AsCode() (*CodeStorage, bool) {
	if v.kind != KindCode {
		return nil, false
	}
	return v.code, true
}

func (v Value) AsEnvironment() (*EnvironmentStorage, bool) {
	if v.kind != KindEnvironment {
		return nil, false
	}
	return v.env, true
}

func (v Value) AsBuiltin() (*Builtin, bool) {
	if v.kind != KindBuiltin {
		return nil, false
	}
	return v.bi, true
}

// heapAddr returns the type-erased address of the heap cell v refers to,
// or nil if v carries no heap reference.
func (v Value) heapAddr() any {
	switch v.kind {
	case KindCons, KindLambda:
		return v.pair
	case KindVector:
		return v.vec
	case KindCode:
		return v.code
	case KindEnvironment:
		return v.env
	default:
		return nil
	}
}

// gcMark traces v during the mark phase: heap-referencing variants mark
// their referent's cell (which in turn recurses into that cell's own
// fields); every other variant is a leaf.
func (v Value) gcMark(s *Session) {
	switch v.kind {
	case KindCons, KindLambda:
		markRef(v.pair)
	case KindVector:
		markRef(v.vec)
	case KindCode:
		markRef(v.code)
	case KindEnvironment:
		markRef(v.env)
	}
}

// Equal implements value equality for the handful of cases the
// evaluator itself needs (builtins must compare equal iff they are the
// same builtin; heap references compare by identity, not by structural
// value).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNil, KindUnspecified:
		return true
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindSymbol:
		return v.sym == other.sym
	case KindStr:
		return v.str == other.str || (v.str != nil && other.str != nil && v.str.Text == other.str.Text)
	case KindCons, KindLambda:
		return v.pair == other.pair
	case KindVector:
		return v.vec == other.vec
	case KindCode:
		return v.code == other.code
	case KindEnvironment:
		return v.env == other.env
	case KindBuiltin:
		return v.bi == other.bi
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "()"
	case KindUnspecified:
		return "#<unspecified>"
	case KindBool:
		if v.b {
			return "#t"
		}
		return "#f"
	case KindInt:
		return strconv.Itoa(int(v.i))
	case KindSymbol:
		return fmt.Sprintf("sym#%d", v.sym)
	case KindStr:
		return strconv.Quote(v.str.Text)
	case KindCons:
		return fmt.Sprintf("(%s . %s)", v.pair.Car, v.pair.Cdr)
	case KindLambda:
		return "#<lambda>"
	case KindVector:
		return "#<vector>"
	case KindCode:
		return "#<code>"
	case KindBuiltin:
		return fmt.Sprintf("#<builtin %s>", v.bi.Name)
	case KindEnvironment:
		return "#<environment>"
	default:
		return "#<invalid>"
	}
}

// --- Pair cell ---

// PairStorage is the heap storage form of a cons cell: two precisely
// traced Value fields.
type PairStorage struct {
	Car Value
	Cdr Value
}

func (p PairStorage) gcMark(s *Session) {
	p.Car.gcMark(s)
	p.Cdr.gcMark(s)
}

// PairRef is the per-cell typed reference wrapper generated (by hand,
// since Go has no macros) from PairStorage's schema: a getter and setter
// per field, plus everything PinnedRef already provides via embedding.
type PairRef struct {
	PinnedRef[PairStorage]
}

func AllocPair(s *Session, fields PairStorage) PairRef {
	return PairRef{Alloc(s, fields)}
}

func (r PairRef) Car() Value      { r.checkSession(); return r.addr.Car }
func (r PairRef) Cdr() Value      { r.checkSession(); return r.addr.Cdr }
func (r PairRef) SetCar(v Value)  { r.checkSession(); r.addr.Car = v }
func (r PairRef) SetCdr(v Value)  { r.checkSession(); r.addr.Cdr = v }

// --- Vector cell (used for argument/slot vectors and environment frames) ---

// VectorStorage holds a precisely traced slice of Values. One cell in
// the heap always corresponds to one VectorStorage allocation,
// regardless of how many elements its slice holds.
type VectorStorage struct {
	Items []Value
}

func (vs VectorStorage) gcMark(s *Session) {
	for _, item := range vs.Items {
		item.gcMark(s)
	}
}

type VectorRef struct {
	PinnedRef[VectorStorage]
}

func AllocVector(s *Session, items []Value) VectorRef {
	return VectorRef{Alloc(s, VectorStorage{Items: items})}
}

func (r VectorRef) Len() int            { r.checkSession(); return len(r.addr.Items) }
func (r VectorRef) Get(i int) Value     { r.checkSession(); return r.addr.Items[i] }
func (r VectorRef) Set(i int, v Value)  { r.checkSession(); r.addr.Items[i] = v }
func (r VectorRef) Items() []Value      { r.checkSession(); return r.addr.Items }

// --- Compiled procedure (Code) cell ---

// CodeStorage holds a compiled procedure: its static environment shape,
// whether its last parameter collects a rest list, and its body
// expression. SEnv and the Expr tree are ordinary Go values owned
// directly by CodeStorage, not separately heap-managed cells — only the
// Values embedded as Con constants inside the body and the Code cells
// named by its Fun nodes can reference the GC heap, which gcMark walks
// precisely.
type CodeStorage struct {
	SEnv *SEnv
	Rest bool
	Body Expr
}

func (c CodeStorage) gcMark(s *Session) {
	walkExprConstants(c.Body, func(v Value) { v.gcMark(s) })
}

type CodeRef struct {
	PinnedRef[CodeStorage]
}

func AllocCode(s *Session, fields CodeStorage) CodeRef {
	return CodeRef{Alloc(s, fields)}
}

func (r CodeRef) SEnv() *SEnv { r.checkSession(); return r.addr.SEnv }
func (r CodeRef) Rest() bool  { r.checkSession(); return r.addr.Rest }
func (r CodeRef) Body() Expr  { r.checkSession(); return r.addr.Body }
