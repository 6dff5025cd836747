package lisp

// Expr is the compiled expression IR consumed by the evaluator. It is
// produced entirely by the (out of scope) compiler pass; this package
// only defines the node shapes and walks them.
//
// A small sealed interface with one concrete struct per variant, walked
// with plain type switches in eval.go and in walkExprConstants below,
// rather than a Visitor with one method per variant — simpler for a
// fixed, closed set of ten variants than double dispatch would be.
type Expr interface {
	exprNode()
}

// Con is a self-evaluating constant.
type Con struct {
	Value Value
}

func (Con) exprNode() {}

// Var is a slow lookup by name, walking the environment chain.
type Var struct {
	Name string
}

func (Var) exprNode() {}

// FastVar is a fast, compiler-trusted indexed lookup.
type FastVar struct {
	Up    int
	Index int
}

func (FastVar) exprNode() {}

// Fun closes over the current environment, producing a Lambda value.
// Code names an already heap-allocated compiled procedure: the compiler
// allocates one Code cell per lambda literal, and every evaluation of
// the enclosing Fun node reuses that same cell, pairing it with whatever
// Environment happens to be current at the time — it does not allocate
// a fresh Code cell per evaluation (e.g. a Fun inside a loop body).
type Fun struct {
	Code *CodeStorage
}

func (Fun) exprNode() {}

// App is a call: the first subexpression is the operator, the rest are
// operands. An App is always a tail call of its enclosing form.
type App struct {
	Subexprs []Expr
}

func (App) exprNode() {}

// Seq evaluates every subexpression but the last for effect; the last is
// in tail position. Seq([]) evaluates to Nil.
type Seq struct {
	Exprs []Expr
}

func (Seq) exprNode() {}

// If evaluates Cond fully, then tail-evaluates T or F depending on
// Cond's ToBool().
type If struct {
	Cond Expr
	T    Expr
	F    Expr
}

func (If) exprNode() {}

// Letrec creates a new frame of len(SEnv.Names) slots initialized to
// Nil, evaluates each initializer in order in the new frame (writing
// its slot), then tail-evaluates Body in the new frame.
type Letrec struct {
	SEnv  *SEnv
	Inits []Expr
	Body  Expr
}

func (Letrec) exprNode() {}

// Def adds a binding to the current frame and yields Unspecified.
type Def struct {
	Name  string
	Value Expr
}

func (Def) exprNode() {}

// Set mutates an existing binding via the slow path and yields
// Unspecified. It is an UndefinedNameError if no such binding exists.
type Set struct {
	Name  string
	Value Expr
}

func (Set) exprNode() {}

// walkExprConstants visits every Value embedded directly as a Con
// constant in e and, for each Fun node, the Code cell it names (as a
// Code Value). It does not descend into that Code's body; marking the
// Code cell does so through its own gcMark. It is how
// CodeStorage.gcMark keeps quoted heap literals
// (e.g. a quoted list) alive for as long as the Code that quotes them is
// reachable.
func walkExprConstants(e Expr, visit func(Value)) {
	switch n := e.(type) {
	case Con:
		visit(n.Value)
	case Var, FastVar:
		// no embedded values
	case Fun:
		visit(codeRefValue(n.Code))
	case App:
		for _, s := range n.Subexprs {
			walkExprConstants(s, visit)
		}
	case Seq:
		for _, s := range n.Exprs {
			walkExprConstants(s, visit)
		}
	case If:
		walkExprConstants(n.Cond, visit)
		walkExprConstants(n.T, visit)
		walkExprConstants(n.F, visit)
	case Letrec:
		for _, s := range n.Inits {
			walkExprConstants(s, visit)
		}
		walkExprConstants(n.Body, visit)
	case Def:
		walkExprConstants(n.Value, visit)
	case Set:
		walkExprConstants(n.Value, visit)
	}
}
