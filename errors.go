package lisp

import "fmt"

// ArityError is returned by apply when a Lambda is called with the
// wrong number of arguments.
type ArityError struct {
	Wanted     int
	WantedRest bool
	Got        int
}

func (e ArityError) Error() string {
	if e.Got < e.Wanted {
		return "apply: not enough arguments"
	}
	return "apply: too many arguments"
}

// NotAFunctionError is returned by apply when fval is not callable.
type NotAFunctionError struct {
	Got Value
}

func (e NotAFunctionError) Error() string {
	return "apply: not a function"
}

// UndefinedNameError is returned by Var and Set when name is not bound
// anywhere in the environment chain.
type UndefinedNameError struct {
	Name string
}

func (e UndefinedNameError) Error() string {
	return fmt.Sprintf("undefined: %s", e.Name)
}

// OutOfMemoryError is panicked by Alloc when a GC retry still fails to
// free a cell. There is no recovery path: a caller that wants to bound
// heap growth has to do so before calling Alloc, not after it fails.
type OutOfMemoryError struct{}

func (e OutOfMemoryError) Error() string {
	return "out of memory"
}

// InvariantError reports a violated internal invariant. It is panicked
// for a bad environment shape, a page alignment failure, a PinnedRef
// used wrongly, closing a session with live pins, ...; apply and
// evalToTail return it as an error for a bad lambda shape, an empty
// application or an unknown Expr node. Pinning a non-allocated address
// is not detected. It always indicates an implementation bug, never
// user error.
type InvariantError struct {
	Reason string
}

func (e InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Reason)
}
