// Package signature models a resolved callable's shape: its inputs, output,
// invocation style and per-input borrow/capture bits (Data model, §3).
package signature

import "github.com/pavex-go/pavexc/pkg/types"

// InvocationStyle is how the callable is invoked.
type InvocationStyle int

const (
	FreeFunction InvocationStyle = iota
	Method
	StructLiteralConstructor
)

// Input is one parameter of a callable, annotated with the borrow/capture bits
// the borrow checker (C6) needs: whether the output borrows immutably from this
// input, and whether the output's lifetime is tied to ("captures") it.
type Input struct {
	Name        string
	Type        *types.Resolved
	BorrowsFrom bool // the output borrows immutably from this input
	Captures    bool // superset of BorrowsFrom: the output's lifetime is tied to this input
}

// Signature is a fully resolved callable: an importable path, its inputs, its
// (possibly absent) output type, whether it's async, and its invocation style.
type Signature struct {
	ImportPath string
	Style      InvocationStyle
	Inputs     []Input
	Output     *types.Resolved // nil for side-effect-only callables
	Async      bool

	result *Result // set via MarkFallible; nil means infallible
}

// Fallible reports whether the output matches Result<T, E> with E != Never,
// per the component classification rule in §4.2. The resolver encodes this
// by setting OkType/ErrType on a fallible Signature's Output via the Result
// helper below; a non-nil ErrType marks fallibility.
type Result struct {
	OkType  *types.Resolved
	ErrType *types.Resolved
}

// AsResult type-asserts a callable's logical output as a Result shape. The
// resolver is the only caller that constructs Results; everything else just
// reads Output/IsFallible.
func (s *Signature) AsResult() (Result, bool) {
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// result is unexported: set only via MarkFallible so callers can't construct
// an inconsistent Output/result pair.
func (s *Signature) MarkFallible(ok, err *types.Resolved) {
	s.Output = ok
	s.result = &Result{OkType: ok, ErrType: err}
}

func (s *Signature) IsFallible() bool { return s.result != nil }

func (s *Signature) ErrType() *types.Resolved {
	if s.result == nil {
		return nil
	}
	return s.result.ErrType
}
