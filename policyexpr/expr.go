package policyexpr

import (
	"fmt"
	"strings"
	"time"
)

// PrimitiveKind enumerates the scalar types a Primitive may hold.
type PrimitiveKind int

const (
	PrimInt PrimitiveKind = iota
	PrimFloat
	PrimBool
	PrimIdentifier
	PrimDateTime
	PrimSpan
)

// Primitive is a single scalar value in the policy expression algebra:
// an int, a non-NaN float, a bool, a bare identifier (resolved against
// an Env during evaluation), a zoned datetime, or a duration span.
type Primitive struct {
	Kind     PrimitiveKind
	Int      int64
	Float    float64
	Bool     bool
	Ident    string
	DateTime time.Time
	Span     Span
}

func (p Primitive) String() string {
	switch p.Kind {
	case PrimInt:
		return fmt.Sprintf("%d", p.Int)
	case PrimFloat:
		return fmt.Sprintf("%g", p.Float)
	case PrimBool:
		if p.Bool {
			return "#t"
		}
		return "#f"
	case PrimIdentifier:
		return p.Ident
	case PrimDateTime:
		return p.DateTime.Format(time.RFC3339)
	case PrimSpan:
		return p.Span.String()
	default:
		return "?"
	}
}

func (p Primitive) TypeName() string {
	switch p.Kind {
	case PrimInt:
		return "int"
	case PrimFloat:
		return "float"
	case PrimBool:
		return "bool"
	case PrimIdentifier:
		return "identifier"
	case PrimDateTime:
		return "datetime"
	case PrimSpan:
		return "span"
	default:
		return "unknown"
	}
}

// Value is the result of evaluating an Expr: either a single Primitive
// or a homogeneous Array of them.
type Value struct {
	IsArray   bool
	Primitive Primitive
	Array     []Primitive
}

func PrimitiveValue(p Primitive) Value { return Value{Primitive: p} }
func ArrayValue(items []Primitive) Value {
	return Value{IsArray: true, Array: items}
}

func (v Value) String() string {
	if !v.IsArray {
		return v.Primitive.String()
	}
	parts := make([]string, len(v.Array))
	for i, p := range v.Array {
		parts[i] = p.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Expr is a node of the policy expression AST.
type Expr interface {
	exprNode()
}

// PrimitiveExpr wraps a single scalar literal or identifier reference.
type PrimitiveExpr struct {
	Value Primitive
}

// ArrayExpr is a literal array of primitives.
type ArrayExpr struct {
	Items []Primitive
}

// FunctionExpr calls a built-in by name with the given argument
// expressions. A FunctionExpr with fewer arguments than its builtin
// expects is a valid value in its own right — a partial application
// used as a unary predicate, e.g. the first argument to filter.
type FunctionExpr struct {
	Name string
	Args []Expr
}

// LambdaExpr is a one-argument closure: `(lambda (param) body)`.
type LambdaExpr struct {
	Param string
	Body  Expr
}

// JSONPointerExpr is an RFC 6901 pointer into the evaluation context.
// Resolved is populated by the resolution pass before evaluation runs.
type JSONPointerExpr struct {
	Pointer  string
	Resolved *Value
}

func (PrimitiveExpr) exprNode()   {}
func (ArrayExpr) exprNode()       {}
func (FunctionExpr) exprNode()    {}
func (LambdaExpr) exprNode()      {}
func (JSONPointerExpr) exprNode() {}
