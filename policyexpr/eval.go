package policyexpr

import (
	"fmt"
	"time"
)

// Eval evaluates expr in env against the rules of the built-in table.
// JSONPointerExpr nodes must already carry a Resolved value, i.e. expr
// should have passed through ResolveAll first.
func Eval(expr Expr, env *Env) (Value, error) {
	switch v := expr.(type) {
	case PrimitiveExpr:
		if v.Value.Kind == PrimIdentifier {
			if bound, ok := env.Lookup(v.Value.Ident); ok {
				return bound, nil
			}
			return Value{}, fmt.Errorf("policyexpr: unbound identifier %q", v.Value.Ident)
		}
		return PrimitiveValue(v.Value), nil
	case ArrayExpr:
		return ArrayValue(v.Items), nil
	case JSONPointerExpr:
		if v.Resolved == nil {
			return Value{}, fmt.Errorf("policyexpr: json pointer %q was not resolved before evaluation", v.Pointer)
		}
		return *v.Resolved, nil
	case LambdaExpr:
		return Value{}, fmt.Errorf("policyexpr: lambda cannot be evaluated outside a predicate position")
	case FunctionExpr:
		return evalFunction(v, env)
	default:
		return Value{}, fmt.Errorf("policyexpr: unknown expr node %T", expr)
	}
}

// applyPredicate applies a unary predicate expression — a lambda or a
// partially-applied built-in — to a single primitive, as used by
// filter. It never mutates the original expr.
func applyPredicate(pred Expr, item Primitive, env *Env) (Value, error) {
	switch p := pred.(type) {
	case LambdaExpr:
		return Eval(p.Body, env.WithBinding(p.Param, PrimitiveValue(item)))
	case FunctionExpr:
		args := make([]Expr, 0, len(p.Args)+1)
		args = append(args, PrimitiveExpr{Value: item})
		args = append(args, p.Args...)
		return evalFunction(FunctionExpr{Name: p.Name, Args: args}, env)
	default:
		return Value{}, fmt.Errorf("policyexpr: %T cannot be used in predicate position", pred)
	}
}

func evalFunction(fn FunctionExpr, env *Env) (Value, error) {
	switch fn.Name {
	case "add", "sub", "divz":
		return evalArith(fn, env)
	case "gt", "gte", "lt", "lte", "eq", "neq":
		return evalCompare(fn, env)
	case "and", "or":
		return evalLogical(fn, env)
	case "not":
		return evalNot(fn, env)
	case "count", "max", "min", "avg":
		return evalReduce(fn, env)
	case "filter":
		return evalFilter(fn, env)
	default:
		return Value{}, fmt.Errorf("policyexpr: unknown function %q", fn.Name)
	}
}

func evalArgs(fn FunctionExpr, env *Env, n int) ([]Value, error) {
	if len(fn.Args) != n {
		return nil, fmt.Errorf("policyexpr: %q expects %d argument(s), got %d", fn.Name, n, len(fn.Args))
	}
	vals := make([]Value, n)
	for i, a := range fn.Args {
		v, err := Eval(a, env)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func evalArith(fn FunctionExpr, env *Env) (Value, error) {
	vals, err := evalArgs(fn, env, 2)
	if err != nil {
		return Value{}, err
	}
	a, b := vals[0].Primitive, vals[1].Primitive

	if a.Kind == PrimDateTime && b.Kind == PrimDateTime && fn.Name == "sub" {
		return PrimitiveValue(Primitive{Kind: PrimSpan, Span: Span{Seconds: a.DateTime.Sub(b.DateTime).Seconds()}}), nil
	}
	if a.Kind == PrimDateTime && b.Kind == PrimSpan {
		switch fn.Name {
		case "add":
			return PrimitiveValue(Primitive{Kind: PrimDateTime, DateTime: a.DateTime.Add(secondsToDuration(b.Span.Seconds))}), nil
		case "sub":
			return PrimitiveValue(Primitive{Kind: PrimDateTime, DateTime: a.DateTime.Add(-secondsToDuration(b.Span.Seconds))}), nil
		}
	}

	if a.Kind == PrimSpan && b.Kind == PrimSpan {
		switch fn.Name {
		case "add":
			return PrimitiveValue(Primitive{Kind: PrimSpan, Span: a.Span.Add(b.Span)}), nil
		case "sub":
			return PrimitiveValue(Primitive{Kind: PrimSpan, Span: a.Span.Sub(b.Span)}), nil
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return Value{}, fmt.Errorf("policyexpr: %q requires numeric operands, got %s and %s", fn.Name, a.TypeName(), b.TypeName())
	}
	switch fn.Name {
	case "add":
		return numericResult(a, b, af+bf), nil
	case "sub":
		return numericResult(a, b, af-bf), nil
	case "divz":
		if bf == 0 {
			return PrimitiveValue(Primitive{Kind: PrimFloat, Float: 0}), nil
		}
		return PrimitiveValue(Primitive{Kind: PrimFloat, Float: af / bf}), nil
	}
	return Value{}, fmt.Errorf("policyexpr: unreachable arith case %q", fn.Name)
}

// numericResult keeps an Int result when both operands were Int, else
// promotes to Float.
func numericResult(a, b Primitive, f float64) Value {
	if a.Kind == PrimInt && b.Kind == PrimInt {
		return PrimitiveValue(Primitive{Kind: PrimInt, Int: int64(f)})
	}
	return PrimitiveValue(Primitive{Kind: PrimFloat, Float: f})
}

func secondsToDuration(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func evalCompare(fn FunctionExpr, env *Env) (Value, error) {
	vals, err := evalArgs(fn, env, 2)
	if err != nil {
		return Value{}, err
	}
	a, b := vals[0].Primitive, vals[1].Primitive

	cmp, err := comparePrimitives(a, b)
	if err != nil {
		return Value{}, err
	}
	var result bool
	switch fn.Name {
	case "gt":
		result = cmp > 0
	case "gte":
		result = cmp >= 0
	case "lt":
		result = cmp < 0
	case "lte":
		result = cmp <= 0
	case "eq":
		result = cmp == 0
	case "neq":
		result = cmp != 0
	}
	return PrimitiveValue(Primitive{Kind: PrimBool, Bool: result}), nil
}

func comparePrimitives(a, b Primitive) (int, error) {
	switch {
	case a.Kind == PrimDateTime && b.Kind == PrimDateTime:
		switch {
		case a.DateTime.Before(b.DateTime):
			return -1, nil
		case a.DateTime.After(b.DateTime):
			return 1, nil
		default:
			return 0, nil
		}
	case a.Kind == PrimSpan && b.Kind == PrimSpan:
		return a.Span.Compare(b.Span), nil
	case a.Kind == PrimBool && b.Kind == PrimBool:
		if a.Bool == b.Bool {
			return 0, nil
		}
		if a.Bool {
			return 1, nil
		}
		return -1, nil
	case a.Kind == PrimIdentifier && b.Kind == PrimIdentifier:
		switch {
		case a.Ident == b.Ident:
			return 0, nil
		case a.Ident < b.Ident:
			return -1, nil
		default:
			return 1, nil
		}
	default:
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return 0, fmt.Errorf("policyexpr: cannot compare %s and %s", a.TypeName(), b.TypeName())
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
}

func evalLogical(fn FunctionExpr, env *Env) (Value, error) {
	if len(fn.Args) == 0 {
		return Value{}, fmt.Errorf("policyexpr: %q requires at least one argument", fn.Name)
	}
	result := fn.Name == "and"
	for _, a := range fn.Args {
		v, err := Eval(a, env)
		if err != nil {
			return Value{}, err
		}
		if v.Primitive.Kind != PrimBool {
			return Value{}, fmt.Errorf("policyexpr: %q requires boolean operands", fn.Name)
		}
		if fn.Name == "and" {
			result = result && v.Primitive.Bool
		} else {
			result = result || v.Primitive.Bool
		}
	}
	return PrimitiveValue(Primitive{Kind: PrimBool, Bool: result}), nil
}

func evalNot(fn FunctionExpr, env *Env) (Value, error) {
	vals, err := evalArgs(fn, env, 1)
	if err != nil {
		return Value{}, err
	}
	if vals[0].Primitive.Kind != PrimBool {
		return Value{}, fmt.Errorf("policyexpr: \"not\" requires a boolean operand")
	}
	return PrimitiveValue(Primitive{Kind: PrimBool, Bool: !vals[0].Primitive.Bool}), nil
}

func evalReduce(fn FunctionExpr, env *Env) (Value, error) {
	vals, err := evalArgs(fn, env, 1)
	if err != nil {
		return Value{}, err
	}
	if !vals[0].IsArray {
		return Value{}, fmt.Errorf("policyexpr: %q requires an array argument", fn.Name)
	}
	items := vals[0].Array

	if fn.Name == "count" {
		return PrimitiveValue(Primitive{Kind: PrimInt, Int: int64(len(items))}), nil
	}
	if len(items) == 0 {
		return Value{}, fmt.Errorf("policyexpr: %q of an empty array is undefined", fn.Name)
	}

	floats := make([]float64, len(items))
	for i, p := range items {
		f, ok := toFloat(p)
		if !ok {
			return Value{}, fmt.Errorf("policyexpr: %q requires a numeric array", fn.Name)
		}
		floats[i] = f
	}
	switch fn.Name {
	case "max":
		m := floats[0]
		for _, f := range floats[1:] {
			if f > m {
				m = f
			}
		}
		return PrimitiveValue(Primitive{Kind: PrimFloat, Float: m}), nil
	case "min":
		m := floats[0]
		for _, f := range floats[1:] {
			if f < m {
				m = f
			}
		}
		return PrimitiveValue(Primitive{Kind: PrimFloat, Float: m}), nil
	case "avg":
		sum := 0.0
		for _, f := range floats {
			sum += f
		}
		return PrimitiveValue(Primitive{Kind: PrimFloat, Float: sum / float64(len(floats))}), nil
	}
	return Value{}, fmt.Errorf("policyexpr: unreachable reduce case %q", fn.Name)
}

func evalFilter(fn FunctionExpr, env *Env) (Value, error) {
	if len(fn.Args) != 2 {
		return Value{}, fmt.Errorf("policyexpr: \"filter\" expects 2 arguments, got %d", len(fn.Args))
	}
	arrVal, err := Eval(fn.Args[1], env)
	if err != nil {
		return Value{}, err
	}
	if !arrVal.IsArray {
		return Value{}, fmt.Errorf("policyexpr: \"filter\" requires an array as its second argument")
	}

	var kept []Primitive
	for _, item := range arrVal.Array {
		res, err := applyPredicate(fn.Args[0], item, env)
		if err != nil {
			return Value{}, err
		}
		if res.Primitive.Kind != PrimBool {
			return Value{}, fmt.Errorf("policyexpr: filter predicate must return a boolean")
		}
		if res.Primitive.Bool {
			kept = append(kept, item)
		}
	}
	return ArrayValue(kept), nil
}

func toFloat(p Primitive) (float64, bool) {
	switch p.Kind {
	case PrimInt:
		return float64(p.Int), true
	case PrimFloat:
		return p.Float, true
	default:
		return 0, false
	}
}
