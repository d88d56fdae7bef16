package policyexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// JSONPointerErrorReason classifies why resolving a JSON pointer against
// an evaluation context failed.
type JSONPointerErrorReason int

const (
	// ReasonLookupFailed means the pointer's path does not exist in the context.
	ReasonLookupFailed JSONPointerErrorReason = iota
	// ReasonInvalidSyntax means the pointer string itself is malformed.
	ReasonInvalidSyntax
	// ReasonJSONObject means the pointer resolved to a JSON object, which
	// has no representation as a Value.
	ReasonJSONObject
	// ReasonJSONNull means the pointer resolved to JSON null.
	ReasonJSONNull
	// ReasonJSONString means the pointer resolved to a string that is
	// neither a valid datetime nor a valid span.
	ReasonJSONString
	// ReasonNonPrimitiveInArray means the pointer resolved to an array
	// containing an object, null, or nested array.
	ReasonNonPrimitiveInArray
)

// JSONPointerError reports a failed pointer resolution, carrying the
// pointer text so a caller can report which reference in a larger
// expression failed.
type JSONPointerError struct {
	Pointer string
	Reason  JSONPointerErrorReason
	detail  string
}

func (e *JSONPointerError) Error() string {
	var reason string
	switch e.Reason {
	case ReasonLookupFailed:
		reason = "lookup failed"
	case ReasonInvalidSyntax:
		reason = "invalid syntax"
	case ReasonJSONObject:
		reason = "resolved to a JSON object"
	case ReasonJSONNull:
		reason = "resolved to JSON null"
	case ReasonJSONString:
		reason = "resolved to a string that is neither a datetime nor a span"
	case ReasonNonPrimitiveInArray:
		reason = "array contains a non-primitive element"
	default:
		reason = "unknown"
	}
	if e.detail != "" {
		reason = reason + ": " + e.detail
	}
	return fmt.Sprintf("policyexpr: json pointer %q: %s", e.Pointer, reason)
}

// ResolvePointer resolves a single RFC 6901 JSON pointer against a
// decoded JSON context (as produced by encoding/json.Unmarshal into
// `any`) and converts the result into a policy expression Value.
func ResolvePointer(pointer string, context any) (Value, error) {
	target, err := walkPointer(pointer, context)
	if err != nil {
		return Value{}, err
	}
	return jsonToValue(pointer, target)
}

func walkPointer(pointer string, context any) (any, error) {
	if pointer == "" {
		return context, nil
	}
	if pointer[0] != '/' {
		return nil, &JSONPointerError{Pointer: pointer, Reason: ReasonInvalidSyntax, detail: "must start with '/'"}
	}
	tokens := strings.Split(pointer[1:], "/")
	cur := context
	for _, raw := range tokens {
		tok := unescapeToken(raw)
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[tok]
			if !ok {
				return nil, &JSONPointerError{Pointer: pointer, Reason: ReasonLookupFailed, detail: fmt.Sprintf("no key %q", tok)}
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, &JSONPointerError{Pointer: pointer, Reason: ReasonLookupFailed, detail: fmt.Sprintf("no index %q", tok)}
			}
			cur = v[idx]
		default:
			return nil, &JSONPointerError{Pointer: pointer, Reason: ReasonLookupFailed, detail: "cannot descend into a scalar"}
		}
	}
	return cur, nil
}

func unescapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}

// jsonToValue converts a decoded JSON value into a policy expression
// Value, or returns a typed JSONPointerError explaining why it cannot.
func jsonToValue(pointer string, v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, &JSONPointerError{Pointer: pointer, Reason: ReasonJSONNull}
	case bool:
		return PrimitiveValue(Primitive{Kind: PrimBool, Bool: x}), nil
	case float64:
		return PrimitiveValue(Primitive{Kind: PrimFloat, Float: x}), nil
	case string:
		return stringToValue(pointer, x)
	case map[string]any:
		return Value{}, &JSONPointerError{Pointer: pointer, Reason: ReasonJSONObject}
	case []any:
		items := make([]Primitive, 0, len(x))
		for _, elem := range x {
			switch e := elem.(type) {
			case bool:
				items = append(items, Primitive{Kind: PrimBool, Bool: e})
			case float64:
				items = append(items, Primitive{Kind: PrimFloat, Float: e})
			case string:
				val, err := stringToValue(pointer, e)
				if err != nil {
					return Value{}, err
				}
				items = append(items, val.Primitive)
			default:
				return Value{}, &JSONPointerError{Pointer: pointer, Reason: ReasonNonPrimitiveInArray}
			}
		}
		return ArrayValue(items), nil
	default:
		return Value{}, &JSONPointerError{Pointer: pointer, Reason: ReasonLookupFailed, detail: "unrecognized JSON value type"}
	}
}

func stringToValue(pointer, s string) (Value, error) {
	if dt, err := ParseDateTime(s); err == nil {
		return PrimitiveValue(Primitive{Kind: PrimDateTime, DateTime: dt}), nil
	}
	if sp, err := ParseSpan(s); err == nil {
		return PrimitiveValue(Primitive{Kind: PrimSpan, Span: sp}), nil
	}
	return Value{}, &JSONPointerError{Pointer: pointer, Reason: ReasonJSONString, detail: s}
}

// ResolveAll walks an Expr tree and returns a copy of it in which every
// JSONPointerExpr carries its value resolved against context; the input
// tree is not modified.
func ResolveAll(e Expr, context any) (Expr, error) {
	switch v := e.(type) {
	case JSONPointerExpr:
		val, err := ResolvePointer(v.Pointer, context)
		if err != nil {
			return nil, err
		}
		v.Resolved = &val
		return v, nil
	case FunctionExpr:
		args := make([]Expr, len(v.Args))
		for i, a := range v.Args {
			resolved, err := ResolveAll(a, context)
			if err != nil {
				return nil, err
			}
			args[i] = resolved
		}
		v.Args = args
		return v, nil
	case LambdaExpr:
		body, err := ResolveAll(v.Body, context)
		if err != nil {
			return nil, err
		}
		v.Body = body
		return v, nil
	default:
		return e, nil
	}
}
