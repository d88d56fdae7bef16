package policyexpr_test

import (
	"encoding/json"
	"testing"

	"github.com/hipcheck-oss/hipcheck-core/policyexpr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestResolvePointerNumber(t *testing.T) {
	ctx := decode(t, `{"score": 8.5}`)
	val, err := policyexpr.ResolvePointer("/score", ctx)
	require.NoError(t, err)
	assert.Equal(t, 8.5, val.Primitive.Float)
}

func TestResolvePointerEmptyReturnsWholeContext(t *testing.T) {
	ctx := decode(t, `[1.0, 2.0]`)
	val, err := policyexpr.ResolvePointer("", ctx)
	require.NoError(t, err)
	assert.True(t, val.IsArray)
	assert.Len(t, val.Array, 2)
}

func TestResolvePointerArrayOfPrimitives(t *testing.T) {
	ctx := decode(t, `{"values": [1.0, 2.0, 10.0]}`)
	val, err := policyexpr.ResolvePointer("/values", ctx)
	require.NoError(t, err)
	require.True(t, val.IsArray)
	assert.Len(t, val.Array, 3)
}

func TestResolvePointerStringAsDateTime(t *testing.T) {
	ctx := decode(t, `{"when": "2024-09-17T09:00:00Z"}`)
	val, err := policyexpr.ResolvePointer("/when", ctx)
	require.NoError(t, err)
	assert.Equal(t, policyexpr.PrimDateTime, val.Primitive.Kind)
}

func TestResolvePointerStringAsSpan(t *testing.T) {
	ctx := decode(t, `{"dur": "PT1H30M"}`)
	val, err := policyexpr.ResolvePointer("/dur", ctx)
	require.NoError(t, err)
	assert.Equal(t, policyexpr.PrimSpan, val.Primitive.Kind)
}

func TestResolvePointerPlainStringErrors(t *testing.T) {
	ctx := decode(t, `{"name": "not-a-time"}`)
	_, err := policyexpr.ResolvePointer("/name", ctx)
	require.Error(t, err)
	var jerr *policyexpr.JSONPointerError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, policyexpr.ReasonJSONString, jerr.Reason)
}

func TestResolvePointerObjectErrors(t *testing.T) {
	ctx := decode(t, `{"nested": {"a": 1}}`)
	_, err := policyexpr.ResolvePointer("/nested", ctx)
	var jerr *policyexpr.JSONPointerError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, policyexpr.ReasonJSONObject, jerr.Reason)
}

func TestResolvePointerNullErrors(t *testing.T) {
	ctx := decode(t, `{"x": null}`)
	_, err := policyexpr.ResolvePointer("/x", ctx)
	var jerr *policyexpr.JSONPointerError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, policyexpr.ReasonJSONNull, jerr.Reason)
}

func TestResolvePointerNonPrimitiveInArrayErrors(t *testing.T) {
	ctx := decode(t, `{"xs": [1.0, {"a": 1}]}`)
	_, err := policyexpr.ResolvePointer("/xs", ctx)
	var jerr *policyexpr.JSONPointerError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, policyexpr.ReasonNonPrimitiveInArray, jerr.Reason)
}

func TestResolvePointerLookupFailedErrors(t *testing.T) {
	ctx := decode(t, `{"a": 1}`)
	_, err := policyexpr.ResolvePointer("/missing", ctx)
	var jerr *policyexpr.JSONPointerError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, policyexpr.ReasonLookupFailed, jerr.Reason)
}

func TestResolvePointerInvalidSyntaxErrors(t *testing.T) {
	ctx := decode(t, `{"a": 1}`)
	_, err := policyexpr.ResolvePointer("nope", ctx)
	var jerr *policyexpr.JSONPointerError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, policyexpr.ReasonInvalidSyntax, jerr.Reason)
}

func TestResolveAllWalksNestedExpr(t *testing.T) {
	ctx := decode(t, `{"score": 9.0}`)
	expr, err := policyexpr.Parse("(gt $/score 5.0)")
	require.NoError(t, err)
	resolved, err := policyexpr.ResolveAll(expr, ctx)
	require.NoError(t, err)
	fn := resolved.(policyexpr.FunctionExpr)
	ptr := fn.Args[0].(policyexpr.JSONPointerExpr)
	require.NotNil(t, ptr.Resolved)
	assert.Equal(t, 9.0, ptr.Resolved.Primitive.Float)
}
