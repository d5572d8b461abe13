package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExactMatchPreservesType(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{"count": float64(3), "ok": true, "tags": []any{"a", "b"}}}

	val, err := ResolveValue("{{input.count}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(3), val)

	val, err = ResolveValue("{{input.ok}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, val)

	val, err = ResolveValue("{{input.tags}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, val)
}

func TestResolveMixedStringCoercesToText(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{"name": "world", "count": float64(2)}}
	val, err := ResolveValue("hello {{input.name}}, count={{input.count}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello world, count=2", val)
}

func TestResolveMixedStringSerializesObjectsAndArrays(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{"obj": map[string]any{"k": "v"}, "arr": []any{float64(1), float64(2)}}}
	val, err := ResolveValue("o={{input.obj}} a={{input.arr}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, `o={"k":"v"} a=[1,2]`, val)
}

func TestResolveRecursesThroughObjectsAndArrays(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{"x": "y"}}
	value := map[string]any{
		"a": "{{input.x}}",
		"b": []any{"prefix-{{input.x}}", map[string]any{"c": "{{input.x}}"}},
	}
	resolved, err := ResolveValue(value, ctx)
	require.NoError(t, err)
	m := resolved.(map[string]any)
	assert.Equal(t, "y", m["a"])
	arr := m["b"].([]any)
	assert.Equal(t, "prefix-y", arr[0])
	assert.Equal(t, "y", arr[1].(map[string]any)["c"])
}

func TestResolveMissingRootIsError(t *testing.T) {
	_, err := ResolveValue("{{nope.field}}", TaskContext{"input": map[string]any{}})
	assert.Error(t, err)
}

func TestResolveMissingFieldIsError(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{"a": "b"}}
	_, err := ResolveValue("{{input.missing}}", ctx)
	assert.Error(t, err)
}

func TestResolveOutOfRangeIndexIsError(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{"items": []any{"a"}}}
	_, err := ResolveValue("{{input.items[5]}}", ctx)
	assert.Error(t, err)
}

func TestResolveArrayIndexing(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{"items": []any{"a", "b", "c"}}}
	val, err := ResolveValue("{{input.items[1]}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", val)
}

func TestResolveSiblingTaskReference(t *testing.T) {
	ctx := TaskContext{"fetch": map[string]any{"status": float64(200)}}
	val, err := ResolveValue("{{fetch.status}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(200), val)
}

func TestResolveUnclosedBraceIsLiteral(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{}}
	val, err := ResolveValue("has {{ no closing brace", ctx)
	require.NoError(t, err)
	assert.Equal(t, "has {{ no closing brace", val)
}

func TestResolveTrimsWhitespaceInsideBraces(t *testing.T) {
	ctx := TaskContext{"input": map[string]any{"x": "y"}}
	val, err := ResolveValue("{{  input.x  }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "y", val)
}

func TestResolveStringWithNoPlaceholdersPassesThrough(t *testing.T) {
	val, err := ResolveValue("plain text", TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, "plain text", val)
}

func TestResolveNonStringScalarsPassThrough(t *testing.T) {
	val, err := ResolveValue(float64(42), TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, float64(42), val)
}
