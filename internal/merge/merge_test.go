package merge

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obj(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestMergeNested(t *testing.T) {
	target := obj(t, `{"a":{"b":1,"c":2},"keep":true}`)
	source := obj(t, `{"a":{"c":3,"d":4}}`)

	out, err := Merge(target, source, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, obj(t, `{"a":{"b":1,"c":3,"d":4},"keep":true}`), out)
}

func TestMergeEmptySourceIsIdentity(t *testing.T) {
	target := obj(t, `{"a":{"b":[1,2]},"c":"x"}`)
	want := Clone(target)

	out, err := Merge(target, map[string]interface{}{}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, want, out)
}

func TestMergeSelfIsIdempotent(t *testing.T) {
	target := obj(t, `{"a":{"b":1},"c":[1,2,3]}`)
	source := Clone(target)

	out, err := Merge(target, source, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, source, out)
}

func TestArraysReplaceNotMerge(t *testing.T) {
	target := obj(t, `{"list":[1,2,3,4]}`)
	source := obj(t, `{"list":["a"]}`)

	out, err := Merge(target, source, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a"}, out["list"])
}

func TestNullReplaces(t *testing.T) {
	target := obj(t, `{"a":{"b":1}}`)
	source := obj(t, `{"a":null}`)

	out, err := Merge(target, source, DefaultLimits())
	require.NoError(t, err)
	assert.Nil(t, out["a"])
}

func TestScalarTargetBecomesObject(t *testing.T) {
	target := obj(t, `{"a":7}`)
	source := obj(t, `{"a":{"b":1}}`)

	out, err := Merge(target, source, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, obj(t, `{"a":{"b":1}}`), out)
}

func TestDepthGuardLeavesTargetUntouched(t *testing.T) {
	// Build a patch 25 levels deep.
	deep := map[string]interface{}{"v": true}
	for i := 0; i < 25; i++ {
		deep = map[string]interface{}{"n": deep}
	}
	target := obj(t, `{"existing":1}`)

	_, err := Merge(target, deep, DefaultLimits())
	require.ErrorIs(t, err, ErrGuard)
	assert.Equal(t, obj(t, `{"existing":1}`), target)
}

func TestPropertyGuard(t *testing.T) {
	wide := map[string]interface{}{}
	for i := 0; i < 101; i++ {
		wide[fmt.Sprintf("k%d", i)] = i
	}
	err := Validate(wide, DefaultLimits())
	require.ErrorIs(t, err, ErrGuard)
}

func TestArrayGuard(t *testing.T) {
	long := make([]interface{}, 1001)
	err := Validate(map[string]interface{}{"a": long}, DefaultLimits())
	require.ErrorIs(t, err, ErrGuard)
}

func TestKeyLengthGuard(t *testing.T) {
	key := make([]byte, 101)
	for i := range key {
		key[i] = 'k'
	}
	err := Validate(map[string]interface{}{string(key): 1}, DefaultLimits())
	require.ErrorIs(t, err, ErrGuard)
}

func TestCycleDetection(t *testing.T) {
	m := map[string]interface{}{}
	m["self"] = m
	err := Validate(m, DefaultLimits())
	require.ErrorIs(t, err, ErrGuard)
}

func TestCloneIsDeep(t *testing.T) {
	orig := obj(t, `{"a":{"b":1},"list":[1,2]}`)
	cp := Clone(orig)

	cp["a"].(map[string]interface{})["b"] = 99
	cp["list"].([]interface{})[0] = "x"

	assert.Equal(t, obj(t, `{"a":{"b":1},"list":[1,2]}`), orig)
}
