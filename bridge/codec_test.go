// Copyright 2024 The objectbridge Authors
// This file is part of the objectbridge library.
//
// The objectbridge library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The objectbridge library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the objectbridge library. If not, see
// <http://www.gnu.org/licenses/>.

package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, peer *BridgeState, value interface{}) interface{} {
	t.Helper()
	pd := PackData(peer, value)
	require.False(t, pd.Throw, "unexpected throw packing %#v", value)
	got, err := UnpackData(peer, pd, "$")
	require.NoError(t, err)
	return got
}

func TestPackDataRoundTripScalars(t *testing.T) {
	assert.Equal(t, true, roundTrip(t, nil, true))
	assert.Equal(t, "hello", roundTrip(t, nil, "hello"))
	assert.EqualValues(t, 42, roundTrip(t, nil, 42))
	assert.EqualValues(t, 3.5, roundTrip(t, nil, 3.5))
	assert.Nil(t, roundTrip(t, nil, nil))
}

func TestPackDataRoundTripSliceIsIdentity(t *testing.T) {
	pd := PackData(nil, []int{1, 2, 3})
	assert.True(t, pd.Map.IsIdentity(), "a slice of scalars should pack as identity")
	got, err := UnpackData(nil, pd, "$")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{float64(1), float64(2), float64(3)}, got)
}

func TestPackDataRoundTripDate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := roundTrip(t, nil, now)
	gotTime, ok := got.(time.Time)
	require.True(t, ok)
	assert.True(t, now.Equal(gotTime))
}

func TestPackDataRoundTripBytesVsBuffer(t *testing.T) {
	bytesPd := PackData(nil, []byte("abc"))
	assert.Equal(t, TagBytes, bytesPd.Map.Tag)
	bufPd := PackData(nil, RawBuffer("abc"))
	assert.Equal(t, TagBuffer, bufPd.Map.Tag)

	gotBuf, err := UnpackData(nil, bufPd, "$")
	require.NoError(t, err)
	assert.Equal(t, RawBuffer("abc"), gotBuf)
}

func TestPackDataRoundTripSet(t *testing.T) {
	pd := PackData(nil, Set{"a", "b"})
	assert.Equal(t, TagSet, pd.Map.Tag)
	got, err := UnpackData(nil, pd, "$")
	require.NoError(t, err)
	assert.Equal(t, Set{"a", "b"}, got)
}

func TestPackDataRoundTripMap(t *testing.T) {
	pd := PackData(nil, map[string]int{"a": 1})
	got, err := UnpackData(nil, pd, "$")
	require.NoError(t, err)
	m, ok := got.(map[interface{}]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, m["a"])
}

type greeting struct {
	Text   string `json:"text"`
	Hidden string `bridge:"-"`
	unexp  string //nolint:unused
}

func TestPackDataStructFieldTags(t *testing.T) {
	g := greeting{Text: "hi", Hidden: "nope", unexp: "nope2"}
	pd := PackData(nil, g)
	got, err := UnpackData(nil, pd, "$")
	require.NoError(t, err)
	m, ok := got.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi", m["text"])
	_, hasHidden := m["Hidden"]
	assert.False(t, hasHidden)
}

func TestPackDataErrorRoundTrip(t *testing.T) {
	base := errors.New("boom")
	pd := PackThrow(nil, base)
	assert.True(t, pd.Throw)
	_, err := UnpackData(nil, pd, "$")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestPackDataNamedErrorClassRoundTrip(t *testing.T) {
	typeErr := constructError("TypeError", "not a function")
	pd := PackThrow(nil, typeErr)
	_, err := UnpackData(nil, pd, "$")
	require.Error(t, err)
	assert.Equal(t, "not a function", err.Error())
	assert.Equal(t, "TypeError", errorClassOf(err))
}

type fieldsErr struct {
	msg    string
	extras map[string]interface{}
}

func (e *fieldsErr) Error() string                        { return e.msg }
func (e *fieldsErr) BridgeFields() map[string]interface{} { return e.extras }

func TestPackDataErrorWithExtraFields(t *testing.T) {
	e := &fieldsErr{msg: "bad request", extras: map[string]interface{}{"code": 400}}
	pd := PackThrow(nil, e)
	_, err := UnpackData(nil, pd, "$")
	require.Error(t, err)
	ue, ok := err.(*UnpackedError)
	require.True(t, ok)
	assert.Equal(t, "bad request", ue.Error())
	assert.EqualValues(t, 400, ue.ExtraFields()["code"])
}

func TestPackDataSharedConstant(t *testing.T) {
	pd := PackData(nil, OnMethod)
	assert.Equal(t, TagShared, pd.Map.Tag)
	got, err := UnpackData(nil, pd, "$")
	require.NoError(t, err)
	assert.Same(t, OnMethod, got)
}

func TestPackDataCycleDetectionOptIn(t *testing.T) {
	type node struct {
		Next *node
	}
	a := &node{}
	a.Next = a

	// Without DetectCycles, PackData would recurse forever on a *node cycle,
	// so this test only exercises the opt-in guard via a BridgeState.
	bs := NewBridgeState(func(Message) error { return nil }, &Options{DetectCycles: true})
	pd := PackData(bs, a)
	assert.True(t, pd.Throw)
}

func TestPackDataUnsupportedType(t *testing.T) {
	ch := make(chan int)
	pd := PackData(nil, ch)
	assert.Equal(t, TagUnsupp, pd.Map.Tag)
	_, err := UnpackData(nil, pd, "$")
	assert.Error(t, err)
}
