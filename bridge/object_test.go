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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	Base
	Count int    `json:"count"`
	Label string `json:"label"`
}

func (c *counter) Increment(by int) int {
	c.Count += by
	c.Update("count")
	return c.Count
}

func newCounter(label string) *counter {
	c := &counter{Label: label}
	InitBase(&c.Base, c)
	return c
}

func TestBridgeablePropAndMethodNames(t *testing.T) {
	c := newCounter("x")
	assert.Equal(t, []string{"count", "label"}, bridgeablePropNames(c))
	assert.Equal(t, []string{"Increment"}, bridgeableMethodNames(c))
	assert.Equal(t, []string{"close", "error"}, eventNamesOf(c))
}

func TestPackObjectSnapshotsProps(t *testing.T) {
	c := newCounter("hello")
	c.Count = 5
	entry, cache := PackObject(nil, LocalId(1), c)
	assert.Equal(t, LocalId(1), entry.LocalId)
	assert.Equal(t, []string{"Increment"}, entry.Methods)
	require.Contains(t, entry.Props, "count")
	got, err := UnpackData(nil, entry.Props["count"], "$")
	require.NoError(t, err)
	assert.EqualValues(t, 5, got)
	assert.EqualValues(t, 5, cache["count"])
	assert.Equal(t, "hello", cache["label"])
}

func TestDiffObjectOnlyReportsChanges(t *testing.T) {
	c := newCounter("hello")
	_, cache := PackObject(nil, LocalId(1), c)

	// Nothing changed yet: nothing to report.
	assert.Nil(t, DiffObject(nil, c, cache))

	// Count changes, label does not; DiffObject examines every cached name
	// on its own, with no need to be told which one moved.
	c.Count = 9
	changed := DiffObject(nil, c, cache)
	require.Contains(t, changed, "count")
	assert.NotContains(t, changed, "label")

	got, err := UnpackData(nil, changed["count"], "$")
	require.NoError(t, err)
	assert.EqualValues(t, 9, got)
	assert.EqualValues(t, 9, cache["count"])
}

func TestDiffObjectExaminesEveryCachedNameByDefault(t *testing.T) {
	c := newCounter("hello")
	_, cache := PackObject(nil, LocalId(1), c)
	c.Count = 1
	c.Label = "new"
	changed := DiffObject(nil, c, cache)
	assert.Contains(t, changed, "count")
	assert.Contains(t, changed, "label")
}

type computed struct {
	Base
}

func (c *computed) BridgeProperty(name string) (interface{}, bool) {
	if name == "now" {
		return "frozen", true
	}
	return nil, false
}

func TestPropertyGetterOverridesFieldLookup(t *testing.T) {
	c := &computed{}
	InitBase(&c.Base, c)
	v, err := getProperty(c, "now")
	require.NoError(t, err)
	assert.Equal(t, "frozen", v)
}
