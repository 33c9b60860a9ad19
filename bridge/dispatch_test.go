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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type calculator struct {
	Base
}

func (c *calculator) Add(a, b int) int { return a + b }

func (c *calculator) Divide(a, b int) (int, error) {
	if b == 0 {
		return 0, errors.New("divide by zero")
	}
	return a / b, nil
}

func (c *calculator) Sum(nums ...int) int {
	total := 0
	for _, n := range nums {
		total += n
	}
	return total
}

func (c *calculator) Boom() { panic("kaboom") }

func packArgs(args ...interface{}) []PackedData {
	out := make([]PackedData, len(args))
	for i, a := range args {
		out[i] = PackData(nil, a)
	}
	return out
}

func TestCallMethodBasicReturn(t *testing.T) {
	c := &calculator{}
	InitBase(&c.Base, c)
	pd := callMethod(nil, c, "Add", packArgs(2, 3))
	require.False(t, pd.Throw)
	v, err := UnpackData(nil, pd, "$")
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)
}

func TestCallMethodErrorReturnConvention(t *testing.T) {
	c := &calculator{}
	InitBase(&c.Base, c)
	pd := callMethod(nil, c, "Divide", packArgs(4, 0))
	assert.True(t, pd.Throw)
	_, err := UnpackData(nil, pd, "$")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "divide by zero")
}

func TestCallMethodValueErrorPairSuccess(t *testing.T) {
	c := &calculator{}
	InitBase(&c.Base, c)
	pd := callMethod(nil, c, "Divide", packArgs(10, 2))
	require.False(t, pd.Throw)
	v, err := UnpackData(nil, pd, "$")
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)
}

func TestCallMethodVariadic(t *testing.T) {
	c := &calculator{}
	InitBase(&c.Base, c)
	pd := callMethod(nil, c, "Sum", packArgs(1, 2, 3, 4))
	v, err := UnpackData(nil, pd, "$")
	require.NoError(t, err)
	assert.EqualValues(t, 10, v)
}

func TestCallMethodPanicRecovered(t *testing.T) {
	c := &calculator{}
	InitBase(&c.Base, c)
	pd := callMethod(nil, c, "Boom", nil)
	assert.True(t, pd.Throw)
	_, err := UnpackData(nil, pd, "$")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestCallMethodUnknownNameThrows(t *testing.T) {
	c := &calculator{}
	InitBase(&c.Base, c)
	pd := callMethod(nil, c, "NotAMethod", nil)
	assert.True(t, pd.Throw)
}

func TestCallMethodRejectsBaseVerbs(t *testing.T) {
	c := &calculator{}
	InitBase(&c.Base, c)
	pd := callMethod(nil, c, "Close", nil)
	assert.True(t, pd.Throw)
}
