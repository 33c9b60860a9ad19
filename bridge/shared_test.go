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

func TestShareDataRegistersAndResolves(t *testing.T) {
	sentinel := &struct{ tag string }{tag: "v1"}
	err := ShareData(map[string]interface{}{"sentinelA": sentinel}, "sharetest")
	require.NoError(t, err)

	id, ok := lookupSharedValue(sentinel)
	require.True(t, ok)
	assert.Equal(t, "sharetest.sentinelA", id)

	v, ok := lookupSharedID("sharetest.sentinelA")
	require.True(t, ok)
	assert.Same(t, sentinel, v)
}

func TestShareDataDuplicateNameSameValueIsNoOp(t *testing.T) {
	sentinel := &struct{ tag string }{tag: "v2"}
	require.NoError(t, ShareData(map[string]interface{}{"dup": sentinel}, "sharetest2"))
	require.NoError(t, ShareData(map[string]interface{}{"dup": sentinel}, "sharetest2"))
}

func TestShareDataDuplicateNameDifferentValueFails(t *testing.T) {
	require.NoError(t, ShareData(map[string]interface{}{"clash": &struct{ n int }{1}}, "sharetest3"))
	err := ShareData(map[string]interface{}{"clash": &struct{ n int }{2}}, "sharetest3")
	require.Error(t, err)
}

func TestOnAndWatchMethodSharedConstantsPreregistered(t *testing.T) {
	id, ok := lookupSharedValue(OnMethod)
	require.True(t, ok)
	assert.Equal(t, "objectbridge.onMethod", id)

	id, ok = lookupSharedValue(WatchMethod)
	require.True(t, ok)
	assert.Equal(t, "objectbridge.watchMethod", id)
}
