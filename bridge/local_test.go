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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeLocalBridgeReturnsUsableProxy(t *testing.T) {
	root := newEchoService("hi")
	proxy, err := MakeLocalBridge(root, nil)
	require.NoError(t, err)

	assert.True(t, proxy.HasMethod("Echo"))
	v, err := proxy.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi", v)

	got, err := proxy.Call(context.Background(), "Echo", "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", got)
}

func TestMakeLocalBridgeClonesMessagesByDefault(t *testing.T) {
	root := newEchoService("hi")
	proxy, err := MakeLocalBridge(root, nil)
	require.NoError(t, err)

	root.Greeting = "mutated after send"
	v, err := proxy.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hi", v, "proxy's cached value must not alias the server's live field")
}

func TestMakeLocalBridgeHideProperties(t *testing.T) {
	root := newEchoService("hi")
	proxy, err := MakeLocalBridge(root, &LocalBridgeOptions{HideProperties: []string{"greeting"}})
	require.NoError(t, err)

	_, err = proxy.Get("greeting")
	assert.Error(t, err)
}

func TestMakeLocalBridgeCustomCloneMessage(t *testing.T) {
	root := newEchoService("hi")
	calls := 0
	opts := &LocalBridgeOptions{
		CloneMessage: func(msg Message) (Message, error) {
			calls++
			return cloneMessageViaJSON(msg)
		},
	}
	_, err := MakeLocalBridge(root, opts)
	require.NoError(t, err)
	assert.Greater(t, calls, 0)
}
