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

func newTestProxy() (*BridgeState, *Proxy) {
	bs := NewBridgeState(func(Message) error { return nil }, nil)
	magic := makeProxyMagic(LocalId(5))
	p := newProxy(bs, LocalId(5), magic)
	bs.proxies[LocalId(5)] = p
	return bs, p
}

func TestProxyGetUnknownProperty(t *testing.T) {
	_, p := newTestProxy()
	_, err := p.Get("missing")
	assert.Error(t, err)
}

func TestProxyGetPropertyThatThrewOnSnapshot(t *testing.T) {
	_, p := newTestProxy()
	p.applyCreated(CreatedEntry{
		LocalId: 5,
		Props:   map[string]PackedData{"broken": PackThrow(nil, assertError("boom"))},
	})
	_, err := p.Get("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestProxyGetSurvivesCloseWithLastKnownValue(t *testing.T) {
	_, p := newTestProxy()
	p.applyCreated(CreatedEntry{
		LocalId: 5,
		Props:   map[string]PackedData{"name": PackData(nil, "widget")},
	})
	p.Close()
	v, err := p.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "widget", v)
}

func TestProxyCallOnClosedProxy(t *testing.T) {
	_, p := newTestProxy()
	p.Close()
	_, err := p.Call(context.Background(), "DoThing")
	var closedErr *ClosedMethodError
	require.ErrorAs(t, err, &closedErr)
	assert.Equal(t, "DoThing", closedErr.Method)
}

func TestProxyCallUnknownMethodNeverTouchesWire(t *testing.T) {
	bs, p := newTestProxy()
	p.applyCreated(CreatedEntry{LocalId: 5, Methods: []string{"Known"}})
	_, err := p.Call(context.Background(), "Unknown")
	assert.Error(t, err)
	// No outbound call should have been queued for a method the remote
	// never announced.
	bs.mu.Lock()
	defer bs.mu.Unlock()
	assert.Empty(t, bs.outCalls)
}

func TestProxyCloseIsIdempotentAndLocalOnly(t *testing.T) {
	bs, p := newTestProxy()
	closeCount := 0
	p.On("close", func(interface{}) error {
		closeCount++
		return nil
	})
	p.Close()
	p.Close()
	assert.Equal(t, 1, closeCount)
	assert.True(t, p.IsClosed())

	// Closing a proxy is purely local cleanup: it must not produce an
	// outbound Closed entry, since only the owning peer may close the real
	// object.
	bs.mu.Lock()
	defer bs.mu.Unlock()
	assert.Empty(t, bs.pendingClosed)
}

type assertError string

func (e assertError) Error() string { return string(e) }
