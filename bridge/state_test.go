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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// wirePair links two BridgeStates through an actual JSON marshal/unmarshal
// round trip, so these tests exercise the real wire shape rather than
// sharing Go structs in memory.
type wirePair struct {
	a, b *BridgeState
}

func newWirePair(t *testing.T, optsA, optsB *Options) *wirePair {
	t.Helper()
	p := &wirePair{}
	p.a = NewBridgeState(func(msg Message) error { return p.deliver(&p.b, msg) }, optsA)
	p.b = NewBridgeState(func(msg Message) error { return p.deliver(&p.a, msg) }, optsB)
	return p
}

func (p *wirePair) deliver(dst **BridgeState, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return (*dst).HandleMessage(decoded)
}

type echoService struct {
	Base
	Greeting string `json:"greeting"`
}

func (e *echoService) Echo(s string) string { return s }

func newEchoService(greeting string) *echoService {
	e := &echoService{Greeting: greeting}
	InitBase(&e.Base, e)
	return e
}

func TestRootHandshake(t *testing.T) {
	root := newEchoService("hi")
	pair := newWirePair(t, nil, nil)
	require.NoError(t, pair.a.SendRoot(root))
	pair.a.SendNow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := pair.b.GetRoot(ctx)
	require.NoError(t, err)
	proxy, ok := got.(*Proxy)
	require.True(t, ok)
	assert := require.New(t)
	assert.True(proxy.HasMethod("Echo"))
	v, err := proxy.Get("greeting")
	assert.NoError(err)
	assert.Equal("hi", v)
}

func TestProxyCallRoundTrip(t *testing.T) {
	root := newEchoService("hi")
	pair := newWirePair(t, nil, nil)
	require.NoError(t, pair.a.SendRoot(root))
	pair.a.SendNow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := pair.b.GetRoot(ctx)
	require.NoError(t, err)
	proxy := got.(*Proxy)

	type callResult struct {
		val interface{}
		err error
	}
	resultCh := make(chan callResult, 1)
	go func() {
		v, err := proxy.Call(ctx, "Echo", "ping")
		resultCh <- callResult{v, err}
	}()
	pair.b.SendNow()

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.Equal(t, "ping", res.val)
	case <-time.After(time.Second):
		t.Fatal("call never returned")
	}
}

func TestProxyWatchFiresOnChange(t *testing.T) {
	root := newEchoService("hi")
	pair := newWirePair(t, nil, nil)
	require.NoError(t, pair.a.SendRoot(root))
	pair.a.SendNow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := pair.b.GetRoot(ctx)
	require.NoError(t, err)
	proxy := got.(*Proxy)

	seen := make(chan interface{}, 1)
	proxy.Watch("greeting", func(v interface{}) { seen <- v })

	root.Greeting = "bye"
	root.Update("greeting")
	pair.a.SendNow()

	select {
	case v := <-seen:
		require.Equal(t, "bye", v)
	case <-time.After(time.Second):
		t.Fatal("watcher never fired")
	}
}

func TestProxyOnFiresForEmittedEvent(t *testing.T) {
	root := newEchoService("hi")
	pair := newWirePair(t, nil, nil)
	require.NoError(t, pair.a.SendRoot(root))
	pair.a.SendNow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := pair.b.GetRoot(ctx)
	require.NoError(t, err)
	proxy := got.(*Proxy)

	seen := make(chan interface{}, 1)
	proxy.On("greeted", func(payload interface{}) error {
		seen <- payload
		return nil
	})

	root.Emit("greeted", "hello there")
	pair.a.SendNow()

	select {
	case v := <-seen:
		require.Equal(t, "hello there", v)
	case <-time.After(time.Second):
		t.Fatal("listener never fired")
	}
}

func TestObjectCloseClosesProxy(t *testing.T) {
	root := newEchoService("hi")
	pair := newWirePair(t, nil, nil)
	require.NoError(t, pair.a.SendRoot(root))
	pair.a.SendNow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := pair.b.GetRoot(ctx)
	require.NoError(t, err)
	proxy := got.(*Proxy)
	require.False(t, proxy.IsClosed())

	root.Close()
	pair.a.SendNow()
	require.True(t, proxy.IsClosed())
}

func TestCallUnknownMethodReturnsError(t *testing.T) {
	root := newEchoService("hi")
	pair := newWirePair(t, nil, nil)
	require.NoError(t, pair.a.SendRoot(root))
	pair.a.SendNow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := pair.b.GetRoot(ctx)
	require.NoError(t, err)
	proxy := got.(*Proxy)

	_, err = proxy.Call(ctx, "NoSuchMethod")
	require.Error(t, err)
}

func TestGetPackedIdSignConvention(t *testing.T) {
	bs := NewBridgeState(func(Message) error { return nil }, nil)
	owned := newEchoService("x")
	id, err := bs.GetPackedId(owned)
	require.NoError(t, err)
	require.NotNil(t, id)
	require.Greater(t, int64(*id), int64(0))

	magic := makeProxyMagic(LocalId(7))
	p := newProxy(bs, LocalId(7), magic)
	bs.proxies[LocalId(7)] = p
	pid, err := bs.GetPackedId(p)
	require.NoError(t, err)
	require.Equal(t, PackedId(-7), *pid)
}
