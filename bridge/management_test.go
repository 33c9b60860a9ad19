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

type widget struct {
	Base
	Value int `json:"value"`
}

func newWidget() *widget {
	w := &widget{}
	InitBase(&w.Base, w)
	return w
}

func TestAddListenerAndEmit(t *testing.T) {
	w := newWidget()
	received := make(chan interface{}, 1)
	unsub := w.AddListener("ping", func(payload interface{}) error {
		received <- payload
		return nil
	})
	w.Emit("ping", "pong")
	select {
	case v := <-received:
		assert.Equal(t, "pong", v)
	default:
		t.Fatal("listener did not fire synchronously")
	}

	unsub()
	w.Emit("ping", "pong2")
	select {
	case <-received:
		t.Fatal("listener fired after unsubscribe")
	default:
	}
}

func TestListenerErrorReemittedAsError(t *testing.T) {
	w := newWidget()
	errSeen := make(chan interface{}, 1)
	w.AddListener("error", func(payload interface{}) error {
		errSeen <- payload
		return nil
	})
	w.AddListener("boom", func(payload interface{}) error {
		return errors.New("listener failed")
	})
	w.Emit("boom", nil)
	select {
	case v := <-errSeen:
		err, ok := v.(error)
		require.True(t, ok)
		assert.Contains(t, err.Error(), "listener failed")
	default:
		t.Fatal("error event was not re-emitted")
	}
}

func TestAddWatcherFiresOnUpdate(t *testing.T) {
	w := newWidget()
	seen := make(chan interface{}, 1)
	w.AddWatcher("value", func(v interface{}) { seen <- v })

	w.Value = 7
	w.Update("value")
	select {
	case v := <-seen:
		assert.Equal(t, 7, v)
	default:
		t.Fatal("watcher did not fire")
	}
}

func TestUpdateAlwaysRefiresLocalWatcher(t *testing.T) {
	// Update forces the watcher cache stale before comparing, so it fires on
	// every call regardless of whether the field's value actually changed —
	// the flush-side diff (DiffObject) is what skips genuinely-unchanged
	// values on the wire, not the local watcher.
	w := newWidget()
	calls := 0
	w.AddWatcher("value", func(v interface{}) { calls++ })

	w.Value = 3
	w.Update("value")
	w.Update("value")
	assert.Equal(t, 2, calls)
}

func TestCloseFiresCloseListenersOnce(t *testing.T) {
	w := newWidget()
	closed := 0
	w.AddListener("close", func(payload interface{}) error {
		closed++
		return nil
	})
	w.Close()
	w.Close()
	assert.Equal(t, 1, closed)
}

func TestOperationsOnClosedObjectAreNoOps(t *testing.T) {
	w := newWidget()
	w.Close()
	unsub := w.AddListener("ping", func(interface{}) error { return nil })
	unsub() // must not panic
	w.Emit("ping", nil) // must not panic
}
