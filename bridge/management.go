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

import "fmt"

// ListenerFunc is a named-event callback. A non-nil return (or a recovered
// panic) is treated as a listener failure and re-emitted as an 'error'
// event on the same object, per spec section 4.5 — except when the event
// being dispatched is itself 'error', which is swallowed to avoid
// recursion.
type ListenerFunc func(payload interface{}) error

// WatchFunc is a property-watch callback, invoked with the property's new
// value whenever a flush (or a local Update) observes it changed.
type WatchFunc func(newValue interface{})

// Emit fires name on obj: every bridge obj is shared over gets an outbound
// event queued, then local listeners run synchronously, each under its own
// recover/error guard.
func Emit(obj interface{}, name string, payload interface{}) {
	magic, ok := bridgeMagicOf(obj)
	if !ok {
		return
	}
	magic.mu.Lock()
	if magic.closed {
		magic.mu.Unlock()
		return
	}
	bridges := make([]*BridgeState, 0, len(magic.bridges))
	for bs := range magic.bridges {
		bridges = append(bridges, bs)
	}
	localId := magic.localId
	listeners := append([]ListenerFunc(nil), magic.listeners[name]...)
	magic.mu.Unlock()

	for _, bs := range bridges {
		bs.EmitEvent(localId, name, payload)
	}

	runListeners(obj, name, payload, listeners)
}

func runListeners(obj interface{}, name string, payload interface{}, listeners []ListenerFunc) {
	for _, fn := range listeners {
		if err := invokeListener(fn, payload); err != nil && name != "error" {
			Emit(obj, "error", err)
		}
	}
}

func invokeListener(fn ListenerFunc, payload interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(payload)
}

// AddListener installs fn under name and returns an unsubscribe function.
// On a closed object it returns a no-op unsubscribe, per spec section 4.5.
func AddListener(obj interface{}, name string, fn ListenerFunc) func() {
	magic, ok := bridgeMagicOf(obj)
	if !ok {
		return func() {}
	}
	magic.mu.Lock()
	defer magic.mu.Unlock()
	if magic.closed {
		return func() {}
	}
	if magic.listeners == nil {
		magic.listeners = make(map[string][]ListenerFunc)
	}
	idx := len(magic.listeners[name])
	magic.listeners[name] = append(magic.listeners[name], fn)
	return func() {
		magic.mu.Lock()
		defer magic.mu.Unlock()
		lst := magic.listeners[name]
		if idx < len(lst) {
			magic.listeners[name] = append(lst[:idx:idx], lst[idx+1:]...)
		}
	}
}

// AddWatcher installs fn as a watcher of property name and returns an
// unsubscribe function. On a closed object it returns a no-op unsubscribe.
func AddWatcher(obj interface{}, name string, fn WatchFunc) func() {
	magic, ok := bridgeMagicOf(obj)
	if !ok {
		return func() {}
	}
	magic.mu.Lock()
	defer magic.mu.Unlock()
	if magic.closed {
		return func() {}
	}
	if magic.watchers == nil {
		magic.watchers = make(map[string]*watcherEntry)
	}
	entry := magic.watchers[name]
	if entry == nil {
		entry = &watcherEntry{}
		magic.watchers[name] = entry
	}
	idx := len(entry.callbacks)
	entry.callbacks = append(entry.callbacks, fn)
	return func() {
		magic.mu.Lock()
		defer magic.mu.Unlock()
		e := magic.watchers[name]
		if e == nil || idx >= len(e.callbacks) {
			return
		}
		e.callbacks = append(e.callbacks[:idx:idx], e.callbacks[idx+1:]...)
	}
}

// Update marks name dirty on every bridge obj is shared over, invalidates
// the local watcher cache for name so the next flush re-fires watchers even
// if the property's identity happens not to have changed, then immediately
// fires any local watcher whose cached value differs from the current one.
// An empty name marks the whole object dirty without forcing a specific
// watcher re-check.
func Update(obj interface{}, name string) {
	magic, ok := bridgeMagicOf(obj)
	if !ok {
		return
	}
	magic.mu.Lock()
	if magic.closed {
		magic.mu.Unlock()
		return
	}
	bridges := make([]*BridgeState, 0, len(magic.bridges))
	for bs := range magic.bridges {
		bridges = append(bridges, bs)
	}
	localId := magic.localId
	if name != "" {
		if entry, ok := magic.watchers[name]; ok {
			entry.hasSeen = false
		}
	}
	magic.mu.Unlock()

	for _, bs := range bridges {
		bs.MarkDirty(localId, name)
	}

	if name == "" {
		return
	}
	fireLocalWatchers(obj, magic, name)
}

func fireLocalWatchers(obj interface{}, magic *magicRecord, name string) {
	magic.mu.Lock()
	entry := magic.watchers[name]
	if entry == nil {
		magic.mu.Unlock()
		return
	}
	callbacks := append([]WatchFunc(nil), entry.callbacks...)
	magic.mu.Unlock()
	if len(callbacks) == 0 {
		return
	}

	current, err := getProperty(obj, name)
	if err != nil {
		// Access errors inside the watcher loop are swallowed; the getter
		// will be re-attempted next cycle, per spec section 4.5.
		return
	}

	magic.mu.Lock()
	changed := !entry.hasSeen || !valuesEqual(entry.lastSeen, current)
	if changed {
		entry.lastSeen = current
		entry.hasSeen = true
	}
	magic.mu.Unlock()

	if !changed {
		return
	}
	for _, cb := range callbacks {
		cb(current)
	}
}

// Close tears obj down: local 'close' listeners fire first, then every
// subscribed bridge is told to emit a close, then subscriptions are torn
// down. Per spec section 4.5.
func Close(obj interface{}) {
	magic, ok := bridgeMagicOf(obj)
	if !ok {
		return
	}
	magic.mu.Lock()
	if magic.closed {
		magic.mu.Unlock()
		return
	}
	listeners := append([]ListenerFunc(nil), magic.listeners["close"]...)
	magic.mu.Unlock()

	runListeners(obj, "close", nil, listeners)

	magic.mu.Lock()
	magic.closed = true
	bridges := make([]*BridgeState, 0, len(magic.bridges))
	for bs := range magic.bridges {
		bridges = append(bridges, bs)
	}
	localId := magic.localId
	magic.bridges = map[*BridgeState]struct{}{}
	magic.listeners = nil
	magic.watchers = nil
	magic.mu.Unlock()

	for _, bs := range bridges {
		bs.EmitClose(localId)
	}
}

// valuesEqual compares by reference/value identity the way spec section 3's
// ValueCache does. Not every Go value is comparable with == (slices, maps,
// funcs); such values are simply treated as always-changed, the safe
// direction for a diff.
func valuesEqual(a, b interface{}) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
