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

import "sync"

// Base is the Go rendition of spec section 4.5's "Bridgeable base class".
// Embed it by value in any struct that should be bridgeable:
//
//	type Counter struct {
//	    bridge.Base
//	    Count int
//	}
//
// Base assigns its owning value's localId lazily, on first use, and
// provides the _close/_emit/_update convenience methods the spec names
// (Close/Emit/Update here, exported, since Go has no protected/private
// method convention to mirror the underscore prefix).
//
// The create.on list sent for a bridgeable object carries its event names
// (those reported by BridgeEvents, or "close" and "error" by default), not
// the names of the "on"/"watch" subscription hooks. Every Proxy offers On
// and Watch as its own methods, whatever the object lists; the hook names
// are not announced per object.
type Base struct {
	once  sync.Once
	magic *magicRecord
}

func (b *Base) bridgeMagic() *magicRecord {
	b.once.Do(func() {
		b.magic = newOwnedMagic()
	})
	return b.magic
}

// Init binds the Base to the concrete value that embeds it, so Close/Emit/
// Update have something to pass to the package-level verbs. Call once,
// typically from the embedding type's constructor:
//
//	c := &Counter{}
//	bridge.InitBase(&c.Base, c)
func InitBase(b *Base, self Bridgeable) {
	rec := b.bridgeMagic()
	rec.mu.Lock()
	rec.self = self
	rec.mu.Unlock()
}

// Close tears the owning object down: see package-level Close.
func (b *Base) Close() { Close(b.selfOrThis()) }

// Emit fires name on the owning object: see package-level Emit.
func (b *Base) Emit(name string, payload interface{}) { Emit(b.selfOrThis(), name, payload) }

// Update marks property names dirty on the owning object: see package-level
// Update. Calling Update() with no names marks the whole object dirty.
func (b *Base) Update(names ...string) {
	if len(names) == 0 {
		Update(b.selfOrThis(), "")
		return
	}
	for _, n := range names {
		Update(b.selfOrThis(), n)
	}
}

// AddListener installs a named-event listener: see package-level AddListener.
func (b *Base) AddListener(name string, fn ListenerFunc) func() {
	return AddListener(b.selfOrThis(), name, fn)
}

// AddWatcher installs a property watcher: see package-level AddWatcher.
func (b *Base) AddWatcher(name string, fn WatchFunc) func() {
	return AddWatcher(b.selfOrThis(), name, fn)
}

func (b *Base) selfOrThis() interface{} {
	rec := b.bridgeMagic()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.self != nil {
		return rec.self
	}
	return b
}
