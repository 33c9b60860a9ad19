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
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Proxy stands in for an object the remote peer owns. Spec section 4.4
// describes a proxy as an object that transparently forwards property
// reads, method calls and subscriptions to the real object across the
// channel; since Go cannot fabricate methods named at runtime the way a JS
// Proxy trap can, a Proxy here exposes that forwarding through four
// explicit verbs — Get, Call, On, Watch — rather than pretending to be the
// remote type. This is the adaptation spec section 9's "no dynamic proxy
// trap" open question settled on.
type Proxy struct {
	magic    *magicRecord
	bs       *BridgeState
	remoteId LocalId

	mu       sync.RWMutex
	methods  map[string]bool
	events   map[string]bool
	base     string
	props    map[string]interface{}
	propErrs map[string]error
	closed   bool
}

func newProxy(bs *BridgeState, remoteId LocalId, magic *magicRecord) *Proxy {
	return &Proxy{
		magic:    magic,
		bs:       bs,
		remoteId: remoteId,
		methods:  map[string]bool{},
		events:   map[string]bool{},
		props:    map[string]interface{}{},
		propErrs: map[string]error{},
	}
}

func (p *Proxy) bridgeMagic() *magicRecord { return p.magic }

// BridgeProperty lets the package-level watcher machinery read a proxy's
// current cached value for name without needing struct-field reflection.
func (p *Proxy) BridgeProperty(name string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, hasErr := p.propErrs[name]; hasErr {
		return nil, true
	}
	v, ok := p.props[name]
	return v, ok
}

// RemoteId is the id the owning peer assigned the real object; callers
// normally don't need it, but transports that log or trace messages do.
func (p *Proxy) RemoteId() LocalId { return p.remoteId }

// Base returns the CreatedEntry.Base class hint the remote announced.
func (p *Proxy) Base() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.base
}

// HasMethod reports whether the remote announced name as callable.
func (p *Proxy) HasMethod(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.methods[name]
}

// IsClosed reports whether the remote object (or the bridge carrying it)
// has closed.
func (p *Proxy) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Get returns the last value received for property name, or the error the
// remote reported while snapshotting it (spec section 4.3's throw:true
// property entries). It keeps returning whatever was last received even
// after the proxy closes — per spec section 4.3's makeProxy getter and
// testable scenario §8.4(a), a client's previously held reference still
// exposes its last-known property values synchronously once the remote is
// gone. Only Call rejects once the proxy is closed.
func (p *Proxy) Get(name string) (interface{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err, ok := p.propErrs[name]; ok {
		return nil, err
	}
	v, ok := p.props[name]
	if !ok {
		return nil, wrapPath(ErrNoSuchMethod, name)
	}
	return v, nil
}

// Call invokes the remote method name with args, blocking until the matching
// ReturnEntry arrives or ctx is canceled.
func (p *Proxy) Call(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	p.mu.RLock()
	closed := p.closed
	known := p.methods[name]
	p.mu.RUnlock()
	if closed {
		return nil, &ClosedMethodError{Method: name}
	}
	if !known {
		return nil, wrapPath(ErrNoSuchMethod, name)
	}
	return p.bs.Call(ctx, p.remoteId, name, args)
}

// On subscribes fn to the remote's name event; see package-level AddListener.
func (p *Proxy) On(name string, fn ListenerFunc) func() { return AddListener(p, name, fn) }

// Watch subscribes fn to changes of property name; see package-level
// AddWatcher.
func (p *Proxy) Watch(name string, fn WatchFunc) func() { return AddWatcher(p, name, fn) }

// Close detaches local listeners and watchers from the proxy. It does not
// ask the remote to close the real object — only the owning peer can do
// that — so this is purely local cleanup, useful when a caller is done
// observing an object it never owned.
func (p *Proxy) Close() { _ = p.closeLocally() }

func toStringSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func (p *Proxy) applyCreated(entry CreatedEntry) {
	p.mu.Lock()
	p.methods = toStringSet(entry.Methods)
	p.events = toStringSet(entry.On)
	p.base = entry.Base
	p.mu.Unlock()
	p.ingestProps(entry.Props)
}

func (p *Proxy) applyChanged(entry ChangedEntry) {
	p.ingestProps(entry.Props)
}

func (p *Proxy) ingestProps(props map[string]PackedData) {
	for name, pd := range props {
		val, err := UnpackData(p.bs, pd, fmt.Sprintf("proxy#%d.%s", p.remoteId, name))
		p.mu.Lock()
		if err != nil {
			p.propErrs[name] = err
			delete(p.props, name)
		} else {
			delete(p.propErrs, name)
			p.props[name] = val
		}
		p.mu.Unlock()
		if err == nil {
			p.fireWatchers(name, val)
		}
	}
}

func (p *Proxy) fireWatchers(name string, value interface{}) {
	magic := p.magic
	magic.mu.Lock()
	entry := magic.watchers[name]
	if entry == nil {
		magic.mu.Unlock()
		return
	}
	changed := !entry.hasSeen || !valuesEqual(entry.lastSeen, value)
	if changed {
		entry.lastSeen = value
		entry.hasSeen = true
	}
	callbacks := append([]WatchFunc(nil), entry.callbacks...)
	magic.mu.Unlock()
	if !changed {
		return
	}
	for _, cb := range callbacks {
		cb(value)
	}
}

func (p *Proxy) applyClosed() {
	_ = p.closeLocally()
}

func (p *Proxy) closeLocally() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	magic := p.magic
	magic.mu.Lock()
	magic.closed = true
	listeners := append([]ListenerFunc(nil), magic.listeners["close"]...)
	magic.listeners = nil
	magic.watchers = nil
	magic.mu.Unlock()

	var errs error
	for _, fn := range listeners {
		if err := invokeListener(fn, nil); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// deliverIncomingEvent fires obj's local listeners for an event that
// arrived over the wire, without re-queuing it outbound the way Emit would
// (a proxy never owns the events it relays).
func deliverIncomingEvent(obj interface{}, name string, payload interface{}) {
	magic, ok := bridgeMagicOf(obj)
	if !ok {
		return
	}
	magic.mu.Lock()
	listeners := append([]ListenerFunc(nil), magic.listeners[name]...)
	magic.mu.Unlock()
	runListeners(obj, name, payload, listeners)
}
