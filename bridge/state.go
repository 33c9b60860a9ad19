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
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"gopkg.in/fatih/set.v0"

	"github.com/objectbridge/objectbridge/internal/clock"
	"github.com/objectbridge/objectbridge/internal/log"
)

// Options configures a Bridge/BridgeState pair. The zero value is usable:
// every field defaults per spec section 6.
type Options struct {
	// Logger receives bridge diagnostics; defaults to a module logger on
	// the usual internal/log console sink.
	Logger *log.Logger
	// FlushInterval bounds how long a dirty mark, queued event, or queued
	// call waits before being sent, batching bursts of activity into one
	// outbound Message. Defaults to 4ms.
	FlushInterval time.Duration
	// OnUnknownTag is called instead of failing the unpack outright when a
	// DataMap tag this build doesn't recognize arrives — the hook spec
	// section 9's protocol-versioning open question resolved to, letting a
	// newer peer talk to an older one without breaking the connection. The
	// value carrying the unknown tag unpacks as nil. With no hook set, an
	// unknown tag fails the unpack with an error.
	OnUnknownTag func(tag string)
	// DetectCycles enables the reference-cycle guard in the data codec.
	// Off by default: the guard costs a map per top-level PackData call.
	DetectCycles bool
	// HideProperties names properties this peer never packs for the other
	// side, regardless of what bridgeablePropNames would otherwise report —
	// spec section 3's BridgeState.hideProperties.
	HideProperties []string
}

func (o *Options) logger() *log.Logger {
	if o == nil || o.Logger == nil {
		return log.NewModuleLogger(log.ModuleState)
	}
	return o.Logger
}

func (o *Options) flushInterval() time.Duration {
	if o == nil || o.FlushInterval <= 0 {
		return 4 * time.Millisecond
	}
	return o.FlushInterval
}

func (o *Options) onUnknownTag(tag string) {
	if o != nil && o.OnUnknownTag != nil {
		o.OnUnknownTag(tag)
	}
}

func (o *Options) detectCycles() bool { return o != nil && o.DetectCycles }

func (o *Options) hides(name string) bool {
	if o == nil {
		return false
	}
	for _, n := range o.HideProperties {
		if n == name {
			return true
		}
	}
	return false
}

func (bs *BridgeState) hidesProp(name string) bool {
	if bs == nil {
		return false
	}
	return bs.opts.hides(name)
}

// BridgeState is the per-peer half of a Bridge: it owns the local-object
// registry shared toward that peer, the proxy registry for objects the peer
// has shared back, the outbound message queue, and in-flight call tracking.
// A Bridge with N connected peers holds N BridgeStates. Grounded on spec
// section 3's "BridgeState" and klaytn's node/sc bridge manager/peer-set
// split, generalized from one fixed child-chain peer to an arbitrary
// byte-stream peer.
type BridgeState struct {
	PeerID string

	logger *log.Logger
	opts   *Options
	send   func(Message) error

	mu            sync.Mutex
	closed        bool
	localShared   map[LocalId]interface{}
	localCache    map[LocalId]map[string]interface{}
	dirty         *set.Set
	pendingNew    map[LocalId]bool
	pendingClosed []LocalId
	pendingEvents []EventEntry
	outCalls      []CallEntry
	outReturns    []ReturnEntry
	pendingCalls  map[int64]chan PackedData

	proxies map[LocalId]*Proxy

	nextCallId   atomic.Int64
	flushPending atomic.Bool
	recentClosed *lru.Cache

	rootDone chan struct{}
	rootVal  interface{}
}

// NewBridgeState creates a BridgeState that writes outbound messages via
// send. send is called from the flush timer's goroutine that a dirty mark,
// an event or a call arms, or synchronously from a goroutine calling
// SendNow or Wakeup; it
// must be safe to call concurrently with itself only in the sense that
// BridgeState never calls it from two goroutines at once.
func NewBridgeState(send func(Message) error, opts *Options) *BridgeState {
	cache, _ := lru.New(256)
	return &BridgeState{
		PeerID:       uuid.NewV4().String(),
		logger:       opts.logger(),
		opts:         opts,
		send:         send,
		localShared:  map[LocalId]interface{}{},
		localCache:   map[LocalId]map[string]interface{}{},
		dirty:        set.NewNonTS(),
		pendingNew:   map[LocalId]bool{},
		pendingCalls: map[int64]chan PackedData{},
		proxies:      map[LocalId]*Proxy{},
		recentClosed: cache,
		rootDone:     make(chan struct{}),
	}
}

// GetRoot blocks until the peer has announced its root object (via
// SendRoot) and returns it, normally a *Proxy. Returns ctx's error if ctx
// is done first.
func (bs *BridgeState) GetRoot(ctx context.Context) (interface{}, error) {
	bs.mu.Lock()
	v := bs.rootVal
	bs.mu.Unlock()
	if v != nil {
		return v, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-bs.rootDone:
		bs.mu.Lock()
		defer bs.mu.Unlock()
		return bs.rootVal, nil
	}
}

// SendRoot announces obj as this bridge's root object: the peer's GetRoot
// unblocks with a proxy for it once the announcement arrives.
func (bs *BridgeState) SendRoot(obj interface{}) error {
	if _, ok := bridgeMagicOf(obj); !ok {
		return errors.WithStack(ErrNotBridgeable)
	}
	payload := PackData(bs, obj)
	bs.mu.Lock()
	bs.pendingEvents = append(bs.pendingEvents, EventEntry{LocalId: RootLocalId, Name: rootEventName, Payload: payload})
	bs.mu.Unlock()
	bs.scheduleFlush()
	return nil
}

func (bs *BridgeState) detectCycles() bool { return bs.opts.detectCycles() }

// GetPackedId returns the PackedId obj should be referenced by in data
// crossing this peer, sharing obj over this peer for the first time if
// necessary. A nil result (no error) means obj is closed, per spec section
// 4.2's "raw:null for a closed object".
func (bs *BridgeState) GetPackedId(obj interface{}) (*PackedId, error) {
	magic, ok := bridgeMagicOf(obj)
	if !ok {
		return nil, errors.WithStack(ErrNotBridgeable)
	}
	magic.mu.Lock()
	closed := magic.closed
	isProxy := magic.isProxy
	remoteId := magic.remoteId
	localId := magic.localId
	magic.mu.Unlock()
	if closed {
		return nil, nil
	}
	if isProxy {
		id := -PackedId(remoteId)
		return &id, nil
	}
	bs.ensureShared(localId, obj, magic)
	id := PackedId(localId)
	return &id, nil
}

// ResolveRemote decodes a PackedId received from this peer into the Go
// value it denotes: a positive id names an object the peer owns and
// resolves to its Proxy, or is reported unresolved when no open Proxy was
// created for it; a negative id refers back to one of our own objects by
// its original LocalId.
func (bs *BridgeState) ResolveRemote(id PackedId) (interface{}, bool) {
	if id > 0 {
		return bs.getOrMakeProxy(LocalId(id))
	}
	if id < 0 {
		return bs.lookupLocal(LocalId(-id))
	}
	return nil, false
}

func (bs *BridgeState) ensureShared(localId LocalId, obj interface{}, magic *magicRecord) {
	bs.mu.Lock()
	if _, known := bs.localShared[localId]; !known {
		bs.localShared[localId] = obj
		bs.pendingNew[localId] = true
		magic.mu.Lock()
		if magic.bridges == nil {
			magic.bridges = map[*BridgeState]struct{}{}
		}
		magic.bridges[bs] = struct{}{}
		magic.mu.Unlock()
	}
	bs.mu.Unlock()
	bs.scheduleFlush()
}

func (bs *BridgeState) lookupLocal(localId LocalId) (interface{}, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	obj, ok := bs.localShared[localId]
	return obj, ok
}

// getOrMakeProxy returns the Proxy for remoteId, which must already have
// been announced by a Created entry — a dangling reference to an id never
// created is reported as unresolved rather than fabricating an empty proxy.
func (bs *BridgeState) getOrMakeProxy(remoteId LocalId) (interface{}, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	p, ok := bs.proxies[remoteId]
	if !ok || p.IsClosed() {
		return nil, false
	}
	return p, true
}

// MarkDirty records that the object identified by localId changed and
// should be re-diffed in full on the next flush: per spec section 4.4.1,
// dirty tracks whole objects, not individual property names. If name is
// non-empty and already has a ValueCache slot, that slot is stamped with
// the dirty sentinel so the next diff re-sends it even if the property's
// identity happens not to have changed in the meantime. Called by
// package-level Update for every bridge the object is currently shared
// over.
func (bs *BridgeState) MarkDirty(localId LocalId, name string) {
	bs.mu.Lock()
	if _, known := bs.localShared[localId]; !known {
		bs.mu.Unlock()
		return
	}
	bs.dirty.Add(localId)
	if name != "" {
		if cache, ok := bs.localCache[localId]; ok {
			if _, tracked := cache[name]; tracked {
				cache[name] = dirtyValue{}
			}
		}
	}
	bs.mu.Unlock()
	bs.scheduleFlush()
}

// EmitEvent queues name/payload as an outbound event for localId.
func (bs *BridgeState) EmitEvent(localId LocalId, name string, payload interface{}) {
	entry := EventEntry{LocalId: localId, Name: name, Payload: PackData(bs, payload)}
	bs.mu.Lock()
	bs.pendingEvents = append(bs.pendingEvents, entry)
	bs.mu.Unlock()
	bs.scheduleFlush()
}

// EmitClose queues localId's closure and stops tracking it as shared.
func (bs *BridgeState) EmitClose(localId LocalId) {
	bs.mu.Lock()
	delete(bs.localShared, localId)
	bs.dirty.Remove(localId)
	delete(bs.localCache, localId)
	delete(bs.pendingNew, localId)
	bs.pendingClosed = append(bs.pendingClosed, localId)
	bs.mu.Unlock()
	bs.scheduleFlush()
}

// Call sends a CallEntry naming the method on the object the peer owns as
// remoteId, and blocks until the matching ReturnEntry arrives or ctx is
// done. The caller is normally a Proxy.
func (bs *BridgeState) Call(ctx context.Context, remoteId LocalId, name string, args []interface{}) (interface{}, error) {
	id := bs.nextCallId.Inc()
	packedArgs := make([]PackedData, len(args))
	for i, a := range args {
		packedArgs[i] = PackData(bs, a)
	}
	ch := make(chan PackedData, 1)
	bs.mu.Lock()
	bs.pendingCalls[id] = ch
	bs.outCalls = append(bs.outCalls, CallEntry{CallId: id, RemoteId: remoteId, Name: name, Args: packedArgs})
	bs.mu.Unlock()
	bs.scheduleFlush()

	select {
	case <-ctx.Done():
		bs.mu.Lock()
		delete(bs.pendingCalls, id)
		bs.mu.Unlock()
		return nil, ctx.Err()
	case result, ok := <-ch:
		if !ok {
			return nil, wrapPath(ErrBridgeClosed, name)
		}
		return UnpackData(bs, result, fmt.Sprintf("%s()", name))
	}
}

// scheduleFlush arranges a call to flushNow no later than the configured
// FlushInterval from now, coalescing any marks/events/calls that arrive
// before then into one outbound Message.
func (bs *BridgeState) scheduleFlush() {
	if !bs.flushPending.CAS(false, true) {
		return
	}
	time.AfterFunc(bs.opts.flushInterval(), func() {
		bs.flushPending.Store(false)
		bs.flushNow()
	})
}

// SendNow flushes immediately, bypassing the flush-interval batching delay.
func (bs *BridgeState) SendNow() { bs.flushNow() }

// Wakeup is an alias for SendNow kept for symmetry with spec section 6's
// separately named "wakeup the peer" verb. Like every flush, it sends
// nothing when nothing is queued.
func (bs *BridgeState) Wakeup() { bs.flushNow() }

// drainPendingNew pops every id currently in pendingNew, packs each one, and
// keeps looping until pendingNew is empty again. A newly admitted object's
// own properties can reference other bridgeables that are themselves being
// shared for the first time (spec section 8's "root.children = [c, c]"); if
// those weren't packed into this same flush's Created list, the peer would
// see a PackedId in root's props with no matching Created entry yet for c.
// PackObject/GetPackedId walk the live object graph and may call back into
// ensureShared, which takes bs.mu itself, so this must run with bs.mu
// released — taking it here would self-deadlock the first time a flush
// discovers a shared child this way.
func (bs *BridgeState) drainPendingNew() []CreatedEntry {
	var created []CreatedEntry
	for {
		bs.mu.Lock()
		if len(bs.pendingNew) == 0 {
			bs.mu.Unlock()
			return created
		}
		ids := make([]LocalId, 0, len(bs.pendingNew))
		for id := range bs.pendingNew {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		objs := make(map[LocalId]interface{}, len(ids))
		for _, id := range ids {
			objs[id] = bs.localShared[id]
			delete(bs.pendingNew, id)
		}
		bs.mu.Unlock()

		for _, id := range ids {
			entry, cache := PackObject(bs, id, objs[id])
			created = append(created, entry)
			bs.mu.Lock()
			bs.localCache[id] = cache
			bs.dirty.Remove(id)
			bs.mu.Unlock()
		}
	}
}

func (bs *BridgeState) flushNow() {
	start := clock.Now()
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return
	}
	bs.mu.Unlock()

	created := bs.drainPendingNew()

	bs.mu.Lock()
	dirtyItems := bs.dirty.List()
	bs.dirty = set.NewNonTS()
	bs.mu.Unlock()
	dirtyIds := make([]LocalId, 0, len(dirtyItems))
	for _, raw := range dirtyItems {
		dirtyIds = append(dirtyIds, raw.(LocalId))
	}
	sort.Slice(dirtyIds, func(i, j int) bool { return dirtyIds[i] < dirtyIds[j] })

	var changed []ChangedEntry
	for _, id := range dirtyIds {
		bs.mu.Lock()
		obj, ok := bs.localShared[id]
		var cacheCopy map[string]interface{}
		if ok {
			orig := bs.localCache[id]
			cacheCopy = make(map[string]interface{}, len(orig))
			for k, v := range orig {
				cacheCopy[k] = v
			}
		}
		bs.mu.Unlock()
		if !ok {
			continue
		}
		// DiffObject re-packs changed values, which can itself admit a
		// brand-new bridgeable (a property reassigned to an object never
		// shared before); bs.mu must stay released across this call for the
		// same reason drainPendingNew releases it above.
		props := DiffObject(bs, obj, cacheCopy)
		bs.mu.Lock()
		bs.localCache[id] = cacheCopy
		bs.mu.Unlock()
		if len(props) > 0 {
			changed = append(changed, ChangedEntry{LocalId: id, Props: props})
		}
	}

	// Diffing may have discovered further new objects (a changed property
	// now pointing at one); pack those into the same outbound message too.
	created = append(created, bs.drainPendingNew()...)

	bs.mu.Lock()
	closedIds := bs.pendingClosed
	bs.pendingClosed = nil
	for _, id := range closedIds {
		bs.recentClosed.Add(id, true)
	}

	events := bs.pendingEvents
	bs.pendingEvents = nil

	calls := bs.outCalls
	bs.outCalls = nil

	returns := bs.outReturns
	bs.outReturns = nil
	bs.mu.Unlock()

	msg := Message{
		Created: created,
		Changed: changed,
		Closed:  closedIds,
		Calls:   calls,
		Events:  events,
		Returns: returns,
	}
	if msg.Empty() {
		return
	}
	if err := bs.send(msg); err != nil {
		bs.logger.Warn("send failed", "peer", bs.PeerID, "err", err)
	}
	bs.logger.Debug("flushed", "peer", bs.PeerID, "elapsed", clock.Since(start))
}

// HandleMessage applies an inbound Message in three phases, per spec
// section 5: first the object-graph updates (created/changed) so every
// proxy referenced by a call or event argument already exists, then
// dispatched calls, delivered events and resolved returns, and last the
// closed ids, so a proxy closed in the same message still receives its
// events and can be returned before it closes.
func (bs *BridgeState) HandleMessage(msg Message) error {
	for _, entry := range msg.Created {
		bs.createOrUpdateProxy(entry)
	}
	for _, entry := range msg.Changed {
		bs.updateProxyProps(entry)
	}

	for _, call := range msg.Calls {
		bs.dispatchCall(call)
	}
	for _, event := range msg.Events {
		if event.LocalId == RootLocalId && event.Name == rootEventName {
			bs.receiveRoot(event)
			continue
		}
		bs.deliverEvent(event)
	}

	for _, ret := range msg.Returns {
		bs.mu.Lock()
		ch, ok := bs.pendingCalls[ret.CallId]
		if ok {
			delete(bs.pendingCalls, ret.CallId)
		}
		bs.mu.Unlock()
		if !ok {
			continue
		}
		ch <- ret.Value
		close(ch)
	}

	for _, id := range msg.Closed {
		bs.closeProxy(id)
	}
	return nil
}

func (bs *BridgeState) createOrUpdateProxy(entry CreatedEntry) {
	bs.mu.Lock()
	p, exists := bs.proxies[entry.LocalId]
	if !exists {
		magic := makeProxyMagic(entry.LocalId)
		p = newProxy(bs, entry.LocalId, magic)
		bs.proxies[entry.LocalId] = p
	}
	bs.mu.Unlock()
	p.applyCreated(entry)
}

func (bs *BridgeState) updateProxyProps(entry ChangedEntry) {
	bs.mu.Lock()
	p := bs.proxies[entry.LocalId]
	bs.mu.Unlock()
	if p == nil {
		return
	}
	p.applyChanged(entry)
}

func (bs *BridgeState) closeProxy(localId LocalId) {
	bs.mu.Lock()
	p := bs.proxies[localId]
	delete(bs.proxies, localId)
	bs.mu.Unlock()
	if p == nil {
		return
	}
	p.applyClosed()
}

func (bs *BridgeState) deliverEvent(event EventEntry) {
	bs.mu.Lock()
	p := bs.proxies[event.LocalId]
	bs.mu.Unlock()
	if p == nil {
		return
	}
	payload, err := UnpackData(bs, event.Payload, fmt.Sprintf("event:%s", event.Name))
	if err != nil {
		bs.logger.Warn("dropping event with unpackable payload", "name", event.Name, "err", err)
		return
	}
	deliverIncomingEvent(p, event.Name, payload)
}

func (bs *BridgeState) receiveRoot(event EventEntry) {
	val, err := UnpackData(bs, event.Payload, "root")
	if err != nil {
		bs.logger.Warn("dropping unresolvable root announcement", "err", err)
		return
	}
	bs.mu.Lock()
	if bs.rootVal == nil {
		bs.rootVal = val
		close(bs.rootDone)
	}
	bs.mu.Unlock()
}

func (bs *BridgeState) dispatchCall(call CallEntry) {
	obj, ok := bs.lookupLocal(call.RemoteId)
	var result PackedData
	if !ok {
		result = PackThrow(bs, wrapPath(ErrInvalidLocalID, call.Name))
	} else {
		result = callMethod(bs, obj, call.Name, call.Args)
	}
	bs.mu.Lock()
	bs.outReturns = append(bs.outReturns, ReturnEntry{CallId: call.CallId, Value: result})
	bs.mu.Unlock()
	bs.scheduleFlush()
}

// Close tears this BridgeState down: every object it shared is unregistered
// from it, and every proxy it owns is closed locally (without emitting a
// Closed message — the peer connection itself is gone, so there is nothing
// left to notify). Listener panics during proxy teardown are aggregated
// rather than dropped.
func (bs *BridgeState) Close() error {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return nil
	}
	bs.closed = true
	locals := make([]interface{}, 0, len(bs.localShared))
	for _, obj := range bs.localShared {
		locals = append(locals, obj)
	}
	proxies := make([]*Proxy, 0, len(bs.proxies))
	for _, p := range bs.proxies {
		proxies = append(proxies, p)
	}
	bs.localShared = map[LocalId]interface{}{}
	bs.proxies = map[LocalId]*Proxy{}
	for _, ch := range bs.pendingCalls {
		close(ch)
	}
	bs.pendingCalls = map[int64]chan PackedData{}
	bs.mu.Unlock()

	for _, obj := range locals {
		if magic, ok := bridgeMagicOf(obj); ok {
			magic.mu.Lock()
			delete(magic.bridges, bs)
			magic.mu.Unlock()
		}
	}

	var errs error
	for _, p := range proxies {
		errs = multierr.Append(errs, p.closeLocally())
	}
	return errs
}
