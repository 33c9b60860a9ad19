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
	"reflect"
	"sync"

	"go.uber.org/atomic"

	"github.com/pkg/errors"

	"github.com/objectbridge/objectbridge/internal/log"
)

var magicLogger = log.NewModuleLogger(log.ModuleMagic)

var nextLocalId atomic.Int64

func allocLocalId() LocalId {
	return LocalId(nextLocalId.Inc())
}

// watcherEntry tracks one property's remote-watch subscriptions plus the
// last value delivered to them, per spec section 3's "watchers: name ->
// {lastSeen, callbacks}".
type watcherEntry struct {
	lastSeen  interface{}
	hasSeen   bool
	callbacks []WatchFunc
}

// magicRecord is the hidden per-object slot described in spec section 3.
// Go has no way to attach a literal hidden field to an arbitrary value, so
// it is either embedded via Base (the common case) or kept in a side table
// keyed by pointer identity (bridgifyObject on a foreign type).
type magicRecord struct {
	mu sync.Mutex

	localId   LocalId
	closed    bool
	bridges   map[*BridgeState]struct{}
	listeners map[string][]ListenerFunc
	watchers  map[string]*watcherEntry

	// self is the original Bridgeable value this record belongs to; needed
	// so Base's convenience methods (Close/Emit/Update) and PackObject's
	// reflection can recover the concrete value from just the record.
	self interface{}

	// proxy-only fields
	isProxy  bool
	remoteId LocalId
	errs     map[string]bool
	props    map[string]interface{}

	// shared-constant-only field
	isShared bool
	shareId  string
}

func newOwnedMagic() *magicRecord {
	return &magicRecord{
		localId: allocLocalId(),
		bridges: make(map[*BridgeState]struct{}),
	}
}

// makeProxyMagic builds the record for a freshly fabricated proxy, per spec
// section 4.1.
func makeProxyMagic(remoteId LocalId) *magicRecord {
	return &magicRecord{
		localId:  allocLocalId(),
		isProxy:  true,
		remoteId: remoteId,
		errs:     make(map[string]bool),
		props:    make(map[string]interface{}),
	}
}

// Bridgeable marks a value as eligible to cross a bridge. The method is
// unexported so only types embedding Base (or values registered through
// BridgifyObject's side table, reached via the bridgeMagicOf helper) can
// satisfy it — a sealed-interface idiom, not an accident.
type Bridgeable interface {
	bridgeMagic() *magicRecord
}

// sideTable backs BridgifyObject for values that cannot embed Base — the Go
// analogue of yaob's WeakMap-based hidden slot for "instances of user
// classes the bridge does not own", spec section 4.1.
var sideTable sync.Map // map[uintptr]*magicRecord

var bridgifiedTypes sync.Map // map[reflect.Type]bool, for BridgifyClass

// BridgifyClass marks every instance of typ (now or later) as bridgeable by
// registering its reflect.Type. Idempotent. Use for types that cannot
// embed Base but whose every instance should be treated as bridgeable
// (the Go rendition of spec section 4.1's bridgifyClass).
func BridgifyClass(typ reflect.Type) {
	bridgifiedTypes.Store(typ, true)
}

func classIsBridgified(typ reflect.Type) bool {
	_, ok := bridgifiedTypes.Load(typ)
	return ok
}

func identityOf(obj interface{}) (uintptr, bool) {
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	}
	return 0, false
}

// BridgifyObject makes a single instance bridgeable, assigning a localId if
// one is not already present. Idempotent: bridgify(bridgify(x)) == bridgify(x).
func BridgifyObject(obj interface{}) (Bridgeable, error) {
	if b, ok := obj.(Bridgeable); ok {
		b.bridgeMagic() // lazily allocates via Base.bridgeMagic
		return b, nil
	}

	ptr, ok := identityOf(obj)
	if !ok {
		return nil, errors.WithStack(ErrNotBridgeable)
	}
	if existing, ok := sideTable.Load(ptr); ok {
		return &sideTableBridgeable{obj: obj, magic: existing.(*magicRecord)}, nil
	}

	typ := reflect.TypeOf(obj)
	if baseTyp := typ; !classIsBridgified(baseTyp) {
		// Not previously bridgified via BridgifyClass, but an explicit
		// BridgifyObject call still admits this one instance, per spec:
		// "bridgifyObject(obj) — makes a single instance bridgeable".
		magicLogger.Debug("bridgifying ungrouped instance", "type", typ.String())
	}
	rec := newOwnedMagic()
	rec.self = obj
	sideTable.Store(ptr, rec)
	return &sideTableBridgeable{obj: obj, magic: rec}, nil
}

// sideTableBridgeable adapts a foreign value plus its side-table record to
// the Bridgeable interface.
type sideTableBridgeable struct {
	obj   interface{}
	magic *magicRecord
}

func (s *sideTableBridgeable) bridgeMagic() *magicRecord { return s.magic }

// GetInstanceMagic returns obj's hidden record, lazily creating the
// instance-level portion if obj's class was marked via BridgifyClass but
// this particular instance has not been seen before. Fails with
// ErrNotBridgeable if the class/instance was never marked.
func GetInstanceMagic(obj interface{}) (*magicRecord, error) {
	if b, ok := obj.(Bridgeable); ok {
		return b.bridgeMagic(), nil
	}
	ptr, ok := identityOf(obj)
	if ok {
		if existing, ok := sideTable.Load(ptr); ok {
			return existing.(*magicRecord), nil
		}
	}
	typ := reflect.TypeOf(obj)
	if typ != nil && classIsBridgified(typ) && ok {
		rec := newOwnedMagic()
		rec.self = obj
		sideTable.Store(ptr, rec)
		return rec, nil
	}
	return nil, errors.WithStack(ErrNotBridgeable)
}

func bridgeMagicOf(obj interface{}) (*magicRecord, bool) {
	if b, ok := obj.(Bridgeable); ok {
		return b.bridgeMagic(), true
	}
	if ptr, ok := identityOf(obj); ok {
		if existing, ok := sideTable.Load(ptr); ok {
			return existing.(*magicRecord), true
		}
	}
	return nil, false
}
