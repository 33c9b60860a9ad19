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
	"sort"
	"sync"
)

// PropertyGetter lets a bridgeable type serve a computed property instead of
// a plain struct field — the Go stand-in for a JS getter. The bool result
// says whether name is recognized at all; returning false falls through to
// ordinary field lookup.
type PropertyGetter interface {
	BridgeProperty(name string) (interface{}, bool)
}

// baseMethodNames excludes the methods Base promotes onto every embedding
// type from the remoted method list: they are local bookkeeping verbs, not
// part of the object's own RPC surface, matching spec section 4.5 excluding
// _close/_emit/_update/etc. from a bridgeable's own `on`/method list.
var baseMethodNames = map[string]bool{
	"Close":       true,
	"Emit":        true,
	"Update":      true,
	"AddListener": true,
	"AddWatcher":  true,
}

var (
	methodNameCache sync.Map // reflect.Type -> []string
	propNameCache   sync.Map // reflect.Type -> []string
)

// bridgeableMethodNames lists the exported methods a proxy may call on obj,
// classifying everything in obj's Go method set except Base's own verbs as
// an RPC method — the Go rendition of spec section 4.3's "enumerate own and
// inherited enumerable function properties".
func bridgeableMethodNames(obj interface{}) []string {
	t := reflect.TypeOf(obj)
	if cached, ok := methodNameCache.Load(t); ok {
		return cached.([]string)
	}
	var names []string
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if m.PkgPath != "" || baseMethodNames[m.Name] {
			continue
		}
		names = append(names, m.Name)
	}
	sort.Strings(names)
	methodNameCache.Store(t, names)
	return names
}

// bridgeablePropNames lists the property names a proxy mirrors locally.
// Non-struct bridgeables (anything BridgifyObject side-tabled rather than
// embedding Base in a struct) report no properties unless they implement
// BridgeProps.
func bridgeablePropNames(obj interface{}) []string {
	rv := reflect.Indirect(reflect.ValueOf(obj))
	if rv.Kind() != reflect.Struct {
		if pl, ok := obj.(interface{ BridgeProps() []string }); ok {
			return pl.BridgeProps()
		}
		return nil
	}
	t := rv.Type()
	if cached, ok := propNameCache.Load(t); ok {
		return cached.([]string)
	}
	var names []string
	for _, f := range reflect.VisibleFields(t) {
		if f.PkgPath != "" || len(f.Index) > 1 {
			continue
		}
		if f.Anonymous && f.Type == baseFieldType {
			continue
		}
		if f.Tag.Get("bridge") == "-" {
			continue
		}
		names = append(names, fieldWireName(f))
	}
	sort.Strings(names)
	propNameCache.Store(t, names)
	return names
}

// eventNamesOf lists the event names advertised in a created object's `on`
// set. Go has no static analogue of a dynamically attached EventEmitter
// listener list, so unless obj opts in via BridgeEvents, only the two events
// every Base-backed object always supports are advertised.
func eventNamesOf(obj interface{}) []string {
	if el, ok := obj.(interface{ BridgeEvents() []string }); ok {
		return el.BridgeEvents()
	}
	return []string{"close", "error"}
}

// getProperty reads obj's current value for name, consulting PropertyGetter
// first and falling back to the matching exported struct field.
func getProperty(obj interface{}, name string) (interface{}, error) {
	if pg, ok := obj.(PropertyGetter); ok {
		if v, ok := pg.BridgeProperty(name); ok {
			return v, nil
		}
	}
	rv := reflect.Indirect(reflect.ValueOf(obj))
	if rv.Kind() != reflect.Struct {
		return nil, wrapPath(ErrNoSuchMethod, name)
	}
	for _, f := range reflect.VisibleFields(rv.Type()) {
		if f.PkgPath != "" || len(f.Index) > 1 {
			continue
		}
		if f.Anonymous && f.Type == baseFieldType {
			continue
		}
		if f.Tag.Get("bridge") == "-" {
			continue
		}
		if fieldWireName(f) == name {
			return rv.FieldByIndex(f.Index).Interface(), nil
		}
	}
	return nil, wrapPath(ErrNoSuchMethod, name)
}

// baseNameOf reports the bridgeable's class name for CreatedEntry.Base, used
// so a remote proxy can special-case known shapes (spec section 4.3's
// `base` field). Types that don't care leave it empty.
func baseNameOf(obj interface{}) string {
	if bn, ok := obj.(interface{ BridgeBase() string }); ok {
		return bn.BridgeBase()
	}
	return ""
}

// dirtyValue is the ValueCache sentinel spec section 4.4.1's
// markDirty(localId, name) stamps a cache slot with: it never compares equal
// to anything, including another dirtyValue, so diffObject re-packs that
// property on the next flush even though its reference didn't change. A
// getter that throws stores this same sentinel (spec section 3, point 5),
// forcing a retry on the next dirty cycle instead of caching the error.
type dirtyValue struct{}

// valuesIdentical is the ValueCache comparison spec section 3 calls out:
// reference identity for anything that can alias (pointers, maps, slices,
// chans, funcs), ordinary value comparison otherwise. This is what buys the
// O(props)-per-flush cost spec section 9 trades deep comparison away for.
func valuesIdentical(a, b interface{}) (eq bool) {
	if _, ok := a.(dirtyValue); ok {
		return false
	}
	if _, ok := b.(dirtyValue); ok {
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Type() != bv.Type() {
		return false
	}
	switch av.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return av.Pointer() == bv.Pointer()
	}
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// PackObject builds the CreatedEntry announcing obj as localId, snapshotting
// every property at its current value. It also returns the ValueCache seed
// (the raw unpacked value per property, not its wire encoding) so the caller
// (BridgeState) can diff future changes against exactly what was just sent,
// per spec section 4.3/§3.
func PackObject(peer *BridgeState, localId LocalId, obj interface{}) (CreatedEntry, map[string]interface{}) {
	names := bridgeablePropNames(obj)
	props := make(map[string]PackedData, len(names))
	cache := make(map[string]interface{}, len(names))
	for _, name := range names {
		if peer.hidesProp(name) {
			continue
		}
		v, err := getProperty(obj, name)
		if err != nil {
			props[name] = PackThrow(peer, err)
			cache[name] = dirtyValue{}
			continue
		}
		props[name] = PackData(peer, v)
		cache[name] = v
	}
	entry := CreatedEntry{
		LocalId: localId,
		Methods: bridgeableMethodNames(obj),
		On:      eventNamesOf(obj),
		Base:    baseNameOf(obj),
		Props:   props,
	}
	return entry, cache
}

// DiffObject re-reads every name already tracked in cache (the object's full
// ValueCache, spec section 3), compares each against the cached value by
// reference identity, and returns the packed form of whichever changed,
// updating cache in place. A nil result means nothing to send. Names a
// MarkDirty(localId, name) call stamped with the dirty sentinel always come
// back as changed even if the re-read value is identical to what was last
// sent.
func DiffObject(peer *BridgeState, obj interface{}, cache map[string]interface{}) map[string]PackedData {
	var changed map[string]PackedData
	for name, prev := range cache {
		v, err := getProperty(obj, name)
		var cur interface{} = v
		if err != nil {
			cur = dirtyValue{}
		}
		if valuesIdentical(prev, cur) {
			continue
		}
		cache[name] = cur
		var packed PackedData
		if err != nil {
			packed = PackThrow(peer, err)
		} else {
			packed = PackData(peer, v)
		}
		if changed == nil {
			changed = map[string]PackedData{}
		}
		changed[name] = packed
	}
	return changed
}
