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

// Package bridge's codec turns arbitrary Go values into the wire-safe
// DataMap/raw pair described by spec section 4.2, and back. Every value
// crossing a Bridge — call arguments, return values, event payloads,
// property snapshots — passes through PackData/UnpackData.
package bridge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/fatih/set.v0"

	"github.com/objectbridge/objectbridge/internal/log"
)

var codecLogger = log.NewModuleLogger(log.ModuleCodec)

// cycleGuard tracks reference-typed nodes (pointers, maps) currently being
// packed on the active call stack, so a self-referential graph fails with a
// clear error instead of recursing forever. Only built when the bridge's
// Options.DetectCycles opts in, per spec section 9's cycle-detection open
// question — the common case pays nothing for it. A single PackData call
// walks its value tree on one goroutine, so the non-thread-safe set is
// enough.
type cycleGuard struct {
	seen *set.Set
}

func newCycleGuard(peer *BridgeState) *cycleGuard {
	if peer == nil || !peer.detectCycles() {
		return nil
	}
	return &cycleGuard{seen: set.NewNonTS()}
}

func (g *cycleGuard) enter(ptr uintptr, path string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if g.seen.Has(ptr) {
		return func() {}, wrapPath(errors.New("cyclic reference detected"), path)
	}
	g.seen.Add(ptr)
	return func() { g.seen.Remove(ptr) }, nil
}

// PackData packs value for transmission over peer (nil peer is valid for
// values known not to contain bridgeable references or shared constants,
// e.g. in unit tests). A panic anywhere in the packing walk — most commonly
// a custom MarshalJSON blowing up — is caught and turned into a failed pack,
// per spec section 4.2: "packing errors become rejection payloads".
func PackData(peer *BridgeState, value interface{}) (result PackedData) {
	defer func() {
		if r := recover(); r != nil {
			result = packFailure(peer, toError(r))
		}
	}()
	guard := newCycleGuard(peer)
	dm, raw, err := packValue(peer, guard, reflect.ValueOf(value), "$")
	if err != nil {
		return packFailure(peer, err)
	}
	return PackedData{Map: dm, Raw: raw}
}

// PackThrow packs value the same way as PackData but marks the envelope as
// a rejection, per spec section 4.4's call/return protocol.
func PackThrow(peer *BridgeState, value interface{}) PackedData {
	pd := PackData(peer, value)
	pd.Throw = true
	return pd
}

func packFailure(peer *BridgeState, err error) PackedData {
	dm, raw, packErr := packError(peer, nil, err, "$")
	if packErr != nil {
		raw, _ = json.Marshal(err.Error())
		return PackedData{Map: DataMap{}, Raw: raw, Throw: true}
	}
	return PackedData{Map: dm, Raw: raw, Throw: true}
}

func toError(r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Errorf("%v", r)
}

// UnpackData reverses PackData. A Throw envelope unpacks its payload and
// returns it as the error instead of the value.
func UnpackData(peer *BridgeState, env PackedData, path string) (interface{}, error) {
	val, err := unpackValue(peer, env.Map, env.Raw, path)
	if err != nil {
		return nil, err
	}
	if !env.Throw {
		return val, nil
	}
	if asErr, ok := val.(error); ok {
		return nil, asErr
	}
	return nil, errors.Errorf("%v", val)
}

// packValue is the single recursive entry point for both top-level packing
// and the packing of container members / struct fields / error props.
func packValue(peer *BridgeState, guard *cycleGuard, rv reflect.Value, path string) (DataMap, json.RawMessage, error) {
	if !rv.IsValid() {
		return DataMap{Tag: TagUndefined}, []byte("null"), nil
	}
	if rv.Kind() == reflect.Interface {
		return packValue(peer, guard, rv.Elem(), path)
	}
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return DataMap{Tag: TagUndefined}, []byte("null"), nil
		}
		if id, ok := lookupSharedValue(rv.Interface()); ok {
			raw, err := json.Marshal(id)
			return DataMap{Tag: TagShared}, raw, err
		}
		if magic, ok := bridgeMagicOf(rv.Interface()); ok {
			return packBridgeable(peer, rv.Interface(), magic)
		}
		if e, ok := rv.Interface().(error); ok {
			return packError(peer, guard, e, path)
		}
		exit, err := guard.enter(rv.Pointer(), path)
		if err != nil {
			return DataMap{}, nil, err
		}
		defer exit()
		return packValue(peer, guard, rv.Elem(), path)
	}

	val := rv.Interface()

	if id, ok := lookupSharedValue(val); ok {
		raw, err := json.Marshal(id)
		return DataMap{Tag: TagShared}, raw, err
	}
	if magic, ok := bridgeMagicOf(val); ok {
		return packBridgeable(peer, val, magic)
	}

	switch v := val.(type) {
	case time.Time:
		raw, err := json.Marshal(v.UTC().Format(time.RFC3339Nano))
		return DataMap{Tag: TagDate}, raw, err
	case error:
		return packError(peer, guard, v, path)
	case []byte:
		raw, err := json.Marshal(base64.StdEncoding.EncodeToString(v))
		return DataMap{Tag: TagBytes}, raw, err
	case RawBuffer:
		raw, err := json.Marshal(base64.StdEncoding.EncodeToString(v))
		return DataMap{Tag: TagBuffer}, raw, err
	case Set:
		return packSet(peer, guard, v, path)
	}

	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		raw, err := json.Marshal(val)
		return DataMap{}, raw, err
	case reflect.Slice, reflect.Array:
		return packSlice(peer, guard, rv, path)
	case reflect.Map:
		exit, err := guard.enter(rv.Pointer(), path)
		if err != nil {
			return DataMap{}, nil, err
		}
		defer exit()
		return packMap(peer, guard, rv, path)
	case reflect.Struct:
		return packStruct(peer, guard, rv, path)
	default:
		raw, _ := json.Marshal(rv.Type().String())
		codecLogger.Debug("packing unsupported type", "path", path, "type", rv.Type().String())
		return DataMap{Tag: TagUnsupp}, raw, nil
	}
}

func packBridgeable(peer *BridgeState, obj interface{}, magic *magicRecord) (DataMap, json.RawMessage, error) {
	if peer == nil {
		return DataMap{}, nil, errors.WithStack(ErrBridgeClosed)
	}
	packedId, err := peer.GetPackedId(obj)
	if err != nil {
		return DataMap{}, nil, err
	}
	if packedId == nil {
		return DataMap{Tag: TagObject}, []byte("null"), nil
	}
	raw, err := json.Marshal(*packedId)
	_ = magic
	return DataMap{Tag: TagObject}, raw, err
}

func packSlice(peer *BridgeState, guard *cycleGuard, rv reflect.Value, path string) (DataMap, json.RawMessage, error) {
	n := rv.Len()
	items := make([]DataMap, n)
	rawItems := make([]json.RawMessage, n)
	allIdentity := true
	for i := 0; i < n; i++ {
		dm, raw, err := packValue(peer, guard, rv.Index(i), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return DataMap{}, nil, err
		}
		items[i] = dm
		rawItems[i] = raw
		if !dm.IsIdentity() {
			allIdentity = false
		}
	}
	rawBytes, err := json.Marshal(rawItems)
	if err != nil {
		return DataMap{}, nil, err
	}
	if allIdentity {
		return DataMap{}, rawBytes, nil
	}
	return DataMap{Tag: TagArray, Items: items}, rawBytes, nil
}

func packSet(peer *BridgeState, guard *cycleGuard, s Set, path string) (DataMap, json.RawMessage, error) {
	items := make([]DataMap, len(s))
	rawItems := make([]json.RawMessage, len(s))
	for i, v := range s {
		dm, raw, err := packValue(peer, guard, reflect.ValueOf(v), fmt.Sprintf("%s{%d}", path, i))
		if err != nil {
			return DataMap{}, nil, err
		}
		items[i] = dm
		rawItems[i] = raw
	}
	rawBytes, err := json.Marshal(rawItems)
	if err != nil {
		return DataMap{}, nil, err
	}
	return DataMap{Tag: TagSet, Items: items}, rawBytes, nil
}

func packMap(peer *BridgeState, guard *cycleGuard, rv reflect.Value, path string) (DataMap, json.RawMessage, error) {
	keys := rv.MapKeys()
	items := make([]DataMap, len(keys))
	rawItems := make([]json.RawMessage, len(keys))
	for i, k := range keys {
		dm, raw, err := packPair(peer, guard, k, rv.MapIndex(k), fmt.Sprintf("%s[%v]", path, k.Interface()))
		if err != nil {
			return DataMap{}, nil, err
		}
		items[i] = dm
		rawItems[i] = raw
	}
	rawBytes, err := json.Marshal(rawItems)
	if err != nil {
		return DataMap{}, nil, err
	}
	return DataMap{Tag: TagMap, Items: items}, rawBytes, nil
}

func packPair(peer *BridgeState, guard *cycleGuard, k, v reflect.Value, path string) (DataMap, json.RawMessage, error) {
	kdm, kraw, err := packValue(peer, guard, k, path+".key")
	if err != nil {
		return DataMap{}, nil, err
	}
	vdm, vraw, err := packValue(peer, guard, v, path+".value")
	if err != nil {
		return DataMap{}, nil, err
	}
	raw, err := json.Marshal([]json.RawMessage{kraw, vraw})
	if err != nil {
		return DataMap{}, nil, err
	}
	if kdm.IsIdentity() && vdm.IsIdentity() {
		return DataMap{}, raw, nil
	}
	return DataMap{Tag: TagArray, Items: []DataMap{kdm, vdm}}, raw, nil
}

// baseFieldType lets packStruct/propsOf recognize and skip the embedded
// Base field by type rather than by name, so a renamed embedding still works.
var baseFieldType = reflect.TypeOf(Base{})

func packStruct(peer *BridgeState, guard *cycleGuard, rv reflect.Value, path string) (DataMap, json.RawMessage, error) {
	fields := reflect.VisibleFields(rv.Type())
	outFields := map[string]DataMap{}
	rawObj := map[string]json.RawMessage{}
	for _, f := range fields {
		if f.PkgPath != "" || len(f.Index) > 1 {
			continue
		}
		if f.Anonymous && f.Type == baseFieldType {
			continue
		}
		if f.Tag.Get("bridge") == "-" {
			continue
		}
		name := fieldWireName(f)
		if name == "-" {
			continue
		}
		fv := rv.FieldByIndex(f.Index)
		dm, raw, err := packValue(peer, guard, fv, path+"."+name)
		if err != nil {
			return DataMap{}, nil, err
		}
		rawObj[name] = raw
		if !dm.IsIdentity() {
			outFields[name] = dm
		}
	}
	rawBytes, err := json.Marshal(rawObj)
	if err != nil {
		return DataMap{}, nil, err
	}
	if len(outFields) == 0 {
		return DataMap{}, rawBytes, nil
	}
	return DataMap{Tag: TagFields, Fields: outFields}, rawBytes, nil
}

func fieldWireName(f reflect.StructField) string {
	if jtag := f.Tag.Get("json"); jtag != "" {
		name := strings.Split(jtag, ",")[0]
		if name != "" {
			return name
		}
	}
	return f.Name
}

func packError(peer *BridgeState, guard *cycleGuard, err error, path string) (DataMap, json.RawMessage, error) {
	pe := PackedError{
		Base:    errorClassOf(err),
		Message: err.Error(),
		Stack:   stackOf(err),
	}

	var extraDM map[string]DataMap
	if fe, ok := err.(FieldsError); ok {
		extra := fe.BridgeFields()
		if len(extra) > 0 {
			pe.Fields = make(map[string]json.RawMessage, len(extra))
			extraDM = map[string]DataMap{}
			for k, v := range extra {
				dm, raw, perr := packValue(peer, guard, reflect.ValueOf(v), path+".fields."+k)
				if perr != nil {
					return DataMap{}, nil, perr
				}
				pe.Fields[k] = raw
				if !dm.IsIdentity() {
					extraDM[k] = dm
				}
			}
		}
	}

	rawBytes, err2 := json.Marshal(pe)
	if err2 != nil {
		return DataMap{}, nil, err2
	}
	if len(extraDM) == 0 {
		return DataMap{Tag: TagError}, rawBytes, nil
	}
	return DataMap{Tag: TagError, Fields: map[string]DataMap{"fields": {Tag: TagFields, Fields: extraDM}}}, rawBytes, nil
}

func stackOf(err error) string {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}
	if st, ok := err.(stackTracer); ok {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	if cause := errors.Unwrap(err); cause != nil {
		return stackOf(cause)
	}
	return ""
}

// unpackValue reverses packValue given the DataMap that accompanied raw.
func unpackValue(peer *BridgeState, dm DataMap, raw json.RawMessage, path string) (interface{}, error) {
	switch dm.Tag {
	case TagNone:
		return unpackIdentity(raw)
	case TagUnsupp:
		return nil, wrapPath(ErrUnsupportedType, path)
	case TagUndefined:
		return nil, nil
	case TagDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, wrapPath(err, path)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, wrapPath(err, path)
		}
		return t, nil
	case TagError:
		return unpackError(peer, dm, raw, path)
	case TagObject:
		return unpackObject(peer, raw, path)
	case TagShared:
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, wrapPath(err, path)
		}
		v, ok := lookupSharedID(id)
		if !ok {
			return nil, wrapPath(ErrInvalidShareID, path)
		}
		return v, nil
	case TagBytes:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, wrapPath(err, path)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, wrapPath(err, path)
		}
		return b, nil
	case TagBuffer:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, wrapPath(err, path)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, wrapPath(err, path)
		}
		return RawBuffer(b), nil
	case TagMap:
		return unpackMap(peer, dm, raw, path)
	case TagSet:
		return unpackSet(peer, dm, raw, path)
	case TagArray:
		return unpackArray(peer, dm, raw, path)
	case TagFields:
		return unpackFields(peer, dm, raw, path)
	default:
		if peer != nil && peer.opts != nil && peer.opts.OnUnknownTag != nil {
			peer.opts.onUnknownTag(dm.Tag)
			return nil, nil
		}
		return nil, wrapPath(errors.Errorf("unknown data tag %q", dm.Tag), path)
	}
}

func unpackIdentity(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unpackObject(peer *BridgeState, raw json.RawMessage, path string) (interface{}, error) {
	var id *PackedId
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, wrapPath(err, path)
	}
	if id == nil {
		return nil, wrapPath(ErrClosedObject, path)
	}
	if peer == nil {
		return nil, wrapPath(ErrBridgeClosed, path)
	}
	obj, ok := peer.ResolveRemote(*id)
	if !ok {
		return nil, wrapPath(ErrInvalidPackedID, path)
	}
	return obj, nil
}

func unpackArray(peer *BridgeState, dm DataMap, raw json.RawMessage, path string) (interface{}, error) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, wrapPath(err, path)
	}
	out := make([]interface{}, len(rawItems))
	for i, r := range rawItems {
		var item DataMap
		if i < len(dm.Items) {
			item = dm.Items[i]
		}
		v, err := unpackValue(peer, item, r, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func unpackSet(peer *BridgeState, dm DataMap, raw json.RawMessage, path string) (interface{}, error) {
	v, err := unpackArray(peer, dm, raw, path)
	if err != nil {
		return nil, err
	}
	return Set(v.([]interface{})), nil
}

func unpackMap(peer *BridgeState, dm DataMap, raw json.RawMessage, path string) (interface{}, error) {
	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, wrapPath(err, path)
	}
	out := make(map[interface{}]interface{}, len(rawItems))
	for i, r := range rawItems {
		var pairDM DataMap
		if i < len(dm.Items) {
			pairDM = dm.Items[i]
		}
		var rawPair []json.RawMessage
		if err := json.Unmarshal(r, &rawPair); err != nil || len(rawPair) != 2 {
			return nil, wrapPath(errors.Errorf("malformed map entry at index %d", i), path)
		}
		var kdm, vdm DataMap
		if len(pairDM.Items) == 2 {
			kdm, vdm = pairDM.Items[0], pairDM.Items[1]
		}
		k, err := unpackValue(peer, kdm, rawPair[0], fmt.Sprintf("%s[%d].key", path, i))
		if err != nil {
			return nil, err
		}
		v, err := unpackValue(peer, vdm, rawPair[1], fmt.Sprintf("%s[%d].value", path, i))
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func unpackFields(peer *BridgeState, dm DataMap, raw json.RawMessage, path string) (interface{}, error) {
	var rawObj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rawObj); err != nil {
		return nil, wrapPath(err, path)
	}
	out := make(map[string]interface{}, len(rawObj))
	for k, r := range rawObj {
		fieldDM := dm.Fields[k]
		v, err := unpackValue(peer, fieldDM, r, path+"."+k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func unpackError(peer *BridgeState, dm DataMap, raw json.RawMessage, path string) (interface{}, error) {
	var pe PackedError
	if err := json.Unmarshal(raw, &pe); err != nil {
		return nil, wrapPath(err, path)
	}
	var extra map[string]interface{}
	if len(pe.Fields) > 0 {
		extraDM := dm.Fields["fields"]
		extra = make(map[string]interface{}, len(pe.Fields))
		for k, r := range pe.Fields {
			v, err := unpackValue(peer, extraDM.Fields[k], r, path+".fields."+k)
			if err != nil {
				return nil, err
			}
			extra[k] = v
		}
	}

	base := constructError(pe.Base, pe.Message)
	if len(extra) == 0 && pe.Stack == "" {
		return base, nil
	}
	return &UnpackedError{base: base, stack: pe.Stack, fields: extra}, nil
}
