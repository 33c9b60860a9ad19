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
	"fmt"
	"reflect"
)

var errorIfc = reflect.TypeOf((*error)(nil)).Elem()

// callMethod invokes name on obj with packedArgs decoded per the method's
// declared parameter types, and packs whatever it returns (or panics with,
// or errors with) into a single return envelope. Grounded in reflect.Value
// method dispatch the same way the standard library's net/rpc resolves a
// registered service method by name; no example repo in the corpus ships a
// more specific dynamic-arity RPC dispatcher to generalize from instead.
func callMethod(peer *BridgeState, obj interface{}, name string, packedArgs []PackedData) PackedData {
	if baseMethodNames[name] {
		return PackThrow(peer, wrapPath(ErrNoSuchMethod, name))
	}
	rv := reflect.ValueOf(obj)
	m := rv.MethodByName(name)
	if !m.IsValid() {
		return PackThrow(peer, wrapPath(ErrNoSuchMethod, name))
	}
	mt := m.Type()

	in := make([]reflect.Value, 0, len(packedArgs))
	for i, pd := range packedArgs {
		val, err := UnpackData(peer, pd, fmt.Sprintf("%s.arg[%d]", name, i))
		if err != nil {
			return PackThrow(peer, err)
		}
		in = append(in, coerceArg(val, paramTypeAt(mt, i)))
	}

	out, callErr := invokeSafely(m, in)
	if callErr != nil {
		return PackThrow(peer, callErr)
	}
	return packMethodResult(peer, out)
}

func paramTypeAt(mt reflect.Type, i int) reflect.Type {
	n := mt.NumIn()
	if n == 0 {
		return nil
	}
	if mt.IsVariadic() && i >= n-1 {
		return mt.In(n - 1).Elem()
	}
	if i < n {
		return mt.In(i)
	}
	return nil
}

func coerceArg(val interface{}, paramType reflect.Type) reflect.Value {
	if val == nil {
		if paramType == nil {
			return reflect.ValueOf(&val).Elem()
		}
		return reflect.Zero(paramType)
	}
	rv := reflect.ValueOf(val)
	if paramType != nil && rv.Type() != paramType && rv.Type().ConvertibleTo(paramType) {
		return rv.Convert(paramType)
	}
	return rv
}

func invokeSafely(m reflect.Value, in []reflect.Value) (out []reflect.Value, callErr error) {
	defer func() {
		if r := recover(); r != nil {
			callErr = toError(r)
		}
	}()
	out = m.Call(in)
	return out, nil
}

func packMethodResult(peer *BridgeState, out []reflect.Value) PackedData {
	switch len(out) {
	case 0:
		return PackData(peer, nil)
	case 1:
		if out[0].Type().Implements(errorIfc) {
			if out[0].IsNil() {
				return PackData(peer, nil)
			}
			return PackThrow(peer, out[0].Interface().(error))
		}
		return PackData(peer, out[0].Interface())
	default:
		last := out[len(out)-1]
		if last.Type().Implements(errorIfc) {
			if !last.IsNil() {
				return PackThrow(peer, last.Interface().(error))
			}
			if len(out) == 2 {
				return PackData(peer, out[0].Interface())
			}
			vals := make([]interface{}, len(out)-1)
			for i := 0; i < len(out)-1; i++ {
				vals[i] = out[i].Interface()
			}
			return PackData(peer, vals)
		}
		vals := make([]interface{}, len(out))
		for i := range out {
			vals[i] = out[i].Interface()
		}
		return PackData(peer, vals)
	}
}
