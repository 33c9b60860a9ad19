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

// Set is the Go stand-in for a JS Set: an ordered collection of members,
// packed under DataMap tag "S" (TagSet) rather than as a plain array, so it
// unpacks back into a Set instead of a slice.
type Set []interface{}

// RawBuffer is the Go stand-in for a JS ArrayBuffer: packed under DataMap
// tag "ab" (TagBuffer), distinct from a byte slice's "u8" tag, so a peer
// that cares about the raw-buffer/typed-array distinction can preserve it.
// Plain []byte values always pack as TagBytes ("u8").
type RawBuffer []byte

// FieldsError lets a custom error type contribute additional own
// enumerable properties to its packed form, mirroring spec section 4.2's
// "all own enumerable props, recursively packed" for errors.
type FieldsError interface {
	error
	BridgeFields() map[string]interface{}
}

// UnpackedError is what UnpackData produces for an 'e'-tagged envelope that
// carries a stack or extra fields: it keeps the stack and extra fields, and
// Unwrap returns the error constructed for the envelope's base class and
// message. An envelope with neither unpacks to that constructed error
// directly.
type UnpackedError struct {
	base   error
	stack  string
	fields map[string]interface{}
}

func (e *UnpackedError) Error() string                    { return e.base.Error() }
func (e *UnpackedError) Unwrap() error                     { return e.base }
func (e *UnpackedError) Stack() string                     { return e.stack }
func (e *UnpackedError) ExtraFields() map[string]interface{} { return e.fields }
