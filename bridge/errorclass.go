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

// errorClasses is the fixed, closed set of error base-class names the
// codec round-trips by name, per spec section 4.2's PackedError grammar.
// Go has no such exception hierarchy, so each name maps to a small named
// error type, letting an objectbridge-to-objectbridge round trip still
// produce an errors.As-matchable type instead of only a generic error.
var (
	errorClassMu sync.RWMutex
	errorClasses = map[string]func(msg string) error{}
)

// namedError is the default constructor used for every one of the six
// fixed names unless the caller overrides it with RegisterErrorClass.
type namedError struct {
	class string
	msg   string
}

func (e *namedError) Error() string { return e.msg }

func init() {
	for _, class := range []string{"EvalError", "RangeError", "ReferenceError", "SyntaxError", "TypeError", "URIError"} {
		class := class
		errorClasses[class] = func(msg string) error { return &namedError{class: class, msg: msg} }
	}
}

// RegisterErrorClass overrides the constructor used when unpacking a
// PackedError whose base matches class. class must be one of the six fixed
// names from spec section 4.2; anything else is ignored (unpack falls back
// to a generic error for unrecognized base names, per spec: "else null").
func RegisterErrorClass(class string, ctor func(msg string) error) {
	errorClassMu.Lock()
	defer errorClassMu.Unlock()
	if _, ok := errorClasses[class]; !ok {
		return
	}
	errorClasses[class] = ctor
}

func errorClassOf(err error) string {
	if ne, ok := err.(*namedError); ok {
		return ne.class
	}
	return ""
}

func constructError(class, msg string) error {
	errorClassMu.RLock()
	ctor, ok := errorClasses[class]
	errorClassMu.RUnlock()
	if !ok {
		return &namedError{class: "", msg: msg}
	}
	return ctor(msg)
}
