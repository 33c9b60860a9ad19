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

	"github.com/pkg/errors"
)

// Sentinel errors, declared as package vars the way node/sc/bridgepeer.go
// declares errClosed/errAlreadyRegistered/errNotRegistered.
var (
	ErrNotBridgeable    = errors.New("objectbridge: value is not bridgeable")
	ErrDuplicateShareID = errors.New("objectbridge: share id already registered")
	ErrInvalidShareID   = errors.New("objectbridge: unknown share id")
	ErrClosedProxy      = errors.New("objectbridge: cannot call method of closed proxy")
	ErrClosedObject     = errors.New("objectbridge: closed bridge object")
	ErrInvalidPackedID  = errors.New("objectbridge: invalid packed id")
	ErrNoSuchMethod     = errors.New("objectbridge: not a function")
	ErrUnsupportedType  = errors.New("objectbridge: unsupported type")
	ErrInvalidCallID    = errors.New("objectbridge: unknown call id")
	ErrInvalidLocalID   = errors.New("objectbridge: unknown local id")
	ErrBridgeClosed     = errors.New("objectbridge: bridge is closed")
)

// PathError decorates a codec error with the JSON-pointer-ish path the spec
// calls for ("Closed bridge object at <path>", InvalidPackedId with path),
// via pkg/errors so the original sentinel is still matchable with
// errors.Is/errors.Cause.
type PathError struct {
	cause error
	Path  string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s at %s", e.cause.Error(), e.Path)
}

func (e *PathError) Unwrap() error { return e.cause }
func (e *PathError) Cause() error  { return e.cause }

func wrapPath(cause error, path string) error {
	return errors.WithStack(&PathError{cause: cause, Path: path})
}

// ClosedMethodError is returned synchronously by a proxy method stub when
// the proxy has already been closed, and carries the method name so the
// message matches spec section 4.3 verbatim:
// "Cannot call method 'N' of closed proxy".
type ClosedMethodError struct {
	Method string
}

func (e *ClosedMethodError) Error() string {
	return fmt.Sprintf("Cannot call method '%s' of closed proxy", e.Method)
}

func (e *ClosedMethodError) Unwrap() error { return ErrClosedProxy }
