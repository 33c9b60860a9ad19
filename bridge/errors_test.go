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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathErrorMessageAndUnwrap(t *testing.T) {
	err := wrapPath(ErrNoSuchMethod, "root.child")
	assert.Contains(t, err.Error(), "root.child")
	assert.True(t, errors.Is(err, ErrNoSuchMethod))
}

func TestClosedMethodErrorMessage(t *testing.T) {
	err := &ClosedMethodError{Method: "Increment"}
	assert.Equal(t, "Cannot call method 'Increment' of closed proxy", err.Error())
	assert.True(t, errors.Is(err, ErrClosedProxy))
}
