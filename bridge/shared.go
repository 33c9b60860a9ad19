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
	"sync"
)

// sharedTable is the process-wide registry of values that round-trip as
// their registered name instead of as data (spec section 3's "Shared
// constant"). Append-only after initialization: a duplicate name is a
// configuration error, never resolved at runtime.
var (
	sharedMu    sync.RWMutex
	sharedByID  = map[string]interface{}{}
	sharedByVal = map[interface{}]string{}
)

// ShareData registers values under globally unique names "<namespace>.<key>"
// (namespace defaults to "" producing a bare "<key>" id, matching the
// optional namespace argument in spec section 4.1). Re-registering the same
// name with an identical value is a no-op; re-registering with a different
// value fails with ErrDuplicateShareID.
func ShareData(table map[string]interface{}, namespace string) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	for key, val := range table {
		id := key
		if namespace != "" {
			id = fmt.Sprintf("%s.%s", namespace, key)
		}
		if existing, ok := sharedByID[id]; ok {
			if existing == val {
				continue
			}
			return wrapPath(ErrDuplicateShareID, id)
		}
		sharedByID[id] = val
		sharedByVal[val] = id
	}
	return nil
}

func lookupSharedID(id string) (interface{}, bool) {
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	v, ok := sharedByID[id]
	return v, ok
}

func lookupSharedValue(val interface{}) (id string, ok bool) {
	// Unhashable values (slices, maps, funcs) panic as map keys; none of
	// them can be a registered shared constant, so report a miss.
	defer func() {
		if recover() != nil {
			id, ok = "", false
		}
	}()
	sharedMu.RLock()
	defer sharedMu.RUnlock()
	id, ok = sharedByVal[val]
	return id, ok
}

// subscriptionHook is the type of OnMethod/WatchMethod: a shared constant
// standing in for a function value, since spec section 1 excludes remoting
// arbitrary functions. The proxy installs the *same* local constant under
// the same name, so subscription setup never crosses the wire — only the
// eventual event/change delivery does (spec section 4.5).
type subscriptionHook struct {
	kind string // "on" or "watch"
}

// OnMethod and WatchMethod are the two shared constants registered under
// the "objectbridge" namespace for subscription hooks. They do not appear in
// a create.on list, which carries event names; a Proxy offers On and Watch
// as methods of its own (see Base's doc comment).
var (
	OnMethod    = &subscriptionHook{kind: "on"}
	WatchMethod = &subscriptionHook{kind: "watch"}
)

func init() {
	_ = ShareData(map[string]interface{}{
		"onMethod":    OnMethod,
		"watchMethod": WatchMethod,
	}, "objectbridge")
}
