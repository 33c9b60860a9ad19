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

// Package audit is an optional lifecycle trail for bridged objects: one
// entry per local id, recording when it was created and (once it happens)
// when it was closed. The bridge package does not use a Store; code that
// wants a durable record of what it has ever exposed (for post-mortem
// debugging a peer that vanished mid-session) calls one itself, as the
// bridged demo Room does when a Session joins or leaves.
//
// Three interchangeable backends are provided, mirroring the teacher's own
// swappable embedded-KV/SQL storage layer: Leveldb and Badger for an
// embedded, dependency-free deployment, and SQL for a deployment that
// already centralizes its operational data in MySQL.
package audit

import "time"

// Entry is one object's recorded lifecycle.
type Entry struct {
	LocalID   string
	TypeName  string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// IsClosed reports whether the entry has a recorded close time.
func (e Entry) IsClosed() bool {
	return e.ClosedAt != nil
}

// Store persists the created/closed trail for bridged objects. Implementations
// need not be safe for concurrent use from multiple goroutines unless stated
// otherwise; each of the three provided backends is.
type Store interface {
	// RecordCreated records a new entry. Calling it twice for the same id
	// overwrites the first entry's TypeName/CreatedAt.
	RecordCreated(id, typeName string, at time.Time) error

	// RecordClosed marks an existing entry closed. It is a no-op, not an
	// error, if id was never recorded created — a Store is advisory, and a
	// transport shouldn't have to special-case a missed RecordCreated call.
	RecordClosed(id string, at time.Time) error

	// List returns every recorded entry, in no particular order.
	List() ([]Entry, error)

	Close() error
}
