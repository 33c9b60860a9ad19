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

package main

import (
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/objectbridge/objectbridge/bridge"
	"github.com/objectbridge/objectbridge/internal/audit"
)

// Room is the demo root object bridged's serve command exposes: a tiny
// chat room whose Sessions property and "message" event are what exercise
// the bridge's property-diffing and event-fan-out paths end to end.
type Room struct {
	bridge.Base

	mu       sync.Mutex
	sessions map[string]*Session

	Sessions []string `json:"sessions"`

	store   audit.Store  // nil if the serve command ran without -audit-backend
	metrics *roomMetrics // nil if the serve command ran without -metrics-addr
}

// NewRoom constructs a Room ready to be passed as the root object to a
// transport's Connect/Accept/Dial.
func NewRoom(store audit.Store, metrics *roomMetrics) *Room {
	r := &Room{sessions: make(map[string]*Session), store: store, metrics: metrics}
	bridge.InitBase(&r.Base, r)
	return r
}

// Join creates a new Session under this room and returns it; the returned
// value crosses the wire as a freshly Created proxy, not a snapshot.
func (r *Room) Join(name string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewV4().String()
	s := newSession(r, id, name)
	r.sessions[id] = s
	r.refreshSessionsLocked()
	r.metrics.incJoin()
	r.metrics.setActive(len(r.sessions))

	if r.store != nil {
		if err := r.store.RecordCreated(id, "Session", time.Now()); err != nil {
			roomLogger.Warn("audit RecordCreated failed", "err", err, "id", id)
		}
	}
	return s
}

// Broadcast emits a "message" event to every peer watching this room.
func (r *Room) Broadcast(from, text string) {
	r.Emit("message", map[string]string{"from": from, "text": text})
}

func (r *Room) leave(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, s.id)
	r.refreshSessionsLocked()
	r.metrics.setActive(len(r.sessions))
	s.Close()

	if r.store != nil {
		if err := r.store.RecordClosed(s.id, time.Now()); err != nil {
			roomLogger.Warn("audit RecordClosed failed", "err", err, "id", s.id)
		}
	}
}

// refreshSessionsLocked must be called with r.mu held.
func (r *Room) refreshSessionsLocked() {
	names := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		names = append(names, s.Name)
	}
	r.Sessions = names
	r.Update("sessions")
}

// Session is a per-participant child object. Closing it (via Leave) detaches
// it from its Room; the remote proxy receives a Closed entry the next flush.
type Session struct {
	bridge.Base

	id   string
	room *Room

	Name string `json:"name"`
}

func newSession(room *Room, id, name string) *Session {
	s := &Session{id: id, room: room, Name: name}
	bridge.InitBase(&s.Base, s)
	return s
}

// Say broadcasts text to the room under this session's name.
func (s *Session) Say(text string) {
	s.room.Broadcast(s.Name, text)
}

// Leave removes this session from its room and closes it.
func (s *Session) Leave() {
	s.room.leave(s)
}
