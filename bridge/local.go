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
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Bridge is the transport-agnostic connection between a local object graph
// and one remote peer: a thin, typed handle onto a BridgeState. A process
// that talks to several peers (several worker tabs, several child
// processes) makes one Bridge per peer — objects bridgified once are cheap
// to share across any number of them, since their magicRecord's bridges set
// is what fans a local Emit/Update out to each.
//
// Transports (transport/websocket, transport/kafka, transport/redispubsub)
// own the actual byte stream; a Bridge only needs two things wired to it: a
// send func to hand outbound Messages to the transport, and a call to
// HandleMessage for every inbound one.
type Bridge struct {
	state *BridgeState
}

// NewBridge creates a Bridge that will announce root as its root object to
// the peer on the first flush. A non-nil root must already be bridgeable
// (see BridgifyClass/BridgifyObject); a nil root announces nothing, for a
// peer that only uses the other side's root. send is invoked — possibly from a background
// flush timer goroutine — every time the bridge has an outbound Message
// ready; it is responsible for framing and delivering it to the actual
// channel. This is the Go rendition of spec section 6's `new Bridge(opts)`
// plus an immediate `sendRoot(obj)` bundled in for convenience.
func NewBridge(root interface{}, send func(Message) error, opts *Options) (*Bridge, error) {
	state := NewBridgeState(send, opts)
	b := &Bridge{state: state}
	if root != nil {
		if err := state.SendRoot(root); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// LocalBridgeOptions configures MakeLocalBridge's in-process peer pair.
type LocalBridgeOptions struct {
	// CloneMessage transforms a Message before it crosses from the server
	// peer to the client peer. Defaults to a JSON marshal/unmarshal round
	// trip: both peers run in the same process, so without this, they would
	// alias the exact slices and maps a flush just packed, which would mask
	// bugs that only show up once a real channel forces a copy.
	CloneMessage func(Message) (Message, error)
	// FlushInterval forwards to both paired peers' Options.FlushInterval.
	FlushInterval time.Duration
	// HideProperties forwards to both paired peers' Options.HideProperties.
	HideProperties []string
}

func cloneMessageViaJSON(msg Message) (Message, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	var clone Message
	if err := json.Unmarshal(raw, &clone); err != nil {
		return Message{}, err
	}
	return clone, nil
}

// MakeLocalBridge is the in-process testing/embedding helper spec section 6
// describes: it pairs a server BridgeState (sharing obj as its root) with a
// client BridgeState entirely in memory — no transport, no real byte
// channel — packs obj through the server peer, hands the envelope to the
// client peer, runs both peers' flushes, and returns the resulting Proxy
// for obj directly. Use NewBridge and a transport package instead when
// bridging an actual channel.
func MakeLocalBridge(obj interface{}, opts *LocalBridgeOptions) (*Proxy, error) {
	clone := cloneMessageViaJSON
	stateOpts := &Options{}
	if opts != nil {
		if opts.CloneMessage != nil {
			clone = opts.CloneMessage
		}
		stateOpts.FlushInterval = opts.FlushInterval
		stateOpts.HideProperties = opts.HideProperties
	}

	var server, client *BridgeState
	server = NewBridgeState(func(msg Message) error {
		cloned, err := clone(msg)
		if err != nil {
			return err
		}
		return client.HandleMessage(cloned)
	}, stateOpts)
	client = NewBridgeState(func(msg Message) error {
		cloned, err := clone(msg)
		if err != nil {
			return err
		}
		return server.HandleMessage(cloned)
	}, stateOpts)

	if err := server.SendRoot(obj); err != nil {
		return nil, err
	}
	server.SendNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	root, err := client.GetRoot(ctx)
	if err != nil {
		return nil, err
	}
	client.SendNow()
	p, ok := root.(*Proxy)
	if !ok {
		return nil, fmt.Errorf("objectbridge: local bridge root is %T, not a Proxy", root)
	}
	return p, nil
}

// PeerID is this bridge's locally generated identifier for its peer
// connection, useful for logging and for transports that multiplex several
// bridges over one underlying socket.
func (b *Bridge) PeerID() string { return b.state.PeerID }

// GetRoot blocks until the peer's root object has been announced (normally
// immediately after the connection opens) and returns a Proxy for it.
func (b *Bridge) GetRoot(ctx context.Context) (interface{}, error) {
	return b.state.GetRoot(ctx)
}

// SendRoot (re-)announces obj as this bridge's root, for transports that
// want to defer the announcement past construction or replace the root
// after a reconnect.
func (b *Bridge) SendRoot(obj interface{}) error { return b.state.SendRoot(obj) }

// HandleMessage applies one inbound Message — the transport's receive loop
// calls this for every frame it decodes off the wire.
func (b *Bridge) HandleMessage(msg Message) error { return b.state.HandleMessage(msg) }

// SendNow flushes any pending outbound state immediately, bypassing the
// flush-interval batching delay. Transports call this before going idle, so
// a dirty mark made just before a natural pause isn't held hostage by the
// timer.
func (b *Bridge) SendNow() { b.state.SendNow() }

// Wakeup flushes any queued outbound state immediately, the same as
// SendNow; when nothing is queued it sends nothing.
func (b *Bridge) Wakeup() { b.state.Wakeup() }

// Close tears the bridge down: every object it shared with the peer is
// unregistered, and every proxy for the peer's objects is closed locally.
func (b *Bridge) Close() error { return b.state.Close() }
