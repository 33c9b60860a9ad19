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

// Package redispubsub carries a Bridge's Messages over a pair of Redis
// pub/sub channels. Unlike transport/kafka's retained log, a pub/sub channel
// drops anything published while no subscriber is listening — this is the
// fan-out transport of SPEC_FULL.md's domain stack, meant for the case where
// one root object's changes/events should reach any number of currently
// connected observers rather than exactly one reconnecting peer.
package redispubsub

import (
	"encoding/json"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"

	"github.com/objectbridge/objectbridge/bridge"
	"github.com/objectbridge/objectbridge/internal/log"
)

var redisLogger = log.NewModuleLogger(log.ModuleTransport)

// Link is one bridge endpoint carried over a pair of Redis pub/sub channels:
// OutChannel is published to, InChannel is subscribed from.
type Link struct {
	Bridge *bridge.Bridge

	client     *redis.Client
	pubsub     *redis.PubSub
	outChannel string
}

// Connect subscribes to inChannel and wires outChannel/inChannel to a
// freshly created local bridge rooted at root. client is not closed by
// Link.Close — callers that own the client's lifecycle elsewhere keep it.
func Connect(client *redis.Client, outChannel, inChannel string, root interface{}, opts *bridge.Options) (*Link, error) {
	pubsub := client.Subscribe(inChannel)
	if _, err := pubsub.Receive(); err != nil {
		_ = pubsub.Close()
		return nil, errors.WithStack(err)
	}

	l := &Link{client: client, pubsub: pubsub, outChannel: outChannel}
	b, err := bridge.NewBridge(root, l.send, opts)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	l.Bridge = b
	return l, nil
}

func (l *Link) send(msg bridge.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(l.client.Publish(l.outChannel, raw).Err())
}

// Serve drains the subscription's channel, decoding each payload into a
// bridge.Message, until the subscription is closed. Blocks; run it in its
// own goroutine.
func (l *Link) Serve() {
	for msg := range l.pubsub.Channel() {
		var decoded bridge.Message
		if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
			redisLogger.Warn("dropping malformed pubsub message", "err", err, "channel", msg.Channel)
			continue
		}
		if err := l.Bridge.HandleMessage(decoded); err != nil {
			redisLogger.Warn("bridge rejected inbound message", "err", err)
		}
	}
}

// Close flushes pending outbound state, closes the bridge, and unsubscribes.
func (l *Link) Close() error {
	l.Bridge.SendNow()
	bridgeErr := l.Bridge.Close()
	subErr := l.pubsub.Close()
	if bridgeErr != nil {
		return bridgeErr
	}
	return subErr
}
