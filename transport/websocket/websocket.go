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

// Package websocket carries a Bridge's Messages over a single duplex
// websocket connection: one Message per frame, optionally snappy-compressed.
// It is the point-to-point transport of the three in SPEC_FULL.md's domain
// stack, and the one a browser tab or a single long-lived peer process would
// pick.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/clevergo/websocket"
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/objectbridge/objectbridge/bridge"
	"github.com/objectbridge/objectbridge/internal/log"
)

var wsLogger = log.NewModuleLogger(log.ModuleTransport)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one end of a websocket-carried bridge connection: a socket paired
// with the Bridge whose Messages it frames.
type Conn struct {
	ws       *websocket.Conn
	Bridge   *bridge.Bridge
	compress bool

	writeMu sync.Mutex
}

// Option tweaks how a Conn frames messages.
type Option func(*Conn)

// WithCompression snappy-compresses every outbound frame and expects every
// inbound one to be compressed the same way. Both ends of a connection must
// agree; there is no negotiation.
func WithCompression() Option {
	return func(c *Conn) { c.compress = true }
}

// Accept upgrades an inbound HTTP request to a websocket and wires it to a
// freshly created local bridge rooted at root.
func Accept(w http.ResponseWriter, r *http.Request, root interface{}, opts *bridge.Options, wsOpts ...Option) (*Conn, error) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return newConn(wsConn, root, opts, wsOpts...)
}

// Dial opens a websocket connection to url and wires it to a freshly created
// local bridge rooted at root.
func Dial(url string, root interface{}, opts *bridge.Options, wsOpts ...Option) (*Conn, error) {
	dialer := websocket.Dialer{}
	wsConn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return newConn(wsConn, root, opts, wsOpts...)
}

func newConn(wsConn *websocket.Conn, root interface{}, opts *bridge.Options, wsOpts ...Option) (*Conn, error) {
	c := &Conn{ws: wsConn}
	for _, o := range wsOpts {
		o(c)
	}
	b, err := bridge.NewBridge(root, c.send, opts)
	if err != nil {
		_ = wsConn.Close()
		return nil, err
	}
	c.Bridge = b
	return c, nil
}

func (c *Conn) send(msg bridge.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.WithStack(err)
	}
	if c.compress {
		raw = snappy.Encode(nil, raw)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, raw)
}

// Serve runs the read loop until the connection closes or ctx-equivalent
// cancellation happens via Close; every inbound frame is decoded into a
// Message and handed to the Bridge. Serve blocks, so callers normally run it
// in its own goroutine.
func (c *Conn) Serve() error {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return errors.WithStack(err)
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if c.compress {
			decoded, derr := snappy.Decode(nil, data)
			if derr != nil {
				wsLogger.Warn("dropping frame with bad snappy payload", "err", derr)
				continue
			}
			data = decoded
		}
		var msg bridge.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			wsLogger.Warn("dropping malformed frame", "err", err)
			continue
		}
		if err := c.Bridge.HandleMessage(msg); err != nil {
			wsLogger.Warn("bridge rejected inbound message", "err", err)
		}
	}
}

// Close flushes any pending outbound state and closes the underlying socket.
func (c *Conn) Close() error {
	c.Bridge.SendNow()
	bridgeErr := c.Bridge.Close()
	wsErr := c.ws.Close()
	if bridgeErr != nil {
		return bridgeErr
	}
	return wsErr
}
