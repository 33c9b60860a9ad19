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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/urfave/cli"

	"github.com/objectbridge/objectbridge/bridge"
	"github.com/objectbridge/objectbridge/transport/websocket"
)

// runConsole dials a running bridged server and drops into a liner REPL
// over the resulting root Proxy. Supported lines:
//
//	join <name>      -> calls Join on the room, keeps the returned Session
//	say <text>       -> calls Say on the joined Session
//	leave            -> calls Leave on the joined Session
//	get <prop>       -> reads a property off the room
func runConsole(ctx *cli.Context) error {
	conn, err := websocket.Dial(ctx.String(urlFlag.Name), nil, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		if err := conn.Serve(); err != nil {
			logger.Info("console connection closed", "err", err)
		}
	}()

	rootCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	root, err := conn.Bridge.GetRoot(rootCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("waiting for server root: %w", err)
	}
	room, ok := root.(*bridge.Proxy)
	if !ok {
		return fmt.Errorf("unexpected root type %T", root)
	}
	room.On("message", func(payload interface{}) error {
		fmt.Printf("\n< %v\n> ", payload)
		return nil
	})

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	var session *bridge.Proxy
	for {
		input, err := line.Prompt("> ")
		if err != nil {
			return nil
		}
		line.AppendHistory(input)

		fields := strings.SplitN(strings.TrimSpace(input), " ", 2)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}

		callCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		switch fields[0] {
		case "join":
			name := arg(fields)
			v, err := room.Call(callCtx, "Join", name)
			if err != nil {
				fmt.Println("error:", err)
			} else if p, ok := v.(*bridge.Proxy); ok {
				session = p
				fmt.Println("joined as", name)
			}
		case "say":
			if session == nil {
				fmt.Println("join first")
			} else if _, err := session.Call(callCtx, "Say", arg(fields)); err != nil {
				fmt.Println("error:", err)
			}
		case "leave":
			if session == nil {
				fmt.Println("join first")
			} else if _, err := session.Call(callCtx, "Leave"); err != nil {
				fmt.Println("error:", err)
			} else {
				session = nil
			}
		case "get":
			v, err := room.Get(arg(fields))
			if err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Printf("%v\n", v)
			}
		case "quit", "exit":
			cancel()
			return nil
		default:
			fmt.Println("commands: join <name>, say <text>, leave, get <prop>, quit")
		}
		cancel()
	}
}

func arg(fields []string) string {
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
