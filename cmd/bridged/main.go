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

// Command bridged demonstrates the objectbridge transports end to end: a
// "serve" mode exposes a small chat Room as the root of a websocket bridge,
// and a "console" mode dials that server and gives an interactive REPL over
// the resulting Proxy.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/julienschmidt/httprouter"
	colorable "github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/cli"

	"github.com/objectbridge/objectbridge/internal/audit"
	"github.com/objectbridge/objectbridge/internal/log"
	"github.com/objectbridge/objectbridge/transport/websocket"
)

var (
	logger     = log.NewModuleLogger(log.ModuleCmd)
	roomLogger = log.NewModuleLogger(log.ModuleCmd)
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "HTTP/websocket listen address",
		Value: ":8765",
	}
	metricsFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "Prometheus /metrics listen address; empty disables metrics",
	}
	compressFlag = cli.BoolFlag{
		Name:  "compress",
		Usage: "snappy-compress websocket frames",
	}
	auditBackendFlag = cli.StringFlag{
		Name:  "audit-backend",
		Usage: `lifecycle audit backend: "", "leveldb", "badger", or "mysql"`,
	}
	auditDSNFlag = cli.StringFlag{
		Name:  "audit-dsn",
		Usage: "directory (leveldb/badger) or DSN (mysql) for the audit backend",
	}
	urlFlag = cli.StringFlag{
		Name:  "url",
		Usage: "websocket URL of a bridged server to attach to",
		Value: "ws://127.0.0.1:8765/bridge",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "bridged"
	app.Usage = "objectbridge demo daemon"
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "host the demo Room over websocket",
			Flags:  []cli.Flag{configFlag, listenFlag, metricsFlag, compressFlag, auditBackendFlag, auditDSNFlag},
			Action: runServe,
		},
		{
			Name:   "console",
			Usage:  "attach an interactive console to a running server",
			Flags:  []cli.Flag{urlFlag},
			Action: runConsole,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadedConfig(ctx *cli.Context) (config, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(listenFlag.Name) {
		cfg.ListenAddr = ctx.String(listenFlag.Name)
	}
	if ctx.IsSet(metricsFlag.Name) {
		cfg.MetricsAddr = ctx.String(metricsFlag.Name)
	}
	if ctx.IsSet(compressFlag.Name) {
		cfg.Compress = ctx.Bool(compressFlag.Name)
	}
	if ctx.IsSet(auditBackendFlag.Name) {
		cfg.AuditBackend = ctx.String(auditBackendFlag.Name)
	}
	if ctx.IsSet(auditDSNFlag.Name) {
		cfg.AuditDSN = ctx.String(auditDSNFlag.Name)
	}
	return cfg, nil
}

func openAuditStore(cfg config) (audit.Store, error) {
	switch cfg.AuditBackend {
	case "":
		return nil, nil
	case "leveldb":
		return audit.OpenLeveldb(cfg.AuditDSN)
	case "badger":
		return audit.OpenBadger(cfg.AuditDSN)
	case "mysql":
		return audit.OpenMySQL(cfg.AuditDSN)
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.AuditBackend)
	}
}

func runServe(ctx *cli.Context) error {
	cfg, err := loadedConfig(ctx)
	if err != nil {
		return err
	}

	store, err := openAuditStore(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	var metrics *roomMetrics
	if cfg.MetricsAddr != "" {
		metrics = newRoomMetrics()
		go serveMetrics(cfg.MetricsAddr)
	}

	var wsOpts []websocket.Option
	if cfg.Compress {
		wsOpts = append(wsOpts, websocket.WithCompression())
	}

	router := httprouter.New()
	router.GET("/bridge", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		room := NewRoom(store, metrics)
		metrics.incConnect()
		conn, err := websocket.Accept(w, r, room, nil, wsOpts...)
		if err != nil {
			logger.Warn("websocket accept failed", "err", err)
			return
		}
		green(color.FgGreen, "peer connected")
		if err := conn.Serve(); err != nil {
			logger.Info("connection closed", "err", err)
		}
	})

	handler := cors.New(cors.Options{AllowedOrigins: []string{"*"}}).Handler(router)

	green(color.FgCyan, "bridged listening on "+cfg.ListenAddr)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("shutting down")
		_ = srv.Close()
	}()

	err = srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "err", err)
	}
}

func green(attr color.Attribute, msg string) {
	color.New(attr).Fprintln(colorable.NewColorableStdout(), msg)
}
