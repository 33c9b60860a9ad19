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

// Package log provides the module-keyed structured logger used throughout
// objectbridge, in the same `logger.Info("msg", "k", v)` calling convention
// the teacher codebase uses everywhere, backed by zap instead of a
// hand-rolled handler chain.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module identifies the subsystem a logger speaks for, mirroring klaytn's
// log.NodeSC / log.Common / log.APIDebug module constants.
type Module string

const (
	ModuleBridge    Module = "bridge"
	ModuleState     Module = "bridge.state"
	ModuleCodec     Module = "bridge.codec"
	ModuleMagic     Module = "bridge.magic"
	ModuleTransport Module = "transport"
	ModuleAudit     Module = "audit"
	ModuleCmd       Module = "cmd"
)

var (
	baseOnce sync.Once
	base     *zap.SugaredLogger
)

func baseLogger() *zap.SugaredLogger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(cfg),
			zapcore.AddSync(os.Stderr),
			zap.NewAtomicLevelAt(zapcore.InfoLevel),
		)
		base = zap.New(core).Sugar()
	})
	return base
}

// Logger is the handle code reaches for: `var logger = log.NewModuleLogger(log.ModuleState)`.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewModuleLogger returns a Logger tagged with the given module name, the
// same one-call-per-package-var idiom as klaytn's log.NewModuleLogger.
func NewModuleLogger(m Module) *Logger {
	return &Logger{sugar: baseLogger().With("module", string(m))}
}

// SetOutput lets a host application redirect objectbridge output, e.g. into
// its own sink, without the core needing to know about that sink's shape.
// It applies to loggers created by later NewModuleLogger calls; loggers
// already created, including the package-level ones, keep their sink.
func SetOutput(sugar *zap.SugaredLogger) {
	baseOnce.Do(func() {}) // ensure baseOnce is consumed so later NewModuleLogger calls don't reset it
	base = sugar
}

func kv(args []interface{}) []interface{} { return args }

func (l *Logger) Trace(msg string, kvs ...interface{}) { l.sugar.Debugw(msg, kv(kvs)...) }
func (l *Logger) Debug(msg string, kvs ...interface{}) { l.sugar.Debugw(msg, kv(kvs)...) }
func (l *Logger) Info(msg string, kvs ...interface{})  { l.sugar.Infow(msg, kv(kvs)...) }
func (l *Logger) Warn(msg string, kvs ...interface{})  { l.sugar.Warnw(msg, kv(kvs)...) }
func (l *Logger) Error(msg string, kvs ...interface{}) { l.sugar.Errorw(msg, kv(kvs)...) }
func (l *Logger) Crit(msg string, kvs ...interface{})  { l.sugar.Fatalw(msg, kv(kvs)...) }
