/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
)

// QueryEvent describes one statement run by a BunExecutor. Query and Params
// are the statement as issued by the caller, before any rebinding.
type QueryEvent struct {
	Query     string
	Params    []any
	InTx      bool
	StartTime time.Time
	RowCount  int64
	Err       error
}

// Operation returns the statement keyword, e.g. "SELECT".
func (e *QueryEvent) Operation() string {
	return Operation(e.Query)
}

// Duration is the time elapsed since StartTime.
func (e *QueryEvent) Duration() time.Duration {
	return time.Since(e.StartTime)
}

// QueryHook observes statements. Hooks must not modify the event.
type QueryHook interface {
	BeforeQuery(ctx context.Context, event *QueryEvent) context.Context
	AfterQuery(ctx context.Context, event *QueryEvent)
}

var querySilentMode atomic.Bool

// EnableQuerySilent mutes the console and slow-query hooks process wide.
func EnableQuerySilent(b bool) {
	querySilentMode.Store(b)
}

// ConsoleHook prints statements to a writer. The env variable overrides the
// configured state: "0" or empty disables it, "1" prints failed statements
// only, "2" prints everything.
type ConsoleHook struct {
	envName string
	enabled bool
	verbose bool
	writer  io.Writer
}

var _ QueryHook = (*ConsoleHook)(nil)

type ConsoleHookOption func(*ConsoleHook)

func WithConsoleEnabled(on bool) ConsoleHookOption {
	return func(h *ConsoleHook) { h.enabled = on }
}

func WithConsoleVerbose(on bool) ConsoleHookOption {
	return func(h *ConsoleHook) { h.verbose = on }
}

func WithConsoleWriter(w io.Writer) ConsoleHookOption {
	return func(h *ConsoleHook) { h.writer = w }
}

func WithConsoleEnv(name string) ConsoleHookOption {
	return func(h *ConsoleHook) { h.envName = name }
}

func NewConsoleHook(opts ...ConsoleHookOption) *ConsoleHook {
	h := &ConsoleHook{
		envName: "CRUDKIT_DEBUG",
		enabled: true,
		writer:  os.Stdout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ConsoleHook) BeforeQuery(ctx context.Context, _ *QueryEvent) context.Context {
	return ctx
}

func (h *ConsoleHook) AfterQuery(_ context.Context, event *QueryEvent) {
	if querySilentMode.Load() {
		return
	}
	enabled, verbose := h.enabled, h.verbose
	if env, ok := os.LookupEnv(h.envName); ok {
		enabled = env != "" && env != "0"
		verbose = env == "2"
	}
	if !enabled {
		return
	}

	if !verbose {
		switch {
		case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows), errors.Is(event.Err, sql.ErrTxDone):
			return
		}
	}

	now := time.Now()
	args := []interface{}{
		now.Format("2006-01-02 15:04:05.000"),
		color.CyanString("%12s", "[SQL]"),
		fmt.Sprintf("%14s", now.Sub(event.StartTime).Round(time.Microsecond)),
		"  ", operationColor(event.Operation()).Sprint(event.Query),
	}
	if len(event.Params) > 0 {
		args = append(args, color.New(color.Faint).Sprintf("%v", event.Params))
	}
	if event.Err != nil {
		typ := reflect.TypeOf(event.Err).String()
		args = append(args, "\t", color.New(color.BgRed).Sprintf(" %s ", typ+": "+event.Err.Error()))
	}
	_, _ = fmt.Fprintln(h.writer, args...)
}

func operationColor(operation string) *color.Color {
	switch operation {
	case "SELECT":
		return color.New(color.FgGreen)
	case "INSERT":
		return color.New(color.FgBlue)
	case "UPDATE":
		return color.New(color.FgYellow)
	case "DELETE":
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgRed)
	}
}

func operationBackground(operation string) *color.Color {
	switch operation {
	case "SELECT":
		return color.New(color.BgGreen, color.FgHiWhite)
	case "INSERT":
		return color.New(color.BgBlue, color.FgHiWhite)
	case "UPDATE":
		return color.New(color.BgYellow, color.FgHiWhite)
	case "DELETE":
		return color.New(color.BgMagenta, color.FgHiWhite)
	default:
		return color.New(color.BgRed, color.FgHiWhite)
	}
}

// SlowQueryHook reports successful statements slower than a threshold,
// through the logger when one is set and to the writer otherwise. Setting
// the env variable to "1" or "0" forces it on or off.
type SlowQueryHook struct {
	fromEnv  string
	enabled  bool
	slowTime time.Duration
	writer   io.Writer
	logger   Logger
}

var _ QueryHook = (*SlowQueryHook)(nil)

func NewSlowQueryHook(threshold time.Duration, logger Logger) *SlowQueryHook {
	return &SlowQueryHook{
		fromEnv:  "CRUDKIT_SLOW_QUERY",
		enabled:  true,
		slowTime: threshold,
		writer:   os.Stdout,
		logger:   logger,
	}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *QueryEvent) {
	if querySilentMode.Load() || event.Err != nil {
		return
	}
	enabled := h.enabled
	if env, ok := os.LookupEnv(h.fromEnv); ok {
		enabled = strings.TrimSpace(env) == "1"
	}
	if !enabled {
		return
	}

	duration := event.Duration()
	if duration <= h.slowTime {
		return
	}
	if h.logger != nil {
		SafeLog(h.logger).Warn("Slow query detected",
			"duration", duration.Round(time.Microsecond),
			"threshold", h.slowTime,
			"query", event.Query)
		return
	}
	_, _ = fmt.Fprintln(h.writer,
		time.Now().Format("2006-01-02 15:04:05.000"),
		color.YellowString("%12s", "[SQL_SLOW]"),
		fmt.Sprintf("%14s", duration.Round(time.Microsecond)),
		"  ", operationBackground(event.Operation()).Sprint(event.Query),
	)
}
