/*
Copyright 2019 The Ceph-CSI Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides the structured, level-gated logging used across the
// striper and lease packages. It is a thin wrapper around klog so that
// callers never import klog directly and every log line gets a consistent
// request-scoped prefix.
package log

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// enum defining logging levels.
const (
	Default klog.Level = iota + 1
	Useful
	Extended
	Debug
	Trace
)

type contextKey string

// CtxKey carries a caller-supplied handle identifier (e.g. the head oid)
// through a context for log-line correlation.
var CtxKey = contextKey("ID")

// ReqID carries a per-call request identifier through a context.
var ReqID = contextKey("Req-ID")

// Log prefixes format with the ID value found on ctx, followed by the
// Req-ID value when both are present. Without an ID, format is returned
// unchanged, even if a Req-ID is present.
func Log(ctx context.Context, format string) string {
	id := ctx.Value(CtxKey)
	if id == nil {
		return format
	}
	a := fmt.Sprintf("ID: %v ", id)
	reqID := ctx.Value(ReqID)
	if reqID == nil {
		return a + format
	}
	a += fmt.Sprintf("Req-ID: %v ", reqID)

	return a + format
}

// ErrorLogMsg logs an error with no context.
func ErrorLogMsg(message string, args ...interface{}) {
	klog.ErrorDepth(1, fmt.Sprintf(message, args...))
}

// ErrorLog logs an error with context.
func ErrorLog(ctx context.Context, message string, args ...interface{}) {
	klog.ErrorDepth(1, fmt.Sprintf(Log(ctx, message), args...))
}

// WarningLogMsg logs a warning with no context.
func WarningLogMsg(message string, args ...interface{}) {
	klog.WarningDepth(1, fmt.Sprintf(message, args...))
}

// WarningLog logs a warning with context.
func WarningLog(ctx context.Context, message string, args ...interface{}) {
	klog.WarningDepth(1, fmt.Sprintf(Log(ctx, message), args...))
}

// DefaultLog logs at klog.V(Default).
func DefaultLog(message string, args ...interface{}) {
	if klog.V(Default).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(message, args...))
	}
}

// ExtendedLog logs with context at klog.V(Extended).
func ExtendedLog(ctx context.Context, message string, args ...interface{}) {
	if klog.V(Extended).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(Log(ctx, message), args...))
	}
}

// DebugLogMsg logs at klog.V(Debug) with no context.
func DebugLogMsg(message string, args ...interface{}) {
	if klog.V(Debug).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(message, args...))
	}
}

// DebugLog logs with context at klog.V(Debug).
func DebugLog(ctx context.Context, message string, args ...interface{}) {
	if klog.V(Debug).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(Log(ctx, message), args...))
	}
}

// TraceLog logs with context at klog.V(Trace). Used for the per-extent
// read/write fan-out, which is too chatty for Debug.
func TraceLog(ctx context.Context, message string, args ...interface{}) {
	if klog.V(Trace).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(Log(ctx, message), args...))
	}
}
