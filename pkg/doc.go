// Package pkg provides shared utilities for the usbhcd host controller core.
//
// This package contains common functionality used by the scheduling core and
// the controller families, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for scheduling and USB protocol failures
//   - The per-transaction [Status] reported to completion callbacks
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentScheduler, "entry admitted", "address", 3)
//
// Command-line tools build their logger with [SetupLogger].
//
// # Errors
//
// Synchronous scheduling failures are sentinel values:
//
//	if errors.Is(err, pkg.ErrResourceExhausted) {
//	    // retry later
//	}
//
// Transfer outcomes never surface as errors from scheduling calls; they are
// delivered to completion callbacks as a [Status].
package pkg
