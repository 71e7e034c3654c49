// Package manager coordinates local and remote completion engines for an
// interactive caller (the Host). It is structured into small files by concern:
//
//   - manager.go: core Manager type, generation counter, in-flight flags, getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - settings.go: Settings snapshot, defaults and the load fingerprint.
//   - types.go: Trigger, CompletionContext, Result and the engine slot.
//   - errors.go: ErrCancelled and error classification helpers.
//   - context.go: prefix/suffix extraction and FIM prompt assembly.
//   - pending.go: one-shot result handles with non-blocking Poll.
//   - debounce.go: automatic-trigger debounce with a forced-fire ceiling.
//   - complete.go: RequestCompletion and its staleness checkpoints.
//   - ensure.go: EnsureLoaded/Preload, model path and device selection.
//   - unload.go: Unload and Close.
//   - readiness.go: side-effect-free pre-flight check.
//   - download.go: artifact downloads on behalf of the Host.
//   - status_report.go: Status reporting for the daemon.
//   - events.go, metrics.go: lifecycle events and Prometheus collectors.
//
// Build tags: the in-process llama.cpp backend lives in package engine and is
// enabled with `-tags=llama`. Without the tag local inference reports
// BackendUnavailable while remote providers keep working.
//
// Cancellation is generation based. Every request is stamped with the
// generation current at schedule time and is checked before taking the engine
// lock, after taking it, and before delivery. Inference that has already
// started runs to completion and its result is dropped if it went stale.
package manager
