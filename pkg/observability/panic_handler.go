package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with the full stack trace.
// Intended for defer statements in background goroutines where a panic
// must not take down the process:
//
//	defer observability.RecoverPanic(logger, "seed watcher")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, operation string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":     r,
			"stack":     string(debug.Stack()),
			"operation": operation,
		}).Error("recovered from panic")
	}
}

// PanicToError converts a recover() value to an error, or nil when no
// panic occurred. Useful around third-party code that may panic:
//
//	defer func() { err = observability.PanicToError(recover()) }()
func PanicToError(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
