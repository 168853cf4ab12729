package monitoring

import "log"

// Logf is the package-level diagnostic logger for the fusion core. It
// defaults to log.Printf but may be replaced with SetLogger so tests and
// embedding applications can redirect or mute diagnostics.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
