// Package monitoring holds the locator's diagnostic logger and Prometheus
// metrics.
package monitoring

import "log"

// Logf is the engine and worker diagnostic logger. It defaults to
// log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf and returns a func that puts the previous logger
// back. Passing nil mutes diagnostics.
func SetLogger(f func(format string, v ...interface{})) (restore func()) {
	prev := Logf
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
	return func() { Logf = prev }
}
