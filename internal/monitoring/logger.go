// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Stage logs the start of a named pipeline stage and returns a function that
// logs its duration when called.
//
//	done := monitoring.Stage("decode")
//	defer done()
func Stage(name string) func() {
	start := time.Now()
	return func() {
		Logf("%s done in %.1fms", name, float64(time.Since(start).Microseconds())/1000)
	}
}
