// Package monitoring holds the process-wide diagnostic logging hooks used by
// the LiDAR packages.
package monitoring

import "log"

// Logf receives warnings that callers may want to capture or silence, such
// as out-of-order packets tolerated by a lenient frame assembler. It writes
// through the standard logger unless replaced with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger swaps the diagnostic logger. nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf with a warning prefix.
func Warnf(format string, v ...interface{}) {
	Logf("[WARN] "+format, v...)
}
