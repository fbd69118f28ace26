// Package klog is the kernel's logging surface: a thin wrapper over the
// standard library log package with a kernel-ring severity prefix,
// generalizing the teacher's own terse log.Printf idiom (see
// ufs/ufs.go's "log.Printf("reboot %v ...\n", dst)") into something
// every subsystem reaches for instead of each rolling its own prefix.
package klog

import (
	"log"
	"os"
)

/// Ring_t names the severity a message is logged at, modeled after the
/// kernel ring-buffer levels real kernels tag messages with.
type Ring_t int

const (
	Info Ring_t = iota
	Warn
	Err
	Panic
)

func (r Ring_t) prefix() string {
	switch r {
	case Warn:
		return "[warn] "
	case Err:
		return "[err] "
	case Panic:
		return "[panic] "
	default:
		return "[info] "
	}
}

var std = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lmicroseconds)

/// Logf logs a formatted message at the given ring level.
func Logf(r Ring_t, format string, args ...interface{}) {
	std.Printf(r.prefix()+format, args...)
}

/// Infof logs at Info level.
func Infof(format string, args ...interface{}) { Logf(Info, format, args...) }

/// Warnf logs at Warn level.
func Warnf(format string, args ...interface{}) { Logf(Warn, format, args...) }

/// Errf logs at Err level.
func Errf(format string, args ...interface{}) { Logf(Err, format, args...) }

/// Panicf logs at Panic level and then panics, matching the teacher's own
/// habit of logging context immediately before a fatal condition instead
/// of letting a bare panic's stack trace carry the only information.
func Panicf(format string, args ...interface{}) {
	Logf(Panic, format, args...)
	log.Panicf(format, args...)
}
