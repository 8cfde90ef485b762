// Package logging provides sidelb's process-wide logger: human-readable,
// timestamped lines on standard output. Per spec, this is deliberately not
// JSON or otherwise structured — a load balancer this small does not carry
// a log-aggregator contract, and §6 of the spec calls for plain lines.
//
// The standard library's log.Logger already produces exactly that format,
// so there is no third-party logging library to wire here: none of the
// example repos' structured loggers (slog, logrus) can be configured to
// drop structure without fighting their own API, and doing so would be
// fighting the library rather than using it.
package logging

import (
	"log"
	"os"
)

// std is the package-wide logger, timestamped to the second, writing to
// stdout per spec.
var std = log.New(os.Stdout, "", log.LstdFlags)

// Infof logs an informational line.
func Infof(format string, args ...any) {
	std.Printf(format, args...)
}

// Warnf logs a warning line. Warnings are non-fatal by definition in this
// system (see internal/lberr) — they never change control flow.
func Warnf(format string, args ...any) {
	std.Printf("WARN "+format, args...)
}

// Errorf logs an error line.
func Errorf(format string, args ...any) {
	std.Printf("ERROR "+format, args...)
}
