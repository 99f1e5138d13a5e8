// Package logx provides the bracketed-subsystem-tag logging convention used
// throughout loopseq, in place of an external structured logging library.
package logx

import (
	"fmt"
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

// Tag is a short subsystem label, printed as "[TAG]" ahead of the message,
// matching the convention of printf-style tagged logging.
type Tag string

const (
	Clock   Tag = "CLOCK"
	Tempo   Tag = "TEMPO"
	Track   Tag = "TRACK"
	Input   Tag = "IN"
	Output  Tag = "OUT"
	Persist Tag = "PERSIST"
	Control Tag = "CTRL"
)

// Infof logs an informational message under the given subsystem tag.
func Infof(tag Tag, format string, args ...any) {
	std.Printf("[%s] %s", tag, fmt.Sprintf(format, args...))
}

// Warnf logs a recoverable-condition message; loopseq never fails the
// realtime path on these, it only surfaces them for the operator.
func Warnf(tag Tag, format string, args ...any) {
	std.Printf("[%s] warning: %s", tag, fmt.Sprintf(format, args...))
}

// Errorf logs a failure that was handled (retried, defaulted, ignored)
// rather than propagated.
func Errorf(tag Tag, format string, args ...any) {
	std.Printf("[%s] error: %s", tag, fmt.Sprintf(format, args...))
}
