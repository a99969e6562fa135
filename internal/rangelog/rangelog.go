// Package rangelog constructs the structured zerolog loggers used by the
// orchestrator and its subsystems. CLI-facing progress output stays plain
// fmt.Println; this package is for the operation-tracker-adjacent audit
// trail, where fields like range_id, operation_id, and guest_id need to be
// queryable rather than grepped out of free text.
package rangelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a base logger writing JSON lines to w. If w is nil, os.Stderr
// is used. level parses via zerolog.ParseLevel; an invalid or empty level
// string falls back to zerolog.InfoLevel.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(parsed).With().Timestamp().Logger()
}

// ForRange returns a child logger with range_id bound to every subsequent
// event, matching the field the Operation Tracker and orchestrator tag
// every log line with.
func ForRange(base zerolog.Logger, rangeID string) zerolog.Logger {
	return base.With().Str("range_id", rangeID).Logger()
}

// ForGuest returns a child logger with range_id and guest_id bound.
func ForGuest(base zerolog.Logger, rangeID, guestID string) zerolog.Logger {
	return base.With().Str("range_id", rangeID).Str("guest_id", guestID).Logger()
}

// Console returns a human-readable (non-JSON) logger for interactive CLI
// use.
func Console(level string) zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return New(writer, level)
}
