// Package logging adapts a leveled, structured hclog.Logger into the
// keylock.Sink the core calls for every state-visible event.
package logging

import (
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/xtaci/keymutexd/internal/keylock"
)

// New builds an hclog.Logger at the given level ("trace", "debug",
// "info", "warn", "error") writing either human-readable text or JSON
// lines.
func New(level, format string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "keymutexd",
		Level:      hclog.LevelFromString(level),
		Output:     os.Stderr,
		JSONFormat: format == "json",
	})
}

// sink is the keylock.Sink implementation backed by an hclog.Logger.
type sink struct {
	log hclog.Logger
}

// NewSink wraps log as a keylock.Sink, emitting exactly one line per
// event with the connection id, event tag and (when applicable) the
// lowercase-hex key.
func NewSink(log hclog.Logger) keylock.Sink {
	return &sink{log: log}
}

// Event implements keylock.Sink.
func (s *sink) Event(connID int, event string, key *keylock.Key) {
	if key == nil {
		s.log.Info(event, "conn", connID)
		return
	}
	s.log.Info(event, "conn", connID, "key", key.Hex())
}
