package observability

import (
	"fmt"

	"github.com/rs/zerolog"
)

// TemporalLogger bridges the Temporal SDK's log.Logger interface onto
// zerolog so workflow and worker internals land in the same structured
// stream as the rest of the service.
type TemporalLogger struct {
	logger zerolog.Logger
}

// NewTemporalLogger wraps the given logger, tagging every entry with the
// temporal-sdk component.
func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: logger.With().Str("component", "temporal-sdk").Logger()}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.emit(l.logger.Debug(), msg, keyvals)
}

func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.emit(l.logger.Info(), msg, keyvals)
}

func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.emit(l.logger.Warn(), msg, keyvals)
}

func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.emit(l.logger.Error(), msg, keyvals)
}

// emit attaches the SDK's alternating key-value pairs as zerolog fields.
// A trailing key without a value is dropped; non-string keys are stringified.
func (l *TemporalLogger) emit(evt *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		evt = evt.Interface(key, keyvals[i+1])
	}
	evt.Msg(msg)
}
