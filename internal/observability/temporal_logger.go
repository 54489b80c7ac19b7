package observability

import (
	"fmt"

	"github.com/rs/zerolog"
)

// TemporalLogger bridges the Temporal SDK's log.Logger interface onto
// zerolog so SDK output lands in the service log stream. Entries carry a
// "component":"temporal-sdk" field to keep them distinguishable from
// workflow and activity logs.
type TemporalLogger struct {
	logger zerolog.Logger
}

// NewTemporalLogger wraps the given logger for use as a Temporal SDK logger.
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

// emit attaches the SDK's alternating key-value pairs as fields. A dangling
// key without a value is logged under "extra" rather than dropped.
func (l *TemporalLogger) emit(event *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		event = event.Interface(key, keyvals[i+1])
	}
	if len(keyvals)%2 != 0 {
		event = event.Interface("extra", keyvals[len(keyvals)-1])
	}
	event.Msg(msg)
}
