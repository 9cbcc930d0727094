package rlog

import (
	"github.com/pion/logging"
)

// pionLogger adapts a zerolog component logger to pion's logging.Leveled
// interface, so pion/sctp (and any other pion library wired in later)
// logs through the same component-tagged sink as the rest of roomrtc
// instead of pion's own default stdout logger.
type pionLogger struct {
	component string
}

func (l pionLogger) Trace(msg string)                          { For(l.component).Trace().Msg(msg) }
func (l pionLogger) Tracef(format string, args ...interface{})  { For(l.component).Trace().Msgf(format, args...) }
func (l pionLogger) Debug(msg string)                          { For(l.component).Debug().Msg(msg) }
func (l pionLogger) Debugf(format string, args ...interface{})  { For(l.component).Debug().Msgf(format, args...) }
func (l pionLogger) Info(msg string)                           { For(l.component).Info().Msg(msg) }
func (l pionLogger) Infof(format string, args ...interface{})   { For(l.component).Info().Msgf(format, args...) }
func (l pionLogger) Warn(msg string)                           { For(l.component).Warn().Msg(msg) }
func (l pionLogger) Warnf(format string, args ...interface{})   { For(l.component).Warn().Msgf(format, args...) }
func (l pionLogger) Error(msg string)                          { For(l.component).Error().Msg(msg) }
func (l pionLogger) Errorf(format string, args ...interface{})  { For(l.component).Error().Msgf(format, args...) }

type pionLoggerFactory struct{}

func (pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{component: scope}
}

// SCTPLoggerFactory returns a logging.LoggerFactory that routes pion/sctp's
// internal log output through rlog, keyed by the "sctp" component.
func SCTPLoggerFactory() logging.LoggerFactory {
	return pionLoggerFactory{}
}
