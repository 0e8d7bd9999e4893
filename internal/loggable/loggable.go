// SPDX-License-Identifier: Apache-2.0

// Package loggable defines the small logging surface used by the mechanisms
// and an adapter for zap.
package loggable

import (
	"go.uber.org/zap"
)

// Loggable is implemented by anything that mechanisms can log through.
type Loggable interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// Zap adapts a zap logger.  A nil logger is treated as a no-op logger.
func Zap(l *zap.Logger) Loggable {
	if l == nil {
		l = zap.NewNop()
	}

	return zapLogger{s: l.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() Loggable {
	return Zap(nil)
}

// Named returns a child logger with the name appended, when the underlying
// logger supports it.  A nil logger is treated as a no-op logger.
func Named(l Loggable, name string) Loggable {
	if l == nil {
		return Nop()
	}
	if z, ok := l.(zapLogger); ok {
		return zapLogger{s: z.s.Named(name)}
	}

	return l
}

func (z zapLogger) Debugf(format string, args ...any) { z.s.Debugf(format, args...) }
func (z zapLogger) Infof(format string, args ...any)  { z.s.Infof(format, args...) }
func (z zapLogger) Warnf(format string, args ...any)  { z.s.Warnf(format, args...) }
func (z zapLogger) Errorf(format string, args ...any) { z.s.Errorf(format, args...) }
