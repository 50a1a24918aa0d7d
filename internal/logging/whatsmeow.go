package logging

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type waLogger struct {
	s *zap.SugaredLogger
}

// WhatsmeowLogger routes whatsmeow's logs into zap under the given module.
func WhatsmeowLogger(l *zap.Logger, module string) waLog.Logger {
	return &waLogger{s: l.Named(module).WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (w *waLogger) Debugf(msg string, args ...any) { w.s.Debugf(msg, args...) }
func (w *waLogger) Infof(msg string, args ...any)  { w.s.Infof(msg, args...) }
func (w *waLogger) Warnf(msg string, args ...any)  { w.s.Warnf(msg, args...) }
func (w *waLogger) Errorf(msg string, args ...any) { w.s.Errorf(msg, args...) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{s: w.s.Named(module)}
}

