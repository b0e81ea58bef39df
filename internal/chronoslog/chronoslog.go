// Package chronoslog is a thin shim over zap giving call sites the same
// Infof/Warningf/Errorf/V(1).Infof calling convention as
// github.com/shaj13/raft's raftlog.Logger interface, so engine code
// written against that convention didn't need to be rewritten around
// zap's sugared API.
package chronoslog

import "go.uber.org/zap"

// Logger is the logging interface internal/raftengine, internal/admin and
// internal/clientserver are written against.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	V(level int) VerboseLogger
}

// VerboseLogger gates a log line behind a verbosity level.
type VerboseLogger interface {
	Infof(format string, args ...interface{})
}

// New wraps a *zap.Logger as a Logger.
func New(z *zap.Logger) Logger {
	return &zapLogger{z: z.Sugar()}
}

type zapLogger struct {
	z *zap.SugaredLogger
}

func (l *zapLogger) Infof(format string, args ...interface{})    { l.z.Infof(format, args...) }
func (l *zapLogger) Warningf(format string, args ...interface{}) { l.z.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{})   { l.z.Errorf(format, args...) }
func (l *zapLogger) Fatal(args ...interface{})                   { l.z.Fatal(args...) }

func (l *zapLogger) V(level int) VerboseLogger {
	return verboseLogger{z: l.z, level: level}
}

type verboseLogger struct {
	z     *zap.SugaredLogger
	level int
}

// Infof logs at Debug for any non-zero verbosity level, matching
// raftlog.Logger's V(1) convention of gating chatty logs behind a flag.
func (v verboseLogger) Infof(format string, args ...interface{}) {
	if v.level > 0 {
		v.z.Debugf(format, args...)
		return
	}
	v.z.Infof(format, args...)
}
