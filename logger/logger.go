package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvLogLevel overrides the configured level when set.
const EnvLogLevel = "APTSTATE_LOG_LEVEL"

type Logger interface {
	Info(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	With(args ...interface{}) Logger
}

type Options struct {
	Output io.Writer
	Debug  bool
}

type LogrusLogger struct {
	entry *logrus.Entry
}

func New(opts Options) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	if opts.Output != nil {
		l.SetOutput(opts.Output)
	} else {
		l.SetOutput(os.Stderr)
	}

	if opts.Debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	if lvl, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv(EnvLogLevel))); err == nil {
		l.SetLevel(lvl)
	}

	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// FromLogrus wraps an existing logrus logger, e.g. a test null logger.
func FromLogrus(l *logrus.Logger) Logger {
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Info(msg)
}

func (l *LogrusLogger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Debug(msg)
}

func (l *LogrusLogger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args)).Error(msg)
}

func (l *LogrusLogger) With(args ...interface{}) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(fields(args))}
}

// fields turns alternating key/value pairs into logrus fields. A trailing
// key without a value is kept under "!BADKEY".
func fields(args []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		f[key] = args[i+1]
	}
	return f
}
