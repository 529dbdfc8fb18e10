package logx

import (
	"fmt"
	"io"
	"log"

	"github.com/hashicorp/logutils"
	"github.com/sirupsen/logrus"
)

// NewStdHandler adapts a standard library *log.Logger into a Handler, one
// line per entry, fields rendered as key=value pairs.
func NewStdHandler(l *log.Logger) Handler {
	return func(e Entry) {
		l.Printf("[%s] %s: %s%s", e.Level, e.Op, e.Message, formatFields(e.Fields))
	}
}

// NewLogrusHandler adapts a *logrus.Logger into a Handler, preserving
// structured fields instead of flattening them into the message string.
func NewLogrusHandler(l *logrus.Logger) Handler {
	return func(e Entry) {
		entry := l.WithField("op", e.Op)
		if e.Fields != nil {
			entry = entry.WithFields(e.Fields)
		}
		switch e.Level {
		case DEBUG:
			entry.Debug(e.Message)
		case INFO:
			entry.Info(e.Message)
		case ERROR:
			entry.Error(e.Message)
		}
	}
}

// NewFilteredWriter wraps w in a logutils.LevelFilter that only passes
// through lines at or above minLevel. levels must be ordered least to most
// severe and minLevel must be one of them. Intended as the sink for a
// log.Logger passed to NewStdHandler.
func NewFilteredWriter(levels []string, minLevel string, w io.Writer) io.Writer {
	return &logutils.LevelFilter{
		Levels:   logutilsLevels(levels),
		MinLevel: logutils.LogLevel(minLevel),
		Writer:   w,
	}
}

func logutilsLevels(levels []string) []logutils.LogLevel {
	out := make([]logutils.LogLevel, len(levels))
	for i, l := range levels {
		out[i] = logutils.LogLevel(l)
	}
	return out
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	out := " "
	first := true
	for k, v := range fields {
		if !first {
			out += " "
		}
		first = false
		out += k + "="
		out += toString(v)
	}
	return out
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	default:
		return fmt.Sprint(v)
	}
}
