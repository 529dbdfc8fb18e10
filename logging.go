package redisx

import "github.com/Smithsonian/redisx-sub000/logx"

// logEntry is a nil-safe convenience for reporting a logx.Entry through a
// Config's optional Logger. A nil Logger (including an untyped nil
// interface, the zero value of Config.Logger) is silently a no-op.
func logEntry(l logx.Logger, level logx.Level, op, msg string, fields map[string]interface{}) {
	if l == nil || !l.Enabled(level) {
		return
	}
	l.Log(logx.NewEntry(level, op, msg, fields))
}
