package dobj

import (
	"path/filepath"
	"runtime"

	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// Log forwards messages to the engine's log facility, tagged with the caller's
// file, function and line.
type Log struct {
	ctx *Context
}

// NewLog returns a log bound to ctx.
func NewLog(ctx *Context) *Log { return &Log{ctx: ctx} }

// Debug logs msg at debug level.
func (l *Log) Debug(msg string) error { return l.write(msg, engine.LogDebug) }

// Info logs msg at info level.
func (l *Log) Info(msg string) error { return l.write(msg, engine.LogInfo) }

// Warning logs msg at warning level.
func (l *Log) Warning(msg string) error { return l.write(msg, engine.LogWarning) }

// Error logs msg at error level.
func (l *Log) Error(msg string) error { return l.write(msg, engine.LogError) }

func (l *Log) write(msg string, level engine.LogLevel) error {
	file, function, line := caller(2)
	return l.ctx.call(engine.OpLog, func(e engine.IEngine) error {
		return e.Log(msg, file, function, line, level)
	})
}

// caller returns file, function and line skip frames above its own caller.
func caller(skip int) (string, string, int) {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown", "unknown", 0
	}
	function := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = filepath.Base(fn.Name())
	}
	return filepath.Base(file), function, line
}
