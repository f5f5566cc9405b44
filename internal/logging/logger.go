// Package logging is a thin printf-style facade over zerolog. Console output
// is human readable; the optional log file receives JSON lines.
package logging

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
)

// Logger is a component-scoped view over a shared sink. Children created by
// WithComponent and WithField share the level and outputs of their root.
type Logger struct {
	zl        zerolog.Logger
	sink      *sink
	component string
	fields    map[string]any
}

// sink is the state shared by a root logger and all of its children.
type sink struct {
	level   atomic.Int32
	mu      sync.RWMutex
	console io.Writer
	file    *os.File
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.console.Write(p)
}

func (s *sink) setConsole(w io.Writer) {
	s.mu.Lock()
	s.console = w
	s.mu.Unlock()
}

type Config struct {
	Level      Level
	FilePath   string // JSON lines are appended here when set
	Colored    bool
	ShowCaller bool
	ShowTime   bool
	Component  string
	Output     io.Writer // defaults to os.Stderr
}

func DefaultConfig() *Config {
	return &Config{
		Level:    LevelInfo,
		Colored:  termenv.EnvColorProfile() != termenv.Ascii,
		ShowTime: true,
	}
}

// VerboseConfig is DefaultConfig at debug level with caller locations.
func VerboseConfig() *Config {
	cfg := DefaultConfig()
	cfg.Level = LevelDebug
	cfg.ShowCaller = true
	return cfg
}

func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &sink{console: cfg.Output}
	if s.console == nil {
		s.console = os.Stderr
	}
	s.level.Store(int32(cfg.Level))

	console := zerolog.ConsoleWriter{Out: s, NoColor: !cfg.Colored, TimeFormat: "2006-01-02 15:04:05.000"}
	if !cfg.ShowTime {
		console.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	outputs := []io.Writer{console}

	if cfg.FilePath != "" {
		f, err := appendFile(cfg.FilePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log file disabled: %v\n", err)
		} else {
			s.file = f
			outputs = append(outputs, f)
		}
	}

	zc := zerolog.New(zerolog.MultiLevelWriter(outputs...)).Level(zerolog.DebugLevel).With()
	if cfg.ShowTime {
		zc = zc.Timestamp()
	}
	if cfg.ShowCaller {
		zc = zc.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2)
	}

	return &Logger{zl: zc.Logger(), sink: s, component: cfg.Component}
}

func appendFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

var global atomic.Pointer[Logger]

func init() {
	global.Store(New(DefaultConfig()))
}

func SetGlobal(l *Logger) { global.Store(l) }

func Global() *Logger { return global.Load() }

// SetLevel changes the level of the global logger tree.
func SetLevel(level Level) { Global().SetLevel(level) }

// DisableConsoleOutput mutes the global console sink while a full-screen UI
// owns the terminal. File output continues.
func DisableConsoleOutput() { Global().sink.setConsole(io.Discard) }

func EnableConsoleOutput() { Global().sink.setConsole(os.Stderr) }

func (l *Logger) SetLevel(level Level) { l.sink.level.Store(int32(level)) }

func (l *Logger) GetLevel() Level { return Level(l.sink.level.Load()) }

// Close closes the log file of the logger tree, if one is open.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

func (l *Logger) WithComponent(name string) *Logger {
	child := *l
	child.component = name
	return &child
}

func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	child := *l
	child.fields = make(map[string]any, len(l.fields)+len(fields))
	maps.Copy(child.fields, l.fields)
	maps.Copy(child.fields, fields)
	return &child
}

func (l *Logger) emit(level Level, format string, args []any) {
	if level < l.GetLevel() {
		return
	}
	ev := l.zl.WithLevel(level.zerolog())
	if l.component != "" {
		ev = ev.Str("component", l.component)
	}
	if len(l.fields) > 0 {
		ev = ev.Fields(l.fields)
	}
	ev.Msgf(format, args...)
}

func (l *Logger) Debug(format string, args ...any) { l.emit(LevelDebug, format, args) }
func (l *Logger) Info(format string, args ...any)  { l.emit(LevelInfo, format, args) }
func (l *Logger) Warn(format string, args ...any)  { l.emit(LevelWarn, format, args) }
func (l *Logger) Error(format string, args ...any) { l.emit(LevelError, format, args) }

// Fatal logs and exits with status 1.
func (l *Logger) Fatal(format string, args ...any) {
	l.emit(LevelFatal, format, args)
	os.Exit(1)
}

// Trace logs entry to fn and returns a func that logs the exit with the
// elapsed time. Use as defer log.Trace("name")().
func (l *Logger) Trace(fn string) func() {
	start := time.Now()
	l.Debug("→ ENTER %s", fn)
	return func() { l.Debug("← EXIT  %s (took %v)", fn, time.Since(start)) }
}
