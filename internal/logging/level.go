package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levels = [...]struct {
	name string
	zl   zerolog.Level
}{
	LevelDebug: {"DEBUG", zerolog.DebugLevel},
	LevelInfo:  {"INFO", zerolog.InfoLevel},
	LevelWarn:  {"WARN", zerolog.WarnLevel},
	LevelError: {"ERROR", zerolog.ErrorLevel},
	LevelFatal: {"FATAL", zerolog.FatalLevel},
}

func (l Level) valid() bool { return l >= LevelDebug && l <= LevelFatal }

func (l Level) String() string {
	if !l.valid() {
		return "UNKNOWN"
	}
	return levels[l].name
}

func (l Level) zerolog() zerolog.Level {
	if !l.valid() {
		return zerolog.InfoLevel
	}
	return levels[l].zl
}

// ParseLevel maps a config value to a Level. Unknown values give LevelInfo.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for l, def := range levels {
		if def.name == s {
			return Level(l)
		}
	}
	return LevelInfo
}
