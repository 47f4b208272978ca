package core

import (
	"fmt"
	"strings"
)

// Level is the severity of an entry
type Level int8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelNotice
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = [...]string{"trace", "debug", "info", "notice", "warning", "error", "critical"}

// String returns the lowercase level name
func (l Level) String() string {
	if l < LevelTrace || l > LevelCritical {
		return fmt.Sprintf("level(%d)", int8(l))
	}
	return levelNames[l]
}

// Initial returns the single upper-case letter used by compact layouts
func (l Level) Initial() string {
	if l < LevelTrace || l > LevelCritical {
		return "?"
	}
	return strings.ToUpper(levelNames[l][:1])
}

// ParseLevel parses a level name. "warn" and "fatal" are accepted as aliases.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "critical", "fatal":
		return LevelCritical, nil
	}
	return LevelInfo, fmt.Errorf("unknown level %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
