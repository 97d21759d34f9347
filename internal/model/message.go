package model

import (
	"fmt"
	"strings"
)

// Level is the severity of a flash message. Levels are ordered, Debug
// being the lowest and Error the highest.
type Level int

const (
	// LevelDebug is for development messages that production deployments ignore.
	LevelDebug Level = iota
	// LevelInfo is an informational message for the user.
	LevelInfo
	// LevelSuccess reports an action that succeeded, e.g. "Profile updated".
	LevelSuccess
	// LevelWarning reports that a failure did not occur but may be imminent.
	LevelWarning
	// LevelError reports an action that failed.
	LevelError
)

var levelNames = [...]string{
	LevelDebug:   "debug",
	LevelInfo:    "info",
	LevelSuccess: "success",
	LevelWarning: "warning",
	LevelError:   "error",
}

// Levels returns every level in ascending order.
func Levels() []Level {
	return []Level{LevelDebug, LevelInfo, LevelSuccess, LevelWarning, LevelError}
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l >= LevelDebug && l <= LevelError
}

// String returns the canonical lowercase name.
func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Title returns the display name, e.g. "Warning".
func (l Level) Title() string {
	name := l.String()
	return strings.ToUpper(name[:1]) + name[1:]
}

// MarshalText encodes the level as its canonical name.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText decodes a canonical level name.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses a level name. Matching is case-insensitive and "warn"
// is accepted for LevelWarning.
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warn" {
		return LevelWarning, nil
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return LevelDebug, fmt.Errorf("unknown level %q", name)
}

// Metadata is optional structured data attached to a message.
type Metadata map[string]any

// Message is a single flash message. It is treated as immutable once built.
type Message struct {
	Level    Level    `json:"level"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// NewMessage creates a Message. metadata may be nil.
func NewMessage(level Level, content string, metadata Metadata) Message {
	return Message{
		Level:    level,
		Content:  content,
		Metadata: metadata,
	}
}

// String renders the message as "Level: content".
func (m Message) String() string {
	return m.Level.Title() + ": " + m.Content
}
