// Package logger provides leveled logging with optional JSON lines and
// component prefixes.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

// Logger provides leveled logging.
type Logger struct {
	level  Level
	json   bool
	out    io.Writer
	mu     sync.Mutex
	logger *log.Logger
}

var defaultLogger *Logger

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init initializes the default logger with the specified level and format
// ("json" or "text").
func Init(level string, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	asJSON := strings.ToLower(format) == "json"
	if !asJSON {
		flags |= log.Lshortfile
	}
	defaultLogger = &Logger{
		level:  ParseLevel(level),
		json:   asJSON,
		out:    w,
		logger: log.New(w, "", flags),
	}
}

type jsonLine struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Msg       string `json:"msg"`
}

func output(level Level, component, format string, args ...interface{}) {
	l := defaultLogger
	if l == nil || l.level > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.json {
		line, err := json.Marshal(jsonLine{
			Time:      time.Now().UTC().Format(time.RFC3339Nano),
			Level:     strings.ToLower(levelNames[level]),
			Component: component,
			Msg:       msg,
		})
		if err != nil {
			return
		}
		l.mu.Lock()
		_, _ = l.out.Write(append(line, '\n'))
		l.mu.Unlock()
		return
	}
	prefix := "[" + levelNames[level] + "] "
	if component != "" {
		prefix += component + ": "
	}
	_ = l.logger.Output(3, prefix+msg)
}

func Debug(format string, args ...interface{}) { output(DebugLevel, "", format, args...) }
func Info(format string, args ...interface{})  { output(InfoLevel, "", format, args...) }
func Warn(format string, args ...interface{})  { output(WarnLevel, "", format, args...) }
func Error(format string, args ...interface{}) { output(ErrorLevel, "", format, args...) }

func Fatal(format string, args ...interface{}) {
	output(FatalLevel, "", format, args...)
	if defaultLogger == nil {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}

// Component logs with a fixed component name.
type Component struct {
	name string
}

// With returns a logger that tags every line with component.
func With(component string) Component {
	return Component{name: component}
}

func (c Component) Debug(format string, args ...interface{}) {
	output(DebugLevel, c.name, format, args...)
}

func (c Component) Info(format string, args ...interface{}) {
	output(InfoLevel, c.name, format, args...)
}

func (c Component) Warn(format string, args ...interface{}) {
	output(WarnLevel, c.name, format, args...)
}

func (c Component) Error(format string, args ...interface{}) {
	output(ErrorLevel, c.name, format, args...)
}
