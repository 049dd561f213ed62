// Package nestlog provides structured logging with category-gated
// wire-level debug output, shared across every streaming component.
package nestlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Level is the logging verbosity level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category gates a specific class of high-volume wire-level logging.
type Category string

const (
	CategoryRTP     Category = "rtp"
	CategoryFEC     Category = "fec"
	CategoryControl Category = "control"
	CategorySession Category = "session"
	CategoryRTSP    Category = "rtsp"
	CategoryAll     Category = "all"
)

// Format is the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logger configuration.
type Config struct {
	Level      Level
	Format     Format
	OutputFile string

	mu       sync.RWMutex
	enabled  map[Category]bool
}

// NewConfig returns a Config with sane defaults: info level, text output.
func NewConfig() *Config {
	return &Config{
		Level:   LevelInfo,
		Format:  FormatText,
		enabled: make(map[Category]bool),
	}
}

// ParseLevel converts a string flag value to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// ParseFormat converts a string flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", s)
	}
}

func (l Level) toSlog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableCategory turns on a debug category. CategoryAll enables every
// known category.
func (c *Config) EnableCategory(cat Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat == CategoryAll {
		c.enabled[CategoryRTP] = true
		c.enabled[CategoryFEC] = true
		c.enabled[CategoryControl] = true
		c.enabled[CategorySession] = true
		c.enabled[CategoryRTSP] = true
		return
	}
	c.enabled[cat] = true
}

func (c *Config) isEnabled(cat Category) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled[cat]
}

// Logger wraps slog.Logger with category-gated debug helpers.
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// New builds a Logger from cfg.
func New(cfg *Config) (*Logger, error) {
	var w io.Writer = os.Stdout
	var f *os.File
	if cfg.OutputFile != "" {
		opened, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		w, f = opened, opened
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlog()}
	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler), config: cfg, file: f}, nil
}

// Close closes the underlying log file, if one was opened.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// With returns a derived Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), config: l.config, file: l.file}
}

func (l *Logger) debugCategory(cat Category, msg string, args ...any) {
	if l.config.isEnabled(cat) {
		args = append([]any{"category", string(cat)}, args...)
		l.Debug(msg, args...)
	}
}

// DebugRTP logs per-packet RTP framing details when the rtp category is enabled.
func (l *Logger) DebugRTP(msg string, args ...any) { l.debugCategory(CategoryRTP, msg, args...) }

// DebugFEC logs shard-reconstruction details when the fec category is enabled.
func (l *Logger) DebugFEC(msg string, args ...any) { l.debugCategory(CategoryFEC, msg, args...) }

// DebugControl logs per-frame control-channel traffic when the control category is enabled.
func (l *Logger) DebugControl(msg string, args ...any) { l.debugCategory(CategoryControl, msg, args...) }

// DebugSession logs session state transitions when the session category is enabled.
func (l *Logger) DebugSession(msg string, args ...any) { l.debugCategory(CategorySession, msg, args...) }

// DebugRTSP logs RTSP request/response bodies when the rtsp category is enabled.
func (l *Logger) DebugRTSP(msg string, args ...any) { l.debugCategory(CategoryRTSP, msg, args...) }

// DebugRTPPacket logs a one-line summary of an RTP packet's framing fields.
func (l *Logger) DebugRTPPacket(seq uint16, timestamp uint32, packetType uint8, payloadSize int) {
	l.debugCategory(CategoryRTP, "rtp packet",
		"sequence", seq, "timestamp", timestamp, "packet_type", packetType, "payload_size", payloadSize)
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// SetDefault installs logger as the package-level default.
func SetDefault(logger *Logger) {
	once.Do(func() {})
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the process-wide default logger, creating one with
// NewConfig defaults on first use.
func Default() *Logger {
	once.Do(func() {
		logger, err := New(NewConfig())
		if err != nil {
			logger = &Logger{Logger: slog.Default(), config: NewConfig()}
		}
		defaultLogger = logger
	})
	return defaultLogger
}
