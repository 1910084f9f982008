// Package log provides structured, colored logging for Plexus nodes.
package log

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the system.
var (
	Identity         zerolog.Logger
	Swarm            zerolog.Logger
	Mesh             zerolog.Logger
	EngineTextGen    zerolog.Logger
	EngineEmbed      zerolog.Logger
	EngineTranscribe zerolog.Logger
	EngineVectorDB   zerolog.Logger
	ChatHistory      zerolog.Logger
	Node             zerolog.Logger
)

func init() {
	// Default to colored console output.
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init initializes the logger with the given configuration.
// When file is non-empty, logs are written to both the console (colored or
// JSON depending on jsonOutput) and the file (always JSON for machine parsing).
// A failure to open the log file degrades to console-only logging rather
// than aborting the caller — log-writer failure must never take the node down.
func Init(level string, jsonOutput bool, file string) error {
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			Logger = NewConsoleLogger(os.Stdout, level)
			initComponentLoggers()
			return err
		}

		lvl := parseLevel(level)

		var consoleWriter io.Writer
		if jsonOutput {
			consoleWriter = os.Stdout
		} else {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: "15:04:05",
				NoColor:    false,
			}
		}

		multi := zerolog.MultiLevelWriter(consoleWriter, f)
		Logger = zerolog.New(multi).
			Level(lvl).
			With().
			Timestamp().
			Logger()
	} else if jsonOutput {
		Logger = NewJSONLogger(os.Stdout, level)
	} else {
		Logger = NewConsoleLogger(os.Stdout, level)
	}

	initComponentLoggers()
	return nil
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    false,
	}

	lvl := parseLevel(level)
	return zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	lvl := parseLevel(level)
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	Identity = Logger.With().Str("component", "identity").Logger()
	Swarm = Logger.With().Str("component", "swarm").Logger()
	Mesh = Logger.With().Str("component", "mesh").Logger()
	EngineTextGen = Logger.With().Str("component", "engine.textgen").Logger()
	EngineEmbed = Logger.With().Str("component", "engine.embed").Logger()
	EngineTranscribe = Logger.With().Str("component", "engine.transcribe").Logger()
	EngineVectorDB = Logger.With().Str("component", "engine.vectorstore").Logger()
	ChatHistory = Logger.With().Str("component", "chathistory").Logger()
	Node = Logger.With().Str("component", "node").Logger()
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Debug logs a debug message.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info logs an info message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error logs an error message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal logs a fatal message and exits.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// Benchmark returns a stop function that logs the elapsed duration when called.
func Benchmark(name string) func() {
	start := time.Now()
	return func() {
		Logger.Debug().
			Str("operation", name).
			Dur("duration", time.Since(start)).
			Msg("benchmark")
	}
}

// RecoverAndLog recovers a panic in the calling goroutine, logging its value
// and stack trace instead of letting it crash the process. Call via
// `defer log.RecoverAndLog("run loop")`.
func RecoverAndLog(where string) {
	if r := recover(); r != nil {
		Logger.Error().
			Str("goroutine", where).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("recovered from panic")
	}
}
