package utils

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

var errLogLevel = errors.New("unexpected log level")

// Parse one of "error", "warn", "info", "debug".
func ParseLogLevel(logLevel string) (slog.Level, error) {
	switch logLevel {
	case "error":
		return slog.LevelError, nil
	case "warn":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return 0, fmt.Errorf("%w %q", errLogLevel, logLevel)
	}
}

// Configure the slog logger with a specific log level and potential output file.
//
// Valid log levels are "none", "error", "warn", "info", "debug". Any other value returns an error.
// logFile may either specify a file path (an error is returned if the path cannot be opened) or none,
// in which case the logger points to stdout. If loggerOptions.Level is set, e.g. to a *slog.LevelVar
// that is changed on config reload, it takes precedence over logLevel.
//
// Returns the os.File pointer that slog writes to, so it may be gracefully shut:
// ```
// logFilePointer, err := utils.ConfigureDefaultLogger(level, file, slog.HandlerOptions{})
//
//	if logFilePointer != nil{
//		defer logFilePointer.Close()
//	}
//
// ```
func ConfigureDefaultLogger(logLevel string, logFile string, loggerOptions slog.HandlerOptions) (*os.File, error) {
	if logLevel == "none" {
		// No logging is required, disable the logger and return
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return nil, nil
	}
	level, err := ParseLogLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if loggerOptions.Level == nil {
		loggerOptions.Level = level
	}

	// --------------------------------------------------------------------------------

	var logFilePointer *os.File
	var slogHandler slog.Handler
	if logFile == "" {
		slogHandler = slog.NewTextHandler(os.Stdout, &loggerOptions)
	} else {
		logFilePointer, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		slogHandler = slog.NewJSONHandler(logFilePointer, &loggerOptions)
	}

	// --------------------------------------------------------------------------------

	slog.SetDefault(slog.New(slogHandler))
	return logFilePointer, nil
}
