package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

const (
	JSON = "json"
	Text = "text"
	Tint = "tint"
)

// Initialize installs the default slog logger writing to stderr.
func Initialize(loggingType string, logLevelName string) error {
	logger, err := New(os.Stderr, loggingType, logLevelName)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	slog.Debug("logging initialized", "type", loggingType, "logLevel", logLevelName)
	return nil
}

// New builds a logger of the given type. Stdout stays free for run results.
func New(w io.Writer, loggingType string, logLevelName string) (*slog.Logger, error) {
	var logLevel slog.Level
	err := logLevel.UnmarshalText([]byte(logLevelName))
	if err != nil {
		return nil, fmt.Errorf("could not parse log level: %v", err)
	}

	var (
		logHandlerOptions = slog.HandlerOptions{
			AddSource: logLevel <= slog.LevelDebug,
			Level:     logLevel,
		}
		logHandler slog.Handler
	)

	switch loggingType {
	case JSON:
		logHandler = slog.NewJSONHandler(w, &logHandlerOptions)
	case Text:
		logHandler = slog.NewTextHandler(w, &logHandlerOptions)
	case Tint:
		logHandler = tint.NewHandler(w, &tint.Options{
			AddSource: logHandlerOptions.AddSource,
			Level:     logHandlerOptions.Level,
			NoColor:   os.Getenv("NO_COLOR") != "",
		})
	default:
		return nil, fmt.Errorf("unknown logging type: %s", loggingType)
	}

	return slog.New(logHandler), nil
}
