// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Formats accepted by Setup.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup sets the level and formatter of the standard logger. DEBUG=true in
// the environment forces the debug level.
func Setup(level, format string) error {
	return Configure(log.StandardLogger(), level, format)
}

// Configure applies level and format to logger.
func Configure(logger *log.Logger, level, format string) error {
	lvl := log.InfoLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		lvl = log.DebugLevel
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", FormatText:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// Writer returns an io.Writer that logs each line at the given level.
func Writer(level log.Level) io.Writer {
	return log.StandardLogger().WriterLevel(level)
}
