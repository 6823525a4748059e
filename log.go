package nostr

import (
	"github.com/rs/zerolog"
)

// logger is silent unless SetLogger is called.
var logger = zerolog.Nop()

// SetLogger sets the logger used by relays, connections and pools created by this package.
func SetLogger(l zerolog.Logger) { logger = l }

// Logger returns the package logger.
func Logger() *zerolog.Logger { return &logger }

func debugLogf(str string, args ...any) {
	logger.Debug().Msgf(str, args...)
}

func infoLogf(str string, args ...any) {
	logger.Info().Msgf(str, args...)
}
