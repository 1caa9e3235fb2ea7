package platform

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger and returns it.
// Console output is used for development and the CLI, JSON otherwise.
func InitLogger(level string, console bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if console {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

func LogFatal(logger zerolog.Logger, msg string, err error) {
	logger.Error().Err(err).Msg(msg)
	os.Exit(1)
}
