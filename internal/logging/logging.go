package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultLogFile is where runs are recorded in addition to the console.
const DefaultLogFile = "/var/log/rpi-setup.log"

// Setup configures the global logger: a console writer on stderr plus an
// append-only log file. Verbosity comes from the -v flag count.
func Setup(verbosity int) {
	switch verbosity {
	case 0:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}

	writers := []io.Writer{console}
	logFile, err := openLogFile()
	if err == nil {
		writers = append(writers, logFile)
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()

	if err != nil {
		log.Warn().Err(err).Msg("log file unavailable, logging to console only")
	}
	log.Debug().Int("verbosity", verbosity).Msg("logger initialized")
}

// GetLogger returns a logger tagged with a component name.
func GetLogger(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func openLogFile() (*os.File, error) {
	f, err := os.OpenFile(DefaultLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		// /var/log needs root; fall back to the working directory so
		// --dry-run works for unprivileged users.
		return os.OpenFile("rpi-setup.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	return f, nil
}
