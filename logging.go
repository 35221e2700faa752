package fieldsync

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns a logger for the client. With debug set the level is
// Debug, otherwise Info. A non-empty logPath sends output to a rotated file
// instead of stderr.
func NewLogger(debug bool, logPath string) *log.Logger {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger.SetLevel(log.InfoLevel)
	if debug {
		logger.SetLevel(log.DebugLevel)
	}

	var out io.Writer = os.Stderr
	if logPath != "" {
		out = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	logger.SetOutput(out)
	return logger
}

func discardLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}
