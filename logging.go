package main

import (
	"os"

	"github.com/m-mizutani/erspanx/pkg/erspan"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = logrus.New()

const (
	logFileMaxSize    = 100 // megabytes
	logFileMaxBackups = 5
	logFileMaxAge     = 28 // days
)

// setupLogger applies level and output to both the command and library loggers.
func setupLogger(level, path string) error {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "Invalid log level: %s", level)
	}

	formatter := &prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	}

	for _, l := range []*logrus.Logger{logger, erspan.Logger} {
		l.SetLevel(lv)
		l.SetFormatter(formatter)
		l.SetOutput(os.Stderr)
	}

	if path != "" {
		w := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    logFileMaxSize,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAge,
			Compress:   true,
		}
		formatter.DisableColors = true
		logger.SetOutput(w)
		erspan.Logger.SetOutput(w)
	}

	return nil
}
