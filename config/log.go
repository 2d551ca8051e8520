package config

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger sets up the global logger. When a log file is configured, logs
// go to stdout and to the file, rotated by size. The returned closer must be
// called on shutdown.
func InitLogger() io.Closer {
	log.SetLevel(log.Level(GetInt(LogLevelKey)))
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	logFile := GetString(LogFileKey)
	if logFile == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    GetInt(LogMaxSizeKey),
		MaxBackups: GetInt(LogMaxBackupsKey),
		MaxAge:     GetInt(LogMaxAgeKey),
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
