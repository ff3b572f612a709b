package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log  *logrus.Logger
	once sync.Once
)

// Init configures the shared logger. Unknown levels fall back to info.
func Init(level string) {
	l := GetLogger()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
}

// GetLogger returns the process-wide logger, creating it on first use.
func GetLogger() *logrus.Logger {
	once.Do(func() {
		log = logrus.New()
		log.SetOutput(os.Stdout)
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
		log.SetLevel(logrus.InfoLevel)
	})
	return log
}

// ForSchool returns an entry tagged with the tenant id.
func ForSchool(schoolID string) *logrus.Entry {
	return GetLogger().WithField("school_id", schoolID)
}
