package logger

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the service logger for the given environment. local gets
// human readable text at debug level, dev JSON at debug, prod JSON at info.
func New(env, service string) *logrus.Logger {
	return newWithOutput(env, service, os.Stdout)
}

func newWithOutput(env, service string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	switch env {
	case "local":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
		log.SetLevel(logrus.DebugLevel)
	case "dev":
		log.SetFormatter(jsonFormatter())
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetFormatter(jsonFormatter())
		log.SetLevel(logrus.InfoLevel)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if lvl, err := logrus.ParseLevel(level); err == nil {
			log.SetLevel(lvl)
		}
	}

	log.AddHook(serviceHook{service: service})
	return log
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "ts",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// serviceHook stamps every entry with the service name.
type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = h.service
	}
	return nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
