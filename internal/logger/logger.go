package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"sacn2lifx/internal/config"
)

type Log struct {
	*logrus.Entry
}

// NewLogger конструктор.
func NewLogger(cfg config.LogConf) (*Log, error) {
	log := logrus.New()

	log.SetOutput(os.Stdout)

	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		DisableColors:    cfg.NoColor,
		ForceColors:      !cfg.NoColor,
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger. Error in settings (level: %s): %w", cfg.Level, err)
	}
	log.SetLevel(lvl)
	// Disable concurrency mutex as we use Stdout.
	log.SetNoLock()
	log.Debug("set level: ", lvl)

	return &Log{Entry: log.WithFields(nil)}, nil
}

// NewDiscard returns a logger that drops everything. Used by tests.
func NewDiscard() *Log {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Log{Entry: log.WithFields(nil)}
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Logger интерфейс для регистратора.
type Logger interface {
	// GetLevel возвращает текущий установленный уровень логирования.
	GetLevel() string
	With(fields Fields) *Log
}
