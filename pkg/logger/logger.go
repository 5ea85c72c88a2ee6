package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logDir      = "log"
	logFilename = "btc-borrow.log"
)

// Logger is the process-wide logger. It discards everything until Init is called
// so library packages can log unconditionally from tests.
var Logger = zerolog.Nop()

var logFilePath string

// Init configures the console logger at the given level ("debug", "info", ...).
func Init(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}

	Logger = newLogger(consoleWriter, parseLevel(level))
}

// AddFileLogger adds a rotating file sink under workdir/log next to the console.
func AddFileLogger(workdir string) error {
	dir := filepath.Join(workdir, logDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	logFilePath = filepath.Join(dir, logFilename)

	fileLogger := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxAge:     3,
		MaxBackups: 3,
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}

	Logger = newLogger(zerolog.MultiLevelWriter(consoleWriter, fileLogger), Logger.GetLevel())
	return nil
}

func GetLogFilePath() string {
	return logFilePath
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	l := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	if level <= zerolog.DebugLevel {
		l = l.With().Caller().Logger()
	}
	return l
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
