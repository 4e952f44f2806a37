/******************************************************************************
 *
 *  Description :
 *    Package exposes info, warning and error loggers.
 *
 *****************************************************************************/
package logs

import (
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	Info *log.Logger
	Warn *log.Logger
	Err  *log.Logger
)

// Config is the `logging` section of the server config.
type Config struct {
	// One of "debug", "info", "warn", "error". Default "info".
	Level string `json:"level"`
	// Emit JSON lines instead of human-readable console output.
	JSON bool `json:"json"`
	// Optional log file. Stderr if empty.
	File string `json:"file"`
}

// levelWriter feeds lines written by a *log.Logger into zerolog at a fixed level.
type levelWriter struct {
	zl    zerolog.Logger
	level zerolog.Level
}

func (w levelWriter) Write(p []byte) (int, error) {
	w.zl.WithLevel(w.level).Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func init() {
	// Usable before Init() is called, e.g. in tests.
	Init(Config{})
}

// Init configures the loggers. Returns the underlying zerolog logger.
func Init(conf Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	if conf.File != "" {
		if f, err := os.OpenFile(conf.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err == nil {
			out = f
		} else {
			log.Println("logs: failed to open log file, using stderr:", err)
		}
	}
	if !conf.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: conf.File != ""}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(conf.Level))
	if err != nil || conf.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()

	Info = log.New(levelWriter{zl: zl, level: zerolog.InfoLevel}, "", log.Lshortfile)
	Warn = log.New(levelWriter{zl: zl, level: zerolog.WarnLevel}, "", log.Lshortfile)
	Err = log.New(levelWriter{zl: zl, level: zerolog.ErrorLevel}, "", log.Lshortfile)

	return zl
}
