// Package logflags configures the per-layer loggers of idk. Every layer
// logs through its own Logger, which stays silent unless the layer is
// listed in --log-output.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var builder = false
var store = false
var reader = false
var dwexpr = false

var logOut io.WriteCloser

var textFormatterInstance = &textFormatter{}

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	logger.Logger.Level = level
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	return &logrusLogger{logger}
}

// makeFlaggableLogger returns a logger that only reports errors unless
// flag is set.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Builder returns true if the cache builder should log.
func Builder() bool {
	return builder
}

// BuilderLogger returns a logger for the cache builder. Records skipped
// while walking the debug information are reported here.
func BuilderLogger() Logger {
	return makeFlaggableLogger(builder, Fields{"layer": "builder"})
}

// Store returns true if the cache store should log.
func Store() bool {
	return store
}

// StoreLogger returns a logger for the cache store.
func StoreLogger() Logger {
	return makeFlaggableLogger(store, Fields{"layer": "store"})
}

// Reader returns true if the cache reader should log.
func Reader() bool {
	return reader
}

// ReaderLogger returns a logger for the cache reader.
func ReaderLogger() Logger {
	return makeFlaggableLogger(reader, Fields{"layer": "reader"})
}

// DWExpr returns true if evaluated location expressions should be logged.
func DWExpr() bool {
	return dwexpr
}

// DWExprLogger returns a logger for location expression evaluation.
func DWExprLogger() Logger {
	return makeFlaggableLogger(dwexpr, Fields{"layer": "dwexpr"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging flags based on the contents of logstr. If logDest
// is not empty logs are written to it, logDest can be a file path or a
// file descriptor number.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := parseFd(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "idk-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "builder"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "builder":
			builder = true
		case "store":
			store = true
		case "reader":
			reader = true
		case "dwexpr":
			dwexpr = true
		default:
			return fmt.Errorf("unknown log layer %q", logcmd)
		}
	}
	return nil
}

func parseFd(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || fmt.Sprint(n) != s {
		return 0, errors.New("not a file descriptor")
	}
	return n, nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05Z07:00"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(&b, "layer=%v ", layer)
	}
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
