package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// This won't be as verbose as tracing, which is likely for testing only.
var VerboseEnabled = false

func Fverbosef(w io.Writer, format string, v ...interface{}) {
	if VerboseEnabled {
		fmt.Fprintf(w, format, v...)
	}
}

var tracingLoaded = false

// Tags enabled. Value ignored
var TraceSetting = map[string]bool{}

// Supply the TRACE environment variable with a comma-separated list of
// trace tags to enable.
func LoadTraceSetting() {
	tracingLoaded = true
	traceVar := os.Getenv("TRACE")
	if traceVar != "" {
		tags := strings.Split(traceVar, ",")
		for _, tag := range tags {
			TraceSetting[strings.TrimSpace(tag)] = true
		}
	}
}

func MaybeLoadTraceSetting() {
	if !tracingLoaded {
		LoadTraceSetting()
	}
}

func Tracef(tag string, format string, v ...interface{}) {
	MaybeLoadTraceSetting()
	if _, ok := TraceSetting[tag]; ok {
		fmt.Fprintf(os.Stderr, "TR "+tag+" "+format+"\n", v...)
	}
}

type ErrorPrinter interface {
	Ln(v ...interface{})
	F(format string, v ...interface{})
}

// The default ErrorPrinter
type StderrErrorPrinter struct{}

func (p *StderrErrorPrinter) Ln(v ...interface{}) {
	fmt.Fprintln(os.Stderr, v...)
}

func (p *StderrErrorPrinter) F(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format, v...)
}

// L is the process-wide structured logger. Nil until Init is called; use
// Logger() to get a usable value at any time.
var L *slog.Logger

// ParseLevel maps a level name to a slog.Level. Unknown names are INFO.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Init builds the global structured logger. Log records go to w (stderr when
// nil), as JSON when asJSON is set and as logfmt-style text otherwise.
func Init(levelName string, asJSON bool, w io.Writer) *slog.Logger {
	level, ok := ParseLevel(levelName)
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	L = slog.New(handler)
	if !ok {
		L.Warn("Invalid log level specified, defaulting to INFO", "configuredLevel", levelName)
	}
	return L
}

// Logger returns the global logger, falling back to slog's default.
func Logger() *slog.Logger {
	if L != nil {
		return L
	}
	return slog.Default()
}
