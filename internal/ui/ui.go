// Package ui owns everything the engine prints: progress lines,
// verbose traces and fatal diagnostics. Output goes through a single
// logrus logger so lines from parallel workers never interleave.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gookit/color"
	"github.com/sirupsen/logrus"
)

var (
	mu     sync.Mutex
	logger = newLogger(os.Stdout)
)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(plainFormatter{})
	return l
}

// plainFormatter emits the message verbatim, one line per entry.
// Level, timestamp and fields are deliberately dropped: the engine's
// output is user-facing progress, not a structured log.
type plainFormatter struct{}

func (plainFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return append([]byte(e.Message), '\n'), nil
}

// Configure sets the output volume. Verbose enables per-step cache and
// command traces; silent suppresses everything except errors. Silent
// wins when both are set.
func Configure(verbose, silent bool) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case silent:
		logger.SetLevel(logrus.ErrorLevel)
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Printf emits a progress line.
func Printf(format string, args ...any) {
	logger.Infof(format, args...)
}

// Verbosef emits a line only in verbose mode.
func Verbosef(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Verbose reports whether verbose tracing is enabled, for callers that
// build an expensive message.
func Verbose() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// Stepf emits the completion line for a step.
func Stepf(name, what string) {
	logger.Infof("%s %s %s", Gray("[step]"), Yellow(name), what)
}

// Warnf emits a highlighted notice. Shown even without verbose, hidden
// when silent.
func Warnf(format string, args ...any) {
	logger.Infof("%s", Yellow(fmt.Sprintf(format, args...)))
}

// Errorf writes the single-line fatal diagnostic to stderr:
//
//	bpp: error: <message>
func Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s %s\n",
		Gray("bpp:"), color.Red.Render("error:"), Bold(fmt.Sprintf(format, args...)))
}

// Color helpers render with ANSI styles when the terminal supports
// them; gookit downgrades to plain text otherwise.

func Gray(s string) string    { return color.Gray.Render(s) }
func Yellow(s string) string  { return color.Yellow.Render(s) }
func Cyan(s string) string    { return color.Cyan.Render(s) }
func Bold(s string) string    { return color.Bold.Render(s) }
func Magenta(s string) string { return color.Magenta.Render(s) }
