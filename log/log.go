// Package log provides the logging facilities used across dgram. It wraps a
// single package-level zerolog.Logger which components inherit unless handed
// an explicit logger of their own.
package log

import (
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh/terminal"
)

var logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

func init() {
	// prettify if terminal is a console
	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// Disable disables the dgram logger.
func Disable() {
	logger = zerolog.New(nil).Level(zerolog.Disabled)
}

// Logger returns a copy of the package logger.
func Logger() zerolog.Logger {
	return logger
}

// Level creates a child logger with the minimum accepted level set to level.
func Level(level zerolog.Level) zerolog.Logger {
	return logger.Level(level)
}

// Debug starts a new message with debug level.
//
// You must call Msg on the returned event in order to send the event.
func Debug() *zerolog.Event {
	return logger.Debug()
}

// Info starts a new message with info level.
//
// You must call Msg on the returned event in order to send the event.
func Info() *zerolog.Event {
	return logger.Info()
}

// Warn starts a new message with warn level.
//
// You must call Msg on the returned event in order to send the event.
func Warn() *zerolog.Event {
	return logger.Warn()
}

// Error starts a new message with error level.
//
// You must call Msg on the returned event in order to send the event.
func Error() *zerolog.Event {
	return logger.Error()
}

// Fatal starts a new message with fatal level. The os.Exit(1) function
// is called by the Msg method.
//
// You must call Msg on the returned event in order to send the event.
func Fatal() *zerolog.Event {
	return logger.Fatal()
}
