package log

import (
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var debug bool

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("LINEPIPE_DEBUG"))
	if err != nil {
		debug = false
	}
}

// GetLogger returns the default logger for components built without
// one. If LINEPIPE_DEBUG is set, it writes debug output to stderr, so
// pipeline output on stdout is never mixed with logs. Otherwise it
// discards everything.
func GetLogger() *logrus.Logger {
	if !debug {
		return Silent()
	}
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// New returns a logger with provided level. LINEPIPE_DEBUG overrides
// the level to debug.
func New(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l, nil
}

// Silent returns a logger which discards everything.
func Silent() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
