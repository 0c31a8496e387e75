package log

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var debug bool

// Logger is a global interface for dspstream loggers
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Warn(...interface{})
	WithFields(logrus.Fields) *logrus.Entry
}

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("DSPSTREAM_DEBUG"))
	if err != nil {
		debug = false
	}
}

// GetLogger returns a new logger instance
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Component returns an entry tagged with component name and id.
func Component(l Logger, name, id string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"component": name,
		"id":        id,
	})
}
