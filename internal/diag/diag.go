// diag.go — Self-diagnostics logger for the collector.
// Everything the collector reports about itself goes through here, writing to
// the process stderr stream directly — never through the wrapped standard
// library loggers, which would re-enter the console capture path.
// Quiet by default: only warnings and errors are emitted.
package diag

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.Mutex
	logger = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	return l
}

// L returns the diagnostics logger scoped to a pipeline component.
func L(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()
	return logger.WithField("component", component)
}

// SetOutput redirects diagnostics. Tests point this at a buffer; the
// coordinator leaves it on stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// SetVerbose lowers the threshold to debug for troubleshooting sessions.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
}
