// Package common provides the shared logging infrastructure for the TSDS
// services. The logger routes error-level output to stderr and everything
// else to stdout so that process managers and log collectors can treat the
// two streams differently.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their level. It operates on the final formatted output, so it works with
// both the text and JSON logrus formatters.
type OutputSplitter struct{}

// Write implements io.Writer. Lines containing "level=error" (text) or
// "level":"error" (JSON) go to stderr, everything else goes to stdout.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance shared by all TSDS services. Services
// log through this instance so that formatting and stream routing stay
// consistent across the fleet.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
