// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide structured logger shared by every hioload-rpc package.

package logging

import (
	"os"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component", "category"},
	})
	root.SetOutput(os.Stdout)
	root.SetLevel(logrus.InfoLevel)
}

// New returns a logger entry tagged with the given component name.
func New(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// Root exposes the underlying logger, e.g. for redirecting output in tests.
func Root() *logrus.Logger {
	return root
}

// SetLevel parses and applies a textual level ("debug", "info", ...).
// Unknown levels leave the current level untouched and return the parse error.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	root.SetLevel(lvl)
	return nil
}
