package log

import (
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// NewTest returns a Logger that records entries at every level into the
// returned hook, for assertions in package tests.
func NewTest() (Logger, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.TraceLevel)
	return &logrusAdapter{entry: logrus.NewEntry(l)}, hook
}
