package logrus

import (
	"github.com/sirupsen/logrus"

	heytomcache "github.com/heytom-labs/heytom-cache"
)

type LogrusLogger struct{ E *logrus.Entry }

var _ heytomcache.Logger = LogrusLogger{}

func (l LogrusLogger) Debug(msg string, f heytomcache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f heytomcache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Info(msg)
}
func (l LogrusLogger) Warn(msg string, f heytomcache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Warn(msg)
}
func (l LogrusLogger) Error(msg string, f heytomcache.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
