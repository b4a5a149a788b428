package matcher

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "matcher")
