package upstream

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "upstream")
