package slope

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "slope")
