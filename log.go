package atom

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "atom")
