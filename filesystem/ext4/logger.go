package ext4

import "github.com/sirupsen/logrus"

// log is the package-level logger used to report soft metadata-checksum
// failures (spec.md §4.4/§4.6/§7: "log and continue"). The teacher's go.mod
// already carries logrus as a dependency; this is where it earns its keep.
var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger overrides the logger used for soft-failure reporting. Callers
// embedding this module in a larger kernel build can route these events
// into their own structured logging sink.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		log = l
	}
}
