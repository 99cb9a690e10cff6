package otr

import (
	"os"

	logging "gopkg.in/op/go-logging.v1"
)

// loggingBackend is the process-wide go-logging backend every component
// logger is attached to. Grounded on core/log/log.go's Backend: unlike
// the teacher's version this module never writes to a file — the host
// embedding this library owns log destinations, so the default backend
// writes to stderr at NOTICE and callers may replace it with
// SetLogBackend.
var loggingBackend logging.LeveledBackend

func init() {
	SetLogBackend(logging.NewLogBackend(os.Stderr, "", 0), logging.NOTICE)
}

// SetLogBackend installs a new go-logging backend at the given minimum
// level, replacing the default stderr backend. Call this once at
// process start if the embedding application wants OTR's log lines
// routed elsewhere.
func SetLogBackend(backend logging.Backend, level logging.Level) {
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(
		"%{time:15:04:05.000} %{level:.4s} %{module}: %{message}",
	))
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")
	loggingBackend = leveled
}

// getLogger returns a per-component logger attached to the current
// backend. Components never log plaintext, key material, or the SMP
// secret input — only state transitions, message types, and error
// categories, per SPEC_FULL.md §4.8.
func getLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(loggingBackend)
	return l
}

var (
	logDispatch = getLogger("otr/dispatch")
	logAKE      = getLogger("otr/ake")
	logSMP      = getLogger("otr/smp")
	logSession  = getLogger("otr/session")
)
