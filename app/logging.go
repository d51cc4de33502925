package app

import (
	"io"

	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("nekoshield/app")

var logFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{module} ▶ %{level:.4s}%{color:reset} %{message}`,
)

// SetupLogging routes every module logger to w. Only warnings and errors are
// shown unless verbose (info) or debug is set.
func SetupLogging(verbose, debug bool, w io.Writer) {
	backend := logging.NewLogBackend(w, "", 0)

	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, logFormat))

	level := logging.WARNING
	if debug {
		level = logging.DEBUG
	} else if verbose {
		level = logging.INFO
	}
	leveled.SetLevel(level, "")

	logging.SetBackend(leveled)
}
