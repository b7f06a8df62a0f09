package core

import (
	"os"

	"github.com/op/go-logging"
)

var logFormat = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000000} %{shortfunc} %{level:s} %{id:03x}%{color:reset} %{message}`,
)

// ConfigureLogging sets the process-wide logging backend. verbose lifts
// the level to DEBUG; the default keeps network-input noise out.
func ConfigureLogging(verbose bool) {
	backend := logging.NewLogBackend(os.Stderr, "[authd] ", 0)
	backendFormatter := logging.NewBackendFormatter(backend, logFormat)
	backendLeveled := logging.AddModuleLevel(backendFormatter)
	if verbose {
		backendLeveled.SetLevel(logging.DEBUG, "")
	} else {
		backendLeveled.SetLevel(logging.INFO, "")
	}
	logging.SetBackend(backendLeveled)
}

// NewLogger returns the module logger for the given subsystem.
func NewLogger(module string) *logging.Logger {
	return logging.MustGetLogger(module)
}
