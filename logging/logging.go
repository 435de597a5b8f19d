// Package logging wires up the console (and optional syslog) backends
// shared by every overlay node process.
package logging

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
)

// Setup builds a named logger at the given level. When useSyslog is true
// and the platform supports it, log records are also sent to the local
// syslog daemon; console output is always enabled so a node run in the
// foreground (as in the simulator) still sees its own log lines.
func Setup(name string, level logging.Level, useSyslog bool) *logging.Logger {
	log := logging.MustGetLogger(name)

	consoleFormat := logging.MustStringFormatter(
		`%{color}%{time:15:04:05.000} %{shortfunc} ▶ %{level:.4s}%{color:reset} %{message}`,
	)
	consoleBackend := logging.NewLogBackend(os.Stderr, "", 0)
	consoleFormatted := logging.NewBackendFormatter(consoleBackend, consoleFormat)
	consoleLeveled := logging.AddModuleLevel(consoleFormatted)
	consoleLeveled.SetLevel(level, "")

	backends := []logging.Backend{consoleLeveled}

	if useSyslog {
		syslogBackend, err := logging.NewSyslogBackend(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: syslog unavailable, logging to console only: %s\n", name, err)
		} else {
			syslogLeveled := logging.AddModuleLevel(syslogBackend)
			syslogLeveled.SetLevel(level, "")
			backends = append(backends, syslogLeveled)
		}
	}

	logging.SetBackend(backends...)
	return log
}
