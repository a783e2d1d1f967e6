package internal

import (
	"os"

	"github.com/op/go-logging"
)

const (
	logFormat = `%{color}%{time:15:04:05.000} %{level:.4s}%{color:reset} %{message}`
	module    = "drup"
)

var (
	Log = logging.MustGetLogger(module)
)

// InitLogging sets up console logging where level follows go-logging levels, 0 being CRITICAL and 5 being DEBUG.
func InitLogging(level int) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.NewBackendFormatter(backend, logging.MustStringFormatter(logFormat))
	leveled := logging.AddModuleLevel(formatter)
	leveled.SetLevel(logging.Level(level), module)
	logging.SetBackend(leveled)
}
