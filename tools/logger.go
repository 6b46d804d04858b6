package tools

import (
	"log"
	"time"
)

// Progress output for the CLI, separate from the glog diagnostics stream.
// Silent mode drops it entirely.
var (
	outputEnabled   = true
	outputTimestamp = true
)

func DisableLogger() {
	outputEnabled = false
}

func DisableLoggerTimestamp() {
	outputTimestamp = false
}

func LogOutput(val ...interface{}) {
	if !outputEnabled {
		return
	}
	if outputTimestamp {
		val = append([]interface{}{"[" + time.Now().Format("2006-01-02 15:04:05.000") + "]"}, val...)
	}
	log.Println(val...)
}
