package util

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// PanicHandler recovers panics in long-lived goroutines (RTP readers,
// watchdogs, upstream readers) and logs them with a stack trace instead of
// crashing the process.
type PanicHandler struct {
	logger *logrus.Logger
}

// NewPanicHandler creates a PanicHandler bound to logger.
func NewPanicHandler(logger *logrus.Logger) *PanicHandler {
	return &PanicHandler{logger: logger}
}

// Recover should be deferred at the top of any goroutine that must not take
// the process down with it. component identifies the caller for the log line.
func (h *PanicHandler) Recover(component string) {
	if r := recover(); r != nil {
		_, file, line, _ := runtime.Caller(2)
		h.logger.WithFields(logrus.Fields{
			"component": component,
			"panic":     fmt.Sprintf("%v", r),
			"caller":    fmt.Sprintf("%s:%d", file, line),
			"stack":     string(debug.Stack()),
		}).Error("recovered from panic")
	}
}
