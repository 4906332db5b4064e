package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	logrusPackage  = "sirupsen/logrus"
	wrapperPackage = "marketflow/logger."
)

// callerHook rewrites entry.Caller to the first frame outside logrus and
// this wrapper so file:line points at the real call site.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 20)
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(fn string) bool {
	return strings.Contains(fn, logrusPackage) || strings.Contains(fn, wrapperPackage)
}
