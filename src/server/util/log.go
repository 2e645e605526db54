package util

import (
	"log"
	"strings"
	"sync"
)

var (
	debugOnce    sync.Once
	debugEnabled bool
)

// DebugEnabled reports whether IO_LOG asks for debug output. The variable
// is read from the environment first, then from .env.local.
func DebugEnabled() bool {
	debugOnce.Do(func() {
		level := strings.ToLower(Getenv("IO_LOG"))
		debugEnabled = level == "debug" || level == "trace"
	})
	return debugEnabled
}

// Debugf logs only when debug output is enabled.
func Debugf(format string, args ...any) {
	if DebugEnabled() {
		log.Printf("debug: "+format, args...)
	}
}
