// Package debug provides an env-gated debug logger. It is a no-op unless
// DEBUG_LOG is set, so call sites can log liberally without cost in
// production builds.
package debug

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
)

var opts struct {
	enabled bool
	logger  *log.Logger
}

func init() {
	path := os.Getenv("DEBUG_LOG")
	if path == "" {
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "debug: unable to open DEBUG_LOG %q: %v\n", path, err)
		return
	}

	opts.logger = log.New(f, "", log.LstdFlags)
	opts.enabled = true
}

// Log writes a formatted debug message including the caller's file and line.
// It is a no-op when debug logging is disabled.
func Log(format string, args ...interface{}) {
	if !opts.enabled {
		return
	}

	_, file, line, ok := runtime.Caller(1)
	if ok {
		file = filepath.Base(file)
	} else {
		file, line = "???", 0
	}

	opts.logger.Output(2, fmt.Sprintf("%s:%d  %s", file, line, fmt.Sprintf(format, args...)))
}

// Enabled reports whether debug logging is currently active.
func Enabled() bool {
	return opts.enabled
}
