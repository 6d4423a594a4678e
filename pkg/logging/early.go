package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog reports startup failures that happen before the config, and so
// the zap logger, is available.
type EarlyLog struct {
	out    io.Writer
	prefix string
}

func NewEarlyLog(command string) *EarlyLog {
	return &EarlyLog{out: os.Stderr, prefix: command}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "%s: error: %s\n", l.prefix, fmt.Sprintf(msg, args...))
}
