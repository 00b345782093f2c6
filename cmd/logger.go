// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"strings"
)

// stdLogger prints engine and runner log lines through the log package as
// "[LEVEL] message key=value ...".
type stdLogger struct {
	logger  *log.Logger
	verbose bool
}

func newStdLogger(logger *log.Logger, verbose bool) *stdLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &stdLogger{logger: logger, verbose: verbose}
}

func (l *stdLogger) Debug(msg string, kv ...interface{}) {
	if l.verbose {
		l.print("DEBUG", msg, kv)
	}
}

func (l *stdLogger) Info(msg string, kv ...interface{}) {
	l.print("INFO", msg, kv)
}

func (l *stdLogger) Error(msg string, kv ...interface{}) {
	l.print("ERROR", msg, kv)
}

func (l *stdLogger) print(level, msg string, kv []interface{}) {
	l.logger.Print(formatLogLine(level, msg, kv))
}

func formatLogLine(level, msg string, kv []interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, " %v", kv[i])
		}
	}
	return b.String()
}
