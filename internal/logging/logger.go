// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger is a minimal structured logger: a thin wrapper around the standard
// library's log.Logger that appends key=value attributes after the message.
// Errors returned by the underlying writer are ignored without any warning,
// so a failing destination (such as a syslog forwarder) never stalls the
// caller.
type Logger struct {
	mu     sync.Mutex
	std    *log.Logger
	fields []any
}

// New returns a Logger writing to w, prefixed with name.
func New(w io.Writer, name string) *Logger {
	return &Logger{std: log.New(w, "["+name+"] ", log.LstdFlags|log.Lmicroseconds)}
}

// Default returns a Logger writing to stderr, used when no explicit logger
// is wired in (tests, one-off tools).
func Default(name string) *Logger {
	return New(os.Stderr, name)
}

// With returns a child Logger that always includes the given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	child := &Logger{std: l.std, fields: append(append([]any{}, l.fields...), kv...)}
	return child
}

func (l *Logger) log(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)

	all := append(append([]any{}, l.fields...), kv...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	l.std.Print(b.String())
}

func (l *Logger) Debug(msg string, kv ...any) { l.log("debug", msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.log("info", msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log("warn", msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.log("error", msg, kv) }
