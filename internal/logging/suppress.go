package logging

import (
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	seen             = make(map[string]time.Time)
	seenLock         sync.Mutex
	SuppressDuration = 2 * time.Minute

	numberRegexp    = regexp.MustCompile(`[0-9]+(\.[0-9]+)?`)
	timestampRegexp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	quotedRegexp    = regexp.MustCompile(`"[^"]*"`)
)

// Normalize reduces msg to a key that is identical for lines differing only
// in quoted values, timestamps or numbers.
func Normalize(msg string) string {
	msg = quotedRegexp.ReplaceAllString(msg, "")
	msg = timestampRegexp.ReplaceAllString(msg, "")
	msg = numberRegexp.ReplaceAllString(msg, "")
	return strings.Join(strings.Fields(msg), " ")
}

// firstInWindow records msg and reports whether it should be emitted.
func firstInWindow(msg string) bool {
	key := Normalize(msg)
	seenLock.Lock()
	defer seenLock.Unlock()
	if last, found := seen[key]; found && time.Since(last) < SuppressDuration {
		return false
	}
	seen[key] = time.Now()
	return true
}

// LogOncePerDuration logs msg through logrus unless a similar line was
// logged within SuppressDuration.
func LogOncePerDuration(level log.Level, msg string) {
	if !firstInWindow(msg) {
		return
	}
	log.StandardLogger().Log(level, msg)
}

type suppressingWriter struct {
	next io.Writer
}

// NewSuppressingWriter returns an io.Writer suitable for net/http Server.ErrorLog.
// Repeated lines are dropped; the rest go to next, or to logrus at warn
// level when next is nil.
func NewSuppressingWriter(next io.Writer) io.Writer {
	return &suppressingWriter{next: next}
}

func (w *suppressingWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if !firstInWindow(msg) {
		// Pretend we wrote it to avoid backpressure.
		return len(p), nil
	}
	if w.next != nil {
		return w.next.Write(p)
	}
	log.Warnf("http: %s", strings.TrimRight(msg, "\n"))
	return len(p), nil
}

// resetSuppression clears remembered lines. Tests use it.
func resetSuppression() {
	seenLock.Lock()
	defer seenLock.Unlock()
	seen = make(map[string]time.Time)
}
