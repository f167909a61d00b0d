// Package scrlog provides the lifecycle logger consumed by the Attempt
// Driver (spec.md §4.8). It is deliberately small: leveled writers with
// swappable io.Writer sinks, no external dependency, in the style of
// ClusterCockpit's log package — lost entries never block or fail a fetch,
// so every Log* call here is best-effort and ignores write errors.
package scrlog

import (
	"fmt"
	"io"
	"os"
	"time"
)

var (
	// InfoWriter receives lifecycle events (FETCH STARTED/SUCCEEDED/FAILED).
	InfoWriter io.Writer = os.Stderr
	// ErrorWriter receives failures.
	ErrorWriter io.Writer = os.Stderr
)

// Event is a single lifecycle record. Only rank 0 ever constructs one.
type Event struct {
	Name      string // e.g. "FETCH STARTED"
	Dir       string
	DatasetID int64 // 0 if unknown
	At        time.Time
	ElapsedS  float64 // 0 if not applicable
	HasElapsed bool

	// Transfer-only fields, set when Name == "FETCH TRANSFER".
	Src, Dst string
	Bytes    int64
}

func (e Event) String() string {
	s := fmt.Sprintf("[%s] %s dir=%s", e.At.Format(time.RFC3339), e.Name, e.Dir)
	if e.DatasetID != 0 {
		s += fmt.Sprintf(" dataset=%d", e.DatasetID)
	}
	if e.HasElapsed {
		s += fmt.Sprintf(" elapsed=%.3fs", e.ElapsedS)
	}
	if e.Src != "" || e.Dst != "" {
		s += fmt.Sprintf(" src=%s dst=%s bytes=%d", e.Src, e.Dst, e.Bytes)
	}
	return s
}

// Logger is the pluggable sink the Attempt Driver writes lifecycle events
// to. A nil Logger is valid and discards everything.
type Logger struct {
	w io.Writer
}

// New returns a Logger writing to w. If w is nil, events are discarded.
func New(w io.Writer) *Logger {
	return &Logger{w: w}
}

// Default returns a Logger writing to InfoWriter.
func Default() *Logger {
	return &Logger{w: InfoWriter}
}

func (l *Logger) Log(e Event) {
	if l == nil || l.w == nil {
		return
	}
	// Best-effort: a logging failure must never fail or block a fetch.
	fmt.Fprintln(l.w, e.String())
}

func (l *Logger) Started(dir string) {
	l.Log(Event{Name: "FETCH STARTED", Dir: dir, At: now()})
}

func (l *Logger) Succeeded(dir string, datasetID int64, elapsed time.Duration) {
	l.Log(Event{Name: "FETCH SUCCEEDED", Dir: dir, DatasetID: datasetID, At: now(), ElapsedS: elapsed.Seconds(), HasElapsed: true})
}

func (l *Logger) Failed(dir string, elapsed time.Duration) {
	l.Log(Event{Name: "FETCH FAILED", Dir: dir, At: now(), ElapsedS: elapsed.Seconds(), HasElapsed: true})
}

func (l *Logger) Transfer(dir, src, dst string, bytes int64) {
	l.Log(Event{Name: "FETCH TRANSFER", Dir: dir, Src: src, Dst: dst, Bytes: bytes, At: now()})
}

func now() time.Time { return time.Now() }

func Debugf(format string, args ...interface{}) {
	fmt.Fprintf(InfoWriter, "<debug> "+format+"\n", args...)
}

func Errorf(format string, args ...interface{}) {
	fmt.Fprintf(ErrorWriter, "<error> "+format+"\n", args...)
}
