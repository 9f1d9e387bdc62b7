package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bilisync/bilisync/internal/observer"
)

var _ observer.Observer = (*logObserver)(nil)

// logObserver is the terminal-facing sink implementation cmd/bilisync
// decides to use for progress reporting (internal/observer's package
// doc draws this line explicitly). It writes one line per phase and
// cycle completion rather than per-task, since a subscription can carry
// hundreds of page-level tasks and a line each would drown the
// meaningful signal — grounded on AVMC's progressUI's same choice to
// summarize rather than echo every event to the terminal.
type logObserver struct {
	w io.Writer

	mu sync.Mutex
}

func newLogObserver(w io.Writer) *logObserver {
	return &logObserver{w: w}
}

func (l *logObserver) OnCycleStart(subscriptionID int64, subscriptionTitle string) {
	l.printf("cycle start: subscription %d (%s)", subscriptionID, subscriptionTitle)
}

func (l *logObserver) OnPhaseDone(phase string, fields map[string]any, dur time.Duration) {
	l.printf("phase %s done in %s: %v", phase, dur.Round(time.Millisecond), fields)
}

func (l *logObserver) OnTaskDone(t observer.TaskResult) {
	if t.Succeeded {
		return
	}
	l.printf("task failed: video=%d page=%d field=%s error=%s (%s)", t.VideoID, t.PageID, t.Field, t.ErrorCode, t.ErrorMsg)
}

func (l *logObserver) OnCycleDone(report observer.CycleReport) {
	l.printf("cycle done: subscription %d (%s): discovered=%d processed=%d failed=%d invalid=%d cancelled=%d risk_control=%v",
		report.SubscriptionID, report.SubscriptionTitle, report.Discovered,
		report.Summary.Processed, report.Summary.Failed, report.Summary.Invalid, report.Summary.Cancelled,
		report.RiskControlTripped)
}

func (l *logObserver) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%s] %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}
