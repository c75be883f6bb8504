package metrics

import (
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"
)

// Metrics counts admissions and run outcomes. All counters are safe for
// concurrent use; the gate and the runner completion hook increment them
// from different goroutines.
type Metrics struct {
	Submissions    *xsync.Counter
	BusyRejections *xsync.Counter
	BadRequests    *xsync.Counter
	RunsFinished   *xsync.Counter
	RunsFailed     *xsync.Counter
	RunsTimeout    *xsync.Counter
}

func New() *Metrics {
	return &Metrics{
		Submissions:    xsync.NewCounter(),
		BusyRejections: xsync.NewCounter(),
		BadRequests:    xsync.NewCounter(),
		RunsFinished:   xsync.NewCounter(),
		RunsFailed:     xsync.NewCounter(),
		RunsTimeout:    xsync.NewCounter(),
	}
}

// LogSummary writes a one-line snapshot, used at shutdown.
func (m *Metrics) LogSummary(log *slog.Logger) {
	log.Info("run totals",
		"submissions", m.Submissions.Value(),
		"busy_rejections", m.BusyRejections.Value(),
		"bad_requests", m.BadRequests.Value(),
		"finished", m.RunsFinished.Value(),
		"failed", m.RunsFailed.Value(),
		"timeout", m.RunsTimeout.Value())
}
