// Package notify delivers run results. The webhook notifier implements
// the caller-facing callback contract; the subpackages provide queue and
// terminal backends behind the same interface.
package notify

import "github.com/jamox/tmc-sandbox/api"

// Notifier delivers one result payload. Implementations are
// fire-and-forget: no retries, at most one delivery per call. A returned
// error is for the caller's log only and never affects the run state.
type Notifier interface {
	Notify(n api.Notification) error
}
