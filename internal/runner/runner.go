// Package runner owns the lifecycle of one VM run: work-area
// preparation, VM launch under supervision, result classification,
// output extraction and notifier dispatch.
package runner

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamox/tmc-sandbox/api"
	"github.com/jamox/tmc-sandbox/internal/environment"
	"github.com/jamox/tmc-sandbox/internal/metrics"
	"github.com/jamox/tmc-sandbox/internal/notify"
	"github.com/jamox/tmc-sandbox/internal/paths"
	"github.com/jamox/tmc-sandbox/internal/supervise"
)

// ErrBusy is returned by Start while a previous run has not completed.
var ErrBusy = errors.New("a run is already in progress")

// Runner executes at most one run at a time. The current archive and
// notifier are mutated only between admission and completion, under the
// Busy state.
type Runner struct {
	cfg   *environment.Config
	paths *paths.Paths
	log   *slog.Logger
	met   *metrics.Metrics

	// extras are config-driven delivery backends notified on every run,
	// in addition to the per-run webhook.
	extras []notify.Notifier

	mu              sync.Mutex
	busy            bool
	proc            *supervise.Process
	currentArchive  string
	currentNotifier notify.Notifier
	currentRunId    string
}

func New(cfg *environment.Config, p *paths.Paths, log *slog.Logger, met *metrics.Metrics, extras ...notify.Notifier) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		paths:  p,
		log:    log,
		met:    met,
		extras: extras,
	}
	if err := r.nukeWorkDir(); err != nil {
		return nil, err
	}
	return r, nil
}

// Busy reports whether a run is in flight.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// Start admits one run: it claims the Busy state, prepares the work
// area and launches the VM under supervision. It returns as soon as the
// VM is launched; completion is reported through the notifier. The
// archive file at archivePath is owned by the runner from this point on
// and removed when the run completes.
//
// A preparation or launch failure does not propagate: it takes the same
// completion path as a failed run, so the caller contract is identical
// on every admitted run.
func (r *Runner) Start(archivePath string, notifier notify.Notifier) error {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return ErrBusy
	}
	r.busy = true
	r.currentArchive = archivePath
	r.currentNotifier = notifier
	r.currentRunId = uuid.NewString()
	log := r.log.With("run_id", r.currentRunId)
	r.mu.Unlock()

	if err := r.prepareWorkArea(); err != nil {
		log.Error("work area preparation failed", "error", err)
		r.complete(supervise.Status{ExitCode: -1}, log)
		return nil
	}

	vmLog, err := os.OpenFile(r.paths.VMLog(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		log.Error("failed to open vm log", "error", err)
		r.complete(supervise.Status{ExitCode: -1}, log)
		return nil
	}

	cmd := exec.Command(r.paths.Kernel(), r.vmArgs(archivePath)...)
	cmd.Stdin = nil
	cmd.Stdout = vmLog
	cmd.Stderr = vmLog

	proc := supervise.New(time.Duration(r.cfg.TimeoutSeconds)*time.Second, func(st supervise.Status) {
		_ = vmLog.Close()
		r.complete(st, log)
	})

	if err := proc.Start(cmd); err != nil {
		log.Error("failed to launch vm", "error", err)
		_ = vmLog.Close()
		r.complete(supervise.Status{ExitCode: -1}, log)
		return nil
	}

	r.mu.Lock()
	r.proc = proc
	r.mu.Unlock()

	log.Info("vm launched",
		"kernel", r.paths.Kernel(),
		"archive", archivePath,
		"timeout_seconds", r.cfg.TimeoutSeconds,
		"mem", r.cfg.InstanceRAM)

	return nil
}

// vmArgs builds the UML command line. The kernel path is argv[0]; the
// rest are key=value parameters. No shell is involved, so no escaping
// is needed.
func (r *Runner) vmArgs(archivePath string) []string {
	return []string{
		"initrd=" + r.paths.Initrd(),
		"ubdarc=" + r.paths.Rootfs(),
		"ubdbr=" + archivePath,
		"ubdc=" + r.paths.OutputTar(),
		"mem=" + r.cfg.InstanceRAM,
		"con=null",
	}
}

// complete classifies the run, extracts outputs, dispatches notifiers
// and returns the runner to Idle. Runs in the supervision monitor for a
// launched VM, or synchronously for runs that failed before launch.
func (r *Runner) complete(st supervise.Status, log *slog.Logger) {
	r.mu.Lock()
	archive := r.currentArchive
	notifier := r.currentNotifier
	runId := r.currentRunId
	r.mu.Unlock()

	status, exitCode := classify(st, r.paths.OutputTar())
	outputs := extractOutputs(r.paths.OutputTar())

	log.Info("run completed", "status", status, "vm_exit", st.ExitCode, "timed_out", st.TimedOut)

	switch status {
	case api.RunFinished:
		r.met.RunsFinished.Inc()
	case api.RunTimeout:
		r.met.RunsTimeout.Inc()
	default:
		r.met.RunsFailed.Inc()
	}

	n := api.Notification{
		RunId:      runId,
		Status:     status,
		ExitCode:   exitCode,
		TestOutput: outputs.TestOutput,
		Stdout:     outputs.Stdout,
		Stderr:     outputs.Stderr,
	}

	targets := make([]notify.Notifier, 0, len(r.extras)+1)
	if notifier != nil {
		targets = append(targets, notifier)
	}
	targets = append(targets, r.extras...)
	for _, target := range targets {
		if err := target.Notify(n); err != nil {
			log.Error("notification delivery failed", "error", err)
		}
	}

	if archive != "" {
		if err := os.Remove(archive); err != nil {
			log.Warn("failed to remove spooled archive", "path", archive, "error", err)
		}
	}

	r.mu.Lock()
	r.busy = false
	r.currentArchive = ""
	r.currentNotifier = nil
	r.currentRunId = ""
	r.mu.Unlock()
}

// prepareWorkArea empties the work directory and pre-sizes the output
// container so the guest cannot write more than MaxOutputBytes.
func (r *Runner) prepareWorkArea() error {
	if err := r.nukeWorkDir(); err != nil {
		return err
	}
	return r.presizeOutputTar()
}

func (r *Runner) presizeOutputTar() error {
	f, err := os.Create(r.paths.OutputTar())
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(r.cfg.MaxOutputBytes)
}

// Kill tears down the current run, if any, and blocks until its group
// is dead. Used at shutdown; the notification may or may not have been
// dispatched depending on timing.
func (r *Runner) Kill() {
	r.mu.Lock()
	proc := r.proc
	busy := r.busy
	r.mu.Unlock()

	if busy && proc != nil {
		_ = proc.Kill()
	}
}
