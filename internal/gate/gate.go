// Package gate admits submissions. Each request is serialized through a
// file lock so that two supervisor instances sharing an install
// directory cannot race on admission.
package gate

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/jamox/tmc-sandbox/api"
	"github.com/jamox/tmc-sandbox/internal/metrics"
	"github.com/jamox/tmc-sandbox/internal/notify"
	"github.com/jamox/tmc-sandbox/internal/runner"
)

// RunStarter admits one run. Start returns runner.ErrBusy while a run
// is in progress.
type RunStarter interface {
	Start(archivePath string, notifier notify.Notifier) error
}

// maxUploadMemoryBytes bounds the in-memory part of multipart parsing;
// larger uploads spill to disk.
const maxUploadMemoryBytes = 32 << 20

type Gate struct {
	starter  RunStarter
	lockPath string
	log      *slog.Logger
	met      *metrics.Metrics
}

func New(starter RunStarter, lockPath string, log *slog.Logger, met *metrics.Metrics) *Gate {
	return &Gate{
		starter:  starter,
		lockPath: lockPath,
		log:      log,
		met:      met,
	}
}

// Router exposes the single submission endpoint. Everything else,
// including non-POST methods, is not found.
func (g *Gate) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Post("/tasks.json", g.handleSubmit)
	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, api.SubmitNotFound)
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, api.SubmitNotFound)
	})
	return mux
}

func (g *Gate) handleSubmit(w http.ResponseWriter, r *http.Request) {
	g.met.Submissions.Inc()

	release, err := g.acquireLock()
	if err != nil {
		g.log.Error("failed to acquire admission lock", "error", err)
		writeStatus(w, api.SubmitError)
		return
	}
	defer release()

	if err := r.ParseMultipartForm(maxUploadMemoryBytes); err != nil {
		g.met.BadRequests.Inc()
		writeStatus(w, api.SubmitBadRequest)
		return
	}

	upload, _, err := r.FormFile("file")
	if err != nil {
		g.met.BadRequests.Inc()
		writeStatus(w, api.SubmitBadRequest)
		return
	}
	defer upload.Close()

	archivePath, err := g.spool(upload)
	if err != nil {
		g.log.Error("failed to spool uploaded archive", "error", err)
		writeStatus(w, api.SubmitError)
		return
	}

	var notifier notify.Notifier
	if notifyUrl := r.FormValue("notify"); notifyUrl != "" {
		notifier = notify.NewWebhook(notifyUrl, r.FormValue("token"))
	}

	if err := g.starter.Start(archivePath, notifier); err != nil {
		_ = os.Remove(archivePath)
		if errors.Is(err, runner.ErrBusy) {
			g.met.BusyRejections.Inc()
			writeStatus(w, api.SubmitBusy)
			return
		}
		g.log.Error("failed to start run", "error", err)
		writeStatus(w, api.SubmitError)
		return
	}

	writeStatus(w, api.SubmitOk)
}

func writeStatus(w http.ResponseWriter, status api.SubmitStatus) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status.HttpCode())
	_ = json.NewEncoder(w).Encode(api.SubmitResponse{Status: status})
}
