// Package api exposes a small HTTP surface for observing the recorder: its
// current state, the metadata gathered for the battle in progress, and the
// upload queue.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/splatrec/splatrec/internal/battle"
	"github.com/splatrec/splatrec/internal/database"
	"github.com/splatrec/splatrec/internal/recorder"
)

// RecorderInfo is what the handlers need from the running recorder.
type RecorderInfo interface {
	Status() recorder.Status
	Snapshot() battle.Result
}

// QueueInfo is the read/ack side of the upload queue.
type QueueInfo interface {
	Pending(ctx context.Context) ([]*database.BattleRecord, error)
	MarkUploaded(ctx context.Context, id string) error
}

// ArtifactStore serves stored thumbnails and subtitle files.
type ArtifactStore interface {
	OpenFile(path string) (io.ReadSeekCloser, error)
}

type App struct {
	Recorder RecorderInfo
	Queue    QueueInfo
	Storage  ArtifactStore
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusResponse struct {
	Status string         `json:"status"`
	Battle battleSnapshot `json:"battle"`
}

type battleSnapshot struct {
	Start   string `json:"start,omitempty"`
	Match   string `json:"match,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Rating  string `json:"rating,omitempty"`
}

func (app *App) StatusHandler(w http.ResponseWriter, r *http.Request) {
	snap := app.Recorder.Snapshot()

	resp := statusResponse{
		Status: app.Recorder.Status().String(),
		Battle: battleSnapshot{
			Match:   snap.Match,
			Rule:    snap.Rule,
			Stage:   snap.Stage,
			Outcome: snap.Outcome,
			Rating:  snap.RatingString(),
		},
	}
	if !snap.Start.IsZero() {
		resp.Battle.Start = snap.Start.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (app *App) QueueHandler(w http.ResponseWriter, r *http.Request) {
	records, err := app.Queue.Pending(r.Context())
	if err != nil {
		http.Error(w, "Failed to list pending recordings", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*database.BattleRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (app *App) MarkUploadedHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := app.Queue.MarkUploaded(r.Context(), id); err != nil {
		http.Error(w, "Recording not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) ArtifactHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	file, err := app.Storage.OpenFile(name)
	if err != nil {
		http.Error(w, "Artifact not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	http.ServeContent(w, r, name, time.Time{}, file)
}
