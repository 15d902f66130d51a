package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)
	r.Get("/status", app.StatusHandler)
	r.Get("/queue", app.QueueHandler)
	r.Post("/queue/{id}/uploaded", app.MarkUploadedHandler)
	r.Get("/artifacts/{name}", app.ArtifactHandler)

	return r
}
