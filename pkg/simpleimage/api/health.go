package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// ReadinessFunc reports the dependencies that failed to answer, keyed by name
type ReadinessFunc func(ctx context.Context) map[string]error

// ReadinessResponse is the body of a failed readiness check
type ReadinessResponse struct {
	Status string            `json:"status"`
	Errors map[string]string `json:"errors"`
}

func RoutesHealthz(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
}

func RoutesHealthzReady(r chi.Router, ready ReadinessFunc) {
	r.Get("/healthz/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if failures := ready(r.Context()); len(failures) > 0 {
				resp := ReadinessResponse{Status: "unavailable", Errors: map[string]string{}}
				for name, err := range failures {
					resp.Errors[name] = err.Error()
				}
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, resp)
				return
			}
		}
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
}
