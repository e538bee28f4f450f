// Package api exposes the image services over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/events"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
)

// RouterConfig holds the components served by NewRouter. Optional members
// left nil disable their routes.
type RouterConfig struct {
	Upload   *simpleimage.UploadService
	Query    *simpleimage.QueryService
	OCR      *simpleimage.OCRService
	Pipeline events.Processor

	// Store and Signer enable the signed download route of local backends
	Store  simpleimage.ObjectStore
	Signer *presigned.Signer

	Ready   ReadinessFunc
	Metrics http.Handler

	CORSOrigins    []string
	MaxUploadSize  int64
	RequestTimeout time.Duration

	// Middlewares run first, outside of CORS, e.g. request logging and metrics
	Middlewares []func(http.Handler) http.Handler

	Logger *slog.Logger
}

// NewRouter builds the HTTP surface
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	for _, m := range cfg.Middlewares {
		r.Use(m)
	}
	r.Use(middleware.Recoverer)
	r.Use(CORS(cfg.CORSOrigins))

	RoutesHealthz(r)
	RoutesHealthzReady(r, cfg.Ready)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	if cfg.Pipeline != nil {
		eventsHandler := events.NewHandler(cfg.Pipeline, logger)
		r.Route("/events", func(r chi.Router) {
			r.Post("/finalize", eventsHandler.Finalize)
			r.Post("/delete", eventsHandler.Delete)
		})
	}

	if cfg.Store != nil && cfg.Signer != nil {
		r.Mount(cfg.Signer.PathPrefix(), NewObjectsHandler(cfg.Store, cfg.Signer, logger).Routes())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		r.Use(MaxBodySize(cfg.MaxUploadSize))

		if cfg.Upload != nil && cfg.Query != nil {
			r.Mount("/images", NewImagesHandler(cfg.Upload, cfg.Query, logger).Routes())
		}
		if cfg.OCR != nil {
			r.Group(func(r chi.Router) {
				if cfg.OCR.RequiresAuth() {
					r.Use(Authenticator(cfg.OCR.Authenticate))
				}
				r.Post("/ocr", NewOCRHandler(cfg.OCR, logger).Extract)
			})
		}
	})

	return r
}
