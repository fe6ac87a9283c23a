package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fablehouse/fable-api/internal/pipeline"
	"github.com/fablehouse/fable-api/internal/service"
)

// newRouter wires the HTTP surface: the job/book/credit API, the health
// endpoint with pipeline metrics, and the static file route serving
// generated images.
func newRouter(books *service.BookService, monitor *pipeline.Monitor, storageDir string, logger *slog.Logger) http.Handler {
	h := &apiHandler{
		books:   books,
		monitor: monitor,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", h.healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/books", h.createBook)
		r.Get("/books/{bookID}", h.getBook)
		r.Get("/jobs/{jobID}", h.getJob)
		r.Get("/jobs/{jobID}/book", h.getJobBook)
		r.Get("/credits", h.getCredits)
		r.Get("/credits/history", h.getCreditHistory)
	})

	fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(storageDir)))
	r.Get("/static/*", func(w http.ResponseWriter, req *http.Request) {
		fileServer.ServeHTTP(w, req)
	})

	return r
}
