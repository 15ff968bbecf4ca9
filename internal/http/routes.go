package httpx

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/venturekit/evosearch/config"
	"github.com/venturekit/evosearch/internal/core"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs     *core.JobService
	DB       *sql.DB
	Cache    core.CacheRepository
	Defaults config.EvolutionDefaults
	// MaxBodyBytes caps request body size; 0 disables the cap.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewRouter creates and configures a new HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs, Defaults: services.Defaults}
	healthHandlers := &HealthHandlers{DB: services.DB, Cache: services.Cache}

	mux.Handle("POST /api/jobs", maxBody(services.MaxBodyBytes, http.HandlerFunc(jobHandlers.CreateJob)))
	mux.Handle("GET /api/jobs/{id}", http.HandlerFunc(jobHandlers.GetJob))
	mux.Handle("GET /api/jobs/{id}/result", http.HandlerFunc(jobHandlers.GetJobResult))
	mux.Handle("GET /health", http.HandlerFunc(healthHandlers.Health))
	mux.Handle("HEAD /health", http.HandlerFunc(healthHandlers.Health))

	return mux
}

func maxBody(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
