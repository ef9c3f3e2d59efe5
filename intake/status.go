package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DocumentCounter is the read-only slice of the store the status endpoint
// needs.
type DocumentCounter interface {
	CountDocuments(ctx context.Context) (int, error)
}

// NewStatusHandler builds the status router: /healthz for liveness,
// /status for a JSON snapshot, /metrics for Prometheus scrapes.
func NewStatusHandler(counter DocumentCounter, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		n, err := counter.CountDocuments(req.Context())
		if err != nil {
			logger.Error("status query failed", "error", err)
			http.Error(w, "storage unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"documents_total": n,
		})
	})

	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// ServeStatus runs the status listener until ctx is cancelled, then shuts
// it down gracefully.
func ServeStatus(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("status listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
