package main

import (
	"net/http"
	"slices"
	"strings"
	"time"

	config "github.com/NordCoder/Studymate/internal/config/api-gateway"
	"github.com/NordCoder/Studymate/internal/obs"
	"github.com/NordCoder/Studymate/internal/services/api-gateway/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func buildHTTPServer(cfg *config.Config, logger *zap.Logger, m *auth.Manager, checks map[string]obs.Check) *http.Server {
	root := http.NewServeMux()
	auth.NewServer(m, auth.Opts{
		Logger:     logger,
		RetryAfter: int(cfg.Server.RetryAfter / time.Second),
	}).Register(root)

	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/healthz", obs.HealthHandler(checks, logger))

	handler := cors(cfg.Server.AllowedOrigins)(obs.HTTPHandler(root, "api-gateway"))

	return &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

func cors(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (slices.Contains(origins, "*") || slices.Contains(origins, origin)) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Headers", strings.Join([]string{"Authorization", "Content-Type"}, ", "))
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func serveHTTP(srv *http.Server, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("http listening", zap.String("addr", cfg.Server.HTTPAddr))
	return srv.ListenAndServe()
}
