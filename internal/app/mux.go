package app

import (
	"net/http"

	"github.com/fansync/fansync/internal/client"
	"github.com/fansync/fansync/internal/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

// Mux builds the internal HTTP endpoints: health check, prometheus metrics
// and the diagnostics snapshot. Handlers never block on network I/O.
func Mux(cfg config.Config, c *client.Client) *http.ServeMux {
	mux := http.NewServeMux()

	if cfg.Health.Enabled {
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			snapshot := c.DiagnosticsSnapshot()
			status := map[string]any{
				"connected": snapshot.Metrics.Connected,
				"state":     snapshot.State,
			}
			w.Header().Set("Content-Type", "application/json")
			if !snapshot.Metrics.Connected {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			_ = json.NewEncoder(w).Encode(status)
		})
	}

	if cfg.Prometheus.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if cfg.Debug.Enabled {
		mux.HandleFunc("/debug/diagnostics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			_ = enc.Encode(c.DiagnosticsSnapshot())
		})
	}

	return mux
}
