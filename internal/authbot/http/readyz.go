package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authbot/pkg/httpx"
)

const readyCheckTimeout = 2 * time.Second

// ReadyzHandler probes every dependency and answers 503 when any of them fails.
func ReadyzHandler(startTime time.Time, version string, checks map[string]CheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		defer cancel()

		results := make(map[string]string, len(checks))
		overallStatus := "ok"
		statusCode := http.StatusOK

		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = "error: " + err.Error()
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		httpx.WriteJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: version,
			Checks:  results,
		})
	}
}
