package http

import (
	"net/http"
	"time"

	"github.com/commonassist/casehub/internal/clientsync/registry"
	"github.com/commonassist/casehub/internal/clientsync/service"
	"github.com/commonassist/casehub/pkg/httpx"
)

// ReadyzHandler pings every registered store. A single unreachable store
// degrades the response to 503 so orchestrators hold traffic until the whole
// fleet is writable again.
func ReadyzHandler(
	startTime time.Time,
	version string,
	reg *registry.Registry,
	conns service.Conns,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(conns))
		overallStatus := "ok"
		statusCode := http.StatusOK

		for _, st := range reg.List() {
			conn, ok := conns[st.ID]
			if !ok {
				checks[st.ID] = "error: no open connection"
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
				continue
			}
			if err := conn.Ping(r.Context()); err != nil {
				checks[st.ID] = "error: " + err.Error()
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
				continue
			}
			checks[st.ID] = "ok"
		}

		httpx.WriteJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
