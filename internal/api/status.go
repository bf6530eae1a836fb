package api

import (
	"net/http"
	"time"
)

// statusResponse is the response body for GET /status.
type statusResponse struct {
	Connected     bool    `json:"connected"`
	SpoolDepth    int     `json:"spool_depth"`
	PublishPeriod float64 `json:"publish_period_seconds,omitempty"`
	WSClients     int     `json:"ws_clients"`
	Version       string  `json:"version"`
	UptimeSeconds int64   `json:"uptime_seconds"`
}

// handleStatus reports the agent's connection state and queue depth.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Connected:     s.device.IsConnected(),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	if s.spool != nil {
		depth, err := s.spool.Depth(r.Context())
		if err != nil {
			s.logger.Warn("spool depth query failed", "error", err)
			depth = -1
		}
		resp.SpoolDepth = depth
	}

	if s.telemetry != nil {
		resp.PublishPeriod = s.telemetry.Period().Seconds()
	}

	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, resp)
}
