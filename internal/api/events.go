package api

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// sendEventRequest is the request body for POST /events.
type sendEventRequest struct {
	Payload    map[string]any    `json:"payload"`
	Properties map[string]string `json:"properties"`
}

// handleSendEvent publishes an ad-hoc device-to-cloud event. Each event is
// stamped with a message_id property so callers can trace it hub-side.
func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	var req sendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Payload) == 0 {
		writeBadRequest(w, "payload is required")
		return
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		writeInternalError(w, "encoding payload")
		return
	}

	if req.Properties == nil {
		req.Properties = make(map[string]string)
	}
	messageID := uuid.NewString()
	req.Properties["message_id"] = messageID

	if err := s.device.PublishEvent(body, req.Properties); err != nil {
		s.logger.Error("event publish failed", "error", err, "message_id", messageID)
		writeBadGateway(w, "publishing event to hub")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"message_id": messageID})
}
