package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/zerynth/lib-azure-iot/internal/iothub"
	"github.com/zerynth/lib-azure-iot/internal/twincache"
)

// twinRequestTimeout bounds hub round-trips made on behalf of API callers.
const twinRequestTimeout = 10 * time.Second

// twinResponse is the response body for GET /twin.
type twinResponse struct {
	Source    string         `json:"source"` // "cache" or "hub"
	Version   int            `json:"version,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
	Document  map[string]any `json:"document"`
}

// handleGetTwin serves the cached full twin document. With ?refresh=1 it
// fetches a fresh copy from the hub and updates the cache.
func (s *Server) handleGetTwin(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "1" {
		s.refreshTwin(w, r)
		return
	}

	entry, err := s.twins.Get(r.Context(), twincache.DocFull)
	if err != nil {
		if errors.Is(err, twincache.ErrNotCached) {
			writeNotFound(w, "twin not cached; use ?refresh=1 to fetch from the hub")
			return
		}
		s.logger.Error("twin cache read failed", "error", err)
		writeInternalError(w, "reading cached twin")
		return
	}

	writeJSON(w, http.StatusOK, twinResponse{
		Source:    "cache",
		Version:   entry.Version,
		UpdatedAt: entry.UpdatedAt.UTC().Format(time.RFC3339),
		Document:  entry.Document,
	})
}

// refreshTwin performs a twin GET against the hub and caches the result.
func (s *Server) refreshTwin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), twinRequestTimeout)
	defer cancel()

	status, doc, err := s.device.GetTwin(ctx)
	if err != nil {
		if errors.Is(err, iothub.ErrTwinTimeout) {
			writeError(w, http.StatusGatewayTimeout, ErrCodeUpstream, "twin request timed out")
			return
		}
		s.logger.Error("twin refresh failed", "error", err)
		writeBadGateway(w, "fetching twin from hub")
		return
	}
	if status != http.StatusOK {
		writeBadGateway(w, fmt.Sprintf("hub returned status %d", status))
		return
	}

	version := twinVersion(doc)
	if err := s.twins.SaveFull(r.Context(), doc, version); err != nil {
		s.logger.Warn("twin cache write failed", "error", err)
	}

	writeJSON(w, http.StatusOK, twinResponse{
		Source:   "hub",
		Version:  version,
		Document: doc,
	})
}

// handleReportTwin sends the request body to the hub as a reported-property
// patch and waits for the acknowledgement.
func (s *Server) handleReportTwin(w http.ResponseWriter, r *http.Request) {
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(doc) == 0 {
		writeBadRequest(w, "reported document must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), twinRequestTimeout)
	defer cancel()

	status, err := s.device.ReportTwin(ctx, doc)
	if err != nil {
		if errors.Is(err, iothub.ErrTwinTimeout) {
			writeError(w, http.StatusGatewayTimeout, ErrCodeUpstream, "twin request timed out")
			return
		}
		s.logger.Error("reported-property update failed", "error", err)
		writeBadGateway(w, "sending reported properties to hub")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// twinVersion extracts desired.$version from a full twin document. The hub
// sends JSON numbers, so the value arrives as a float64.
func twinVersion(doc map[string]any) int {
	desired, ok := doc["desired"].(map[string]any)
	if !ok {
		return 0
	}
	v, ok := desired["$version"].(float64)
	if !ok {
		return 0
	}
	return int(v)
}
