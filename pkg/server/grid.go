package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/types"
)

type gridEventRequest struct {
	Event   types.GridEvent `json:"event"`
	HomeIDs []string        `json:"homeIDs"`
}

func (s *Server) parseGridEvent(w http.ResponseWriter, r *http.Request) (gridEventRequest, error) {
	var req gridEventRequest
	if err := decodeBody(w, r, &req); err != nil {
		return req, err
	}
	if req.Event.ID == "" {
		return req, errors.New("event id is required")
	}
	switch req.Event.Severity {
	case types.GridSeverityInfo, types.GridSeverityWarning, types.GridSeverityCritical:
	default:
		return req, fmt.Errorf("invalid severity: %q", req.Event.Severity)
	}
	if req.Event.StartTime.IsZero() {
		req.Event.StartTime = s.now()
	}
	return req, nil
}

func (s *Server) handleGridEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.parseGridEvent(w, r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx = log.WithAttrs(ctx, slog.String("gridEventID", req.Event.ID))

	sum, err := s.engine.OnGridEvent(ctx, req.Event, req.HomeIDs)
	if err != nil {
		writeEngineError(ctx, w, "failed to apply grid protection", err)
		return
	}
	writeJSON(w, sum)
}

func (s *Server) handleGridEventCleared(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := s.parseGridEvent(w, r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx = log.WithAttrs(ctx, slog.String("gridEventID", req.Event.ID))

	sum, err := s.engine.OnGridEventCleared(ctx, req.Event, req.HomeIDs)
	if err != nil {
		writeEngineError(ctx, w, "failed to restore after grid event", err)
		return
	}
	writeJSON(w, sum)
}
