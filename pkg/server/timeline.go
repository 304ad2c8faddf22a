package server

import (
	"net/http"
	"strconv"

	"github.com/raterudder/autopilot/pkg/log"
)

// handleTimeline returns the scored day of a home. An optional hours
// parameter also asks for the best window of that length.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	homeID := r.URL.Query().Get("homeID")
	if homeID == "" {
		writeJSONError(w, "homeID is required", http.StatusBadRequest)
		return
	}
	var hours int
	if v := r.URL.Query().Get("hours"); v != "" {
		var err error
		hours, err = strconv.Atoi(v)
		if err != nil || hours < 1 || hours > 24 {
			writeJSONError(w, "hours must be between 1 and 24", http.StatusBadRequest)
			return
		}
	}

	ctx = log.WithHome(ctx, homeID)
	o, err := s.engine.Outlook(ctx, homeID, hours)
	if err != nil {
		writeEngineError(ctx, w, "failed to get timeline", err)
		return
	}
	writeJSON(w, o)
}
