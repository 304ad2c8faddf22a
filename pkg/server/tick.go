package server

import (
	"log/slog"
	"net/http"

	"github.com/raterudder/autopilot/pkg/log"
)

type tickRequest struct {
	HomeID string `json:"homeID"`
}

// handleTick ticks one home, or every home when no homeID is given. The
// homeID may come from the query string or the body.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := tickRequest{HomeID: r.URL.Query().Get("homeID")}
	if req.HomeID == "" {
		if err := decodeBody(w, r, &req); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if req.HomeID == "" {
		sum, err := s.engine.TickAll(ctx)
		if err != nil {
			// per-home failures are already in the log, the rest still ran
			log.Ctx(ctx).WarnContext(ctx, "tick failed for some homes", slog.Any("error", err))
		}
		writeJSON(w, sum)
		return
	}

	ctx = log.WithHome(ctx, req.HomeID)
	sum, err := s.engine.Tick(ctx, req.HomeID)
	if err != nil {
		writeEngineError(ctx, w, "failed to tick home", err)
		return
	}
	writeJSON(w, sum)
}
