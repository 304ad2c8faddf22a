package server

import (
	"net/http"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/types"
)

type applianceActionRequest struct {
	HomeID      string           `json:"homeID"`
	ApplianceID string           `json:"applianceID"`
	Actor       types.Actor      `json:"actor"`
	Action      types.ActionName `json:"action"`
}

// handleApplianceAction records an action a person took on an appliance.
// Commands from the app default to the user actor.
func (s *Server) handleApplianceAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req applianceActionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.HomeID == "" || req.ApplianceID == "" {
		writeJSONError(w, "homeID and applianceID are required", http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		req.Actor = types.ActorUser
	}

	ctx = log.WithHome(ctx, req.HomeID)
	entry, err := s.engine.RecordUserAction(ctx, req.HomeID, req.ApplianceID, req.Actor, req.Action)
	if err != nil {
		writeEngineError(ctx, w, "failed to record action", err)
		return
	}
	writeJSON(w, entry)
}
