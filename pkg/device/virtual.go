package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/autopilot/pkg/log"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
)

// Virtual is a controller for appliances without hardware. Commands are
// applied directly to the stored appliance state.
type Virtual struct {
	db  storage.Database
	now func() time.Time
}

// NewVirtual returns a Virtual controller backed by db.
func NewVirtual(db storage.Database) *Virtual {
	return &Virtual{
		db:  db,
		now: time.Now,
	}
}

func (v *Virtual) apply(ctx context.Context, a types.Appliance, st types.ApplianceStatus, eco bool, msg string) (Result, error) {
	start := v.now()
	if !a.IsControllable {
		return Result{Source: "virtual", Message: "not controllable"}, fmt.Errorf("%w: %s", ErrNotControllable, a.ID)
	}
	if err := ctx.Err(); err != nil {
		return Result{Source: "virtual"}, err
	}
	if err := v.db.UpdateApplianceState(ctx, a.HomeID, a.ID, st, eco, start); err != nil {
		return Result{Source: "virtual"}, fmt.Errorf("failed to update appliance state: %w", err)
	}
	res := Result{
		Success: true,
		Source:  "virtual",
		Message: msg,
		Elapsed: v.now().Sub(start),
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"virtual device command",
		slog.String("homeID", a.HomeID),
		slog.String("applianceID", a.ID),
		slog.String("status", string(st)),
		slog.Bool("ecoMode", eco),
	)
	return res, nil
}

func (v *Virtual) TurnOn(ctx context.Context, a types.Appliance) (Result, error) {
	return v.apply(ctx, a, types.ApplianceStatusOn, a.EcoModeEnabled, "turned on")
}

func (v *Virtual) TurnOff(ctx context.Context, a types.Appliance) (Result, error) {
	return v.apply(ctx, a, types.ApplianceStatusOff, a.EcoModeEnabled, "turned off")
}

func (v *Virtual) SetEcoMode(ctx context.Context, a types.Appliance, enabled bool) (Result, error) {
	msg := "eco mode disabled"
	if enabled {
		msg = "eco mode enabled"
	}
	return v.apply(ctx, a, a.Status, enabled, msg)
}
