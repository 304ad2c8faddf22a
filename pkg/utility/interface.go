package utility

import (
	"context"

	"github.com/raterudder/autopilot/pkg/types"
)

// Provider supplies the tariff and carbon data used to score each hour.
// Missing data is not an error: an unknown plan returns no slots and an
// unknown region returns the fallback profile.
type Provider interface {
	// TariffSlots returns the slots of the given tariff plan.
	TariffSlots(ctx context.Context, planID string) ([]types.TariffSlot, error)

	// CarbonProfile returns the 24-hour carbon profile of the given region.
	// An empty regionCode returns the default region's profile.
	CarbonProfile(ctx context.Context, regionCode string) ([]types.CarbonPoint, error)
}
