package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Homes []seedHome `yaml:"homes"`
}

type seedHome struct {
	ID                    string          `yaml:"id"`
	UserID                string          `yaml:"userID"`
	TariffPlanID          string          `yaml:"tariffPlanID"`
	RegionCode            string          `yaml:"regionCode"`
	Timezone              string          `yaml:"timezone"`
	Strategy              types.Strategy  `yaml:"strategy"`
	AutopilotEnabled      bool            `yaml:"autopilotEnabled"`
	GridProtectionEnabled bool            `yaml:"gridProtectionEnabled"`
	Appliances            []seedAppliance `yaml:"appliances"`
	Rules                 []seedRule      `yaml:"rules"`
}

type seedAppliance struct {
	ID             string                `yaml:"id"`
	Name           string                `yaml:"name"`
	Category       string                `yaml:"category"`
	Status         types.ApplianceStatus `yaml:"status"`
	EcoModeEnabled bool                  `yaml:"ecoModeEnabled"`
	RatedPowerW    float64               `yaml:"ratedPowerW"`
	IsControllable bool                  `yaml:"isControllable"`
	SmartPlugID    string                `yaml:"smartPlugID"`
	Autopilot      *seedConfig           `yaml:"autopilot"`
}

type seedConfig struct {
	IsDelegated     bool                   `yaml:"isDelegated"`
	PreferredAction types.PreferredAction  `yaml:"preferredAction"`
	ProtectedWindow *types.ProtectedWindow `yaml:"protectedWindow"`
}

type seedRule struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	ConditionType      string   `yaml:"conditionType"`
	Action             string   `yaml:"action"`
	TargetApplianceIDs []string `yaml:"targetApplianceIDs"`
	IsActive           bool     `yaml:"isActive"`
}

func parseSeed(b []byte) (seedFile, error) {
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, h := range f.Homes {
		if h.ID == "" {
			return f, fmt.Errorf("home %d: missing id", i)
		}
		if h.Strategy == "" {
			f.Homes[i].Strategy = types.StrategyBalanced
		}
		for j, a := range h.Appliances {
			if a.ID == "" {
				return f, fmt.Errorf("home %s appliance %d: missing id", h.ID, j)
			}
			if a.Status == "" {
				f.Homes[i].Appliances[j].Status = types.ApplianceStatusOff
			}
		}
	}
	if len(f.Homes) == 0 {
		return f, errors.New("seed file has no homes")
	}
	return f, nil
}

func applySeed(ctx context.Context, db storage.Database, f seedFile) (int, error) {
	var appliances int
	for _, h := range f.Homes {
		err := db.PutHome(ctx, types.Home{
			ID:                    h.ID,
			UserID:                h.UserID,
			TariffPlanID:          h.TariffPlanID,
			RegionCode:            h.RegionCode,
			Timezone:              h.Timezone,
			Strategy:              h.Strategy,
			AutopilotEnabled:      h.AutopilotEnabled,
			GridProtectionEnabled: h.GridProtectionEnabled,
		})
		if err != nil {
			return appliances, err
		}
		for _, a := range h.Appliances {
			err := db.PutAppliance(ctx, types.Appliance{
				ID:             a.ID,
				HomeID:         h.ID,
				Name:           a.Name,
				Status:         a.Status,
				EcoModeEnabled: a.EcoModeEnabled,
				RatedPowerW:    a.RatedPowerW,
				Category:       a.Category,
				IsControllable: a.IsControllable,
				SmartPlugID:    a.SmartPlugID,
			})
			if err != nil {
				return appliances, err
			}
			appliances++
			if a.Autopilot == nil {
				continue
			}
			err = db.PutDeviceConfig(ctx, types.DeviceAutopilotConfig{
				HomeID:          h.ID,
				ApplianceID:     a.ID,
				IsDelegated:     a.Autopilot.IsDelegated,
				PreferredAction: a.Autopilot.PreferredAction,
				ProtectedWindow: a.Autopilot.ProtectedWindow,
			})
			if err != nil {
				return appliances, err
			}
		}
		for _, r := range h.Rules {
			err := db.PutRule(ctx, types.AutomationRule{
				ID:                 r.ID,
				HomeID:             h.ID,
				Name:               r.Name,
				ConditionType:      r.ConditionType,
				Action:             r.Action,
				TargetApplianceIDs: r.TargetApplianceIDs,
				IsActive:           r.IsActive,
			})
			if err != nil {
				return appliances, err
			}
		}
	}
	return appliances, nil
}

func seedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Load homes, appliances and autopilot configs from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f, err := parseSeed(b)
			if err != nil {
				return err
			}
			n, err := applySeed(cmd.Context(), a.db, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d home(s), %d appliance(s)\n", len(f.Homes), n)
			return nil
		},
	}
}
