// Command autopilotctl drives the autopilot engine directly against a SQL
// store. It seeds homes, prints penalty timelines and fires the same
// triggers the server exposes.
package main

import (
	"context"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/raterudder/autopilot/pkg/autopilot"
	"github.com/raterudder/autopilot/pkg/device"
	"github.com/raterudder/autopilot/pkg/notify"
	"github.com/raterudder/autopilot/pkg/storage"
	"github.com/raterudder/autopilot/pkg/utility"
	"github.com/spf13/cobra"
)

type app struct {
	driver     string
	dsn        string
	tariffFile string
	timezone   string
	at         string
	json       bool

	db     *storage.SQLProvider
	engine *autopilot.Engine
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "autopilotctl",
		Short:         "Inspect and trigger the appliance autopilot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&a.driver, "driver", "sqlite", "SQL driver (sqlite or postgres)")
	f.StringVar(&a.dsn, "dsn", "autopilot.db", "DSN of the store")
	f.StringVar(&a.tariffFile, "tariff-file", "", "YAML file with tariff plans and carbon profiles (default: built-in)")
	f.StringVar(&a.timezone, "timezone", autopilot.DefaultTimezone, "Timezone for homes without one")
	f.StringVar(&a.at, "at", "", "Evaluate as if it were this RFC3339 time")
	f.BoolVar(&a.json, "json", false, "Output JSON")

	root.AddCommand(
		seedCmd(a),
		timelineCmd(a),
		tickCmd(a),
		highCmd(a),
		lowCmd(a),
		gridCmd(a),
		gridClearCmd(a),
		historyCmd(a),
	)
	return root
}

func (a *app) now() (func() time.Time, error) {
	if a.at == "" {
		return time.Now, nil
	}
	t, err := time.Parse(time.RFC3339, a.at)
	if err != nil {
		return nil, fmt.Errorf("invalid --at: %w", err)
	}
	return func() time.Time { return t }, nil
}

// open connects to the store and builds an engine that switches appliances
// through the virtual controller and logs notifications.
func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	now, err := a.now()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(a.timezone)
	if err != nil {
		return fmt.Errorf("invalid --timezone: %w", err)
	}
	data := utility.Defaults()
	if a.tariffFile != "" {
		if data, err = utility.LoadFile(a.tariffFile); err != nil {
			return err
		}
	}

	db := storage.NewSQLProvider(a.driver, a.dsn)
	if err := db.Validate(); err != nil {
		return err
	}
	if err := db.Init(ctx); err != nil {
		return err
	}
	a.db = db
	a.engine = autopilot.New(autopilot.Options{
		DB:       db,
		Devices:  device.NewMap(device.NewVirtual(db)),
		Utility:  utility.NewFileProvider(data),
		Notifier: notify.Log{},
		Location: loc,
		Now:      now,
	})
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}
