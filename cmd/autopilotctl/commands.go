package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/raterudder/autopilot/pkg/autopilot"
	"github.com/raterudder/autopilot/pkg/types"
	"github.com/spf13/cobra"
)

func (a *app) print(w io.Writer, v any, render func(io.Writer)) error {
	if a.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	render(w)
	return nil
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func renderSummary(w io.Writer, sum autopilot.Summary) {
	if len(sum.Actions) > 0 {
		tw := newTable(w)
		tw.AppendHeader(table.Row{"Home", "Appliance", "Action", "Result", "Detail"})
		for _, r := range sum.Actions {
			result, detail := "success", ""
			switch {
			case r.Skipped:
				result, detail = "skipped", r.Reason
			case !r.Success:
				result, detail = "failed", r.Error
			case r.SubstitutedFrom != "":
				detail = "substituted from " + string(r.SubstitutedFrom)
			}
			name := r.ApplianceID
			if r.ApplianceName != "" && r.ApplianceName != r.ApplianceID {
				name = fmt.Sprintf("%s (%s)", r.ApplianceName, r.ApplianceID)
			}
			tw.AppendRow(table.Row{r.HomeID, name, r.Action, result, detail})
		}
		tw.Render()
	}
	fmt.Fprintln(w, sum.Message)
}

func (a *app) printSummary(cmd *cobra.Command, sum autopilot.Summary, err error) error {
	if perr := a.print(cmd.OutOrStdout(), sum, func(w io.Writer) { renderSummary(w, sum) }); perr != nil {
		return perr
	}
	return err
}

func timelineCmd(a *app) *cobra.Command {
	var homeID string
	var hours int
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Print the penalty of every hour of the day for a home",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.engine.Outlook(cmd.Context(), homeID, hours)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), o, func(w io.Writer) {
				tw := newTable(w)
				tw.AppendHeader(table.Row{"", "Hour", "Slot", "Rate", "gCO2/kWh", "Penalty", "Label"})
				for _, e := range o.Timeline {
					marker := ""
					if e.Hour == o.CurrentHour {
						marker = "*"
					}
					tw.AppendRow(table.Row{marker, fmt.Sprintf("%02d:00", e.Hour), e.SlotType, fmt.Sprintf("%.2f", e.Rate), fmt.Sprintf("%.0f", e.GCO2), fmt.Sprintf("%.4f", e.Penalty), e.Label})
				}
				tw.Render()
				fmt.Fprintf(w, "threshold %.2f, daily average %.0f gCO2/kWh, cleanest hours %v\n", o.Threshold, o.DailyAverageCarbon, o.CleanestHours)
				if o.Optimal != nil {
					fmt.Fprintf(w, "best %dh window: %02d:00-%02d:00 (avg penalty %.4f)\n", o.Optimal.DurationHours, o.Optimal.StartHour, o.Optimal.EndHour, o.Optimal.AvgPenalty)
				}
			})
		},
	}
	cmd.Flags().StringVar(&homeID, "home", "", "home id")
	cmd.Flags().IntVar(&hours, "hours", 0, "also find the best window of this many hours")
	_ = cmd.MarkFlagRequired("home")
	return cmd
}

func tickCmd(a *app) *cobra.Command {
	var homeID string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Evaluate one or all homes and fire any threshold transition",
		RunE: func(cmd *cobra.Command, args []string) error {
			if homeID == "" {
				sum, err := a.engine.TickAll(cmd.Context())
				return a.printSummary(cmd, sum, err)
			}
			sum, err := a.engine.Tick(cmd.Context(), homeID)
			return a.printSummary(cmd, sum, err)
		},
	}
	cmd.Flags().StringVar(&homeID, "home", "", "home id (default: every home)")
	return cmd
}

func highCmd(a *app) *cobra.Command {
	var homeID, trigger string
	cmd := &cobra.Command{
		Use:   "high",
		Short: "Act as if the home's penalty just crossed above the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.engine.OnThresholdCrossedHigh(cmd.Context(), homeID, trigger)
			return a.printSummary(cmd, sum, err)
		},
	}
	cmd.Flags().StringVar(&homeID, "home", "", "home id")
	cmd.Flags().StringVar(&trigger, "trigger", "", "trigger label (default: derived from the current slot)")
	_ = cmd.MarkFlagRequired("home")
	return cmd
}

func lowCmd(a *app) *cobra.Command {
	var homeID string
	cmd := &cobra.Command{
		Use:   "low",
		Short: "Restore the home as if its penalty just dropped below the threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.engine.OnThresholdCrossedLow(cmd.Context(), homeID)
			return a.printSummary(cmd, sum, err)
		},
	}
	cmd.Flags().StringVar(&homeID, "home", "", "home id")
	_ = cmd.MarkFlagRequired("home")
	return cmd
}

func gridEvent(id, severity, message string, start time.Time) (types.GridEvent, error) {
	ev := types.GridEvent{
		ID:        id,
		Severity:  types.GridSeverity(strings.ToLower(severity)),
		Message:   message,
		StartTime: start,
	}
	switch ev.Severity {
	case types.GridSeverityInfo, types.GridSeverityWarning, types.GridSeverityCritical:
	default:
		return ev, fmt.Errorf("invalid severity: %q", severity)
	}
	if ev.ID == "" {
		return ev, errors.New("--id is required")
	}
	return ev, nil
}

func gridCmd(a *app) *cobra.Command {
	var id, severity, message string
	var homes []string
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Apply grid protection for a grid event",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := a.now()
			if err != nil {
				return err
			}
			ev, err := gridEvent(id, severity, message, now())
			if err != nil {
				return err
			}
			sum, err := a.engine.OnGridEvent(cmd.Context(), ev, homes)
			return a.printSummary(cmd, sum, err)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "grid event id")
	cmd.Flags().StringVar(&severity, "severity", string(types.GridSeverityCritical), "info, warning or critical")
	cmd.Flags().StringVar(&message, "message", "", "event message")
	cmd.Flags().StringSliceVar(&homes, "home", nil, "affected home ids (default: every home with grid protection)")
	return cmd
}

func gridClearCmd(a *app) *cobra.Command {
	var id string
	var homes []string
	cmd := &cobra.Command{
		Use:   "grid-clear",
		Short: "Restore appliances switched off by a grid event",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := a.now()
			if err != nil {
				return err
			}
			ev, err := gridEvent(id, string(types.GridSeverityInfo), "", now())
			if err != nil {
				return err
			}
			sum, err := a.engine.OnGridEventCleared(cmd.Context(), ev, homes)
			return a.printSummary(cmd, sum, err)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "grid event id")
	cmd.Flags().StringSliceVar(&homes, "home", nil, "affected home ids (default: every home)")
	return cmd
}

func historyCmd(a *app) *cobra.Command {
	var homeID string
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the action log of a home",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := a.now()
			if err != nil {
				return err
			}
			end := now()
			logs, err := a.engine.History(cmd.Context(), homeID, end.Add(-since), end.Add(time.Second))
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), logs, func(w io.Writer) {
				tw := newTable(w)
				tw.AppendHeader(table.Row{"Time", "Appliance", "Actor", "Action", "Trigger", "Result"})
				for _, l := range logs {
					result := string(l.Result)
					if l.Error != "" {
						result += ": " + l.Error
					}
					tw.AppendRow(table.Row{l.Timestamp.Format(time.RFC3339), l.ApplianceID, l.Actor, l.Action, l.Trigger, result})
				}
				tw.Render()
			})
		},
	}
	cmd.Flags().StringVar(&homeID, "home", "", "home id")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	_ = cmd.MarkFlagRequired("home")
	return cmd
}
