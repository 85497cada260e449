package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtzanidakis/warroom/internal/incident"
	"github.com/mtzanidakis/warroom/internal/schedule"
	"github.com/mtzanidakis/warroom/internal/scheduler"
	"github.com/mtzanidakis/warroom/internal/store"
	"github.com/mtzanidakis/warroom/internal/topology"
)

var (
	drillSchedule string
	drillSafe     bool
	drillSurvival bool
)

var drillCmd = &cobra.Command{
	Use:   "drill",
	Short: "Manage scheduled incident drills",
	Long: `Drills replay an incident through the crew on a schedule. The gateway
(warroom serve) runs due drills and sends their reports to Slack and the
Telegram main chat.

Schedules are cron expressions, "every <duration>" or "at <RFC3339 time>".`,
}

var drillAddCmd = &cobra.Command{
	Use:   "add <name> [incident...]",
	Short: "Schedule a drill",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *store.Store) error {
			return drillAdd(cmd.OutOrStdout(), db, args[0], strings.Join(args[1:], " "))
		})
	},
}

var drillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drills",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *store.Store) error {
			return drillList(cmd.OutOrStdout(), db)
		})
	},
}

var drillDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a drill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *store.Store) error {
			return drillDelete(cmd.OutOrStdout(), db, args[0])
		})
	},
}

func init() {
	drillAddCmd.Flags().StringVarP(&drillSchedule, "schedule", "s", "", "cron expression, \"every 1h\" or \"at 2026-01-02T15:04:05Z\"")
	drillAddCmd.Flags().BoolVar(&drillSafe, "safe", false, "Run the drill in safe mode")
	drillAddCmd.Flags().BoolVar(&drillSurvival, "survival", false, "Run the drill in survival mode")
	_ = drillAddCmd.MarkFlagRequired("schedule")

	drillCmd.AddCommand(drillAddCmd)
	drillCmd.AddCommand(drillListCmd)
	drillCmd.AddCommand(drillDeleteCmd)
}

func withStore(fn func(db *store.Store) error) error {
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func drillAdd(w io.Writer, db *store.Store, name, text string) error {
	if strings.TrimSpace(text) == "" {
		text = incident.DefaultIncident
	}
	d, err := scheduler.NewDrill(name, drillSchedule, text, topology.Flags{
		SafeMode:     drillSafe,
		SurvivalMode: drillSurvival,
	})
	if err != nil {
		return err
	}
	if err := db.SaveDrill(d); err != nil {
		return err
	}
	fmt.Fprintf(w, "Drill %q scheduled (%s), id %s, next run %s\n",
		d.Name, schedule.Describe(d.Schedule), d.ID, d.NextRunAt.Local().Format(time.RFC3339))
	return nil
}

func drillList(w io.Writer, db *store.Store) error {
	drills, err := db.ListDrills()
	if err != nil {
		return err
	}
	if len(drills) == 0 {
		fmt.Fprintln(w, "No drills scheduled.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tMODE\tSTATUS\tNEXT RUN\tLAST STATUS")
	for _, d := range drills {
		mode := topology.Flags{SafeMode: d.SafeMode, SurvivalMode: d.SurvivalMode}.Mode()
		next := "-"
		if d.NextRunAt != nil {
			next = d.NextRunAt.Local().Format("2006-01-02 15:04")
		}
		last := d.LastStatus
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Name, schedule.Describe(d.Schedule), mode, d.Status, next, last)
	}
	return tw.Flush()
}

func drillDelete(w io.Writer, db *store.Store, id string) error {
	d, err := db.GetDrill(id)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("drill %q not found", id)
	}
	if err := db.DeleteDrill(id); err != nil {
		return err
	}
	fmt.Fprintf(w, "Drill %q deleted\n", d.Name)
	return nil
}
