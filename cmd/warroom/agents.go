package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/warroom/internal/crew"
	"github.com/mtzanidakis/warroom/internal/registry"
	"github.com/mtzanidakis/warroom/internal/topology"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agent roster and the topology for each mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		roster, err := buildRoster(cfg)
		if err != nil {
			return err
		}
		return printRoster(cmd.OutOrStdout(), roster)
	},
}

func printRoster(w io.Writer, roster *registry.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tRPM\tDELEGATES\tCAPABILITIES")
	for _, d := range roster.List() {
		rpm := "-"
		if d.RateLimit() > 0 {
			rpm = fmt.Sprint(d.RateLimit())
		}
		delegates := ""
		if d.CanDelegate() {
			delegates = "yes"
		}
		caps := strings.Join(d.CapabilityNames(), ", ")
		if caps == "" {
			caps = color.YellowString("none")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID(), d.Role(), rpm, delegates, caps)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	bold := color.New(color.Bold)
	for _, mode := range []string{topology.ModeNormal, topology.ModeSafe, topology.ModeSurvival} {
		items, _, err := topology.BuildItems(roster, topology.Shape(mode), crew.Hierarchical, nil)
		if err != nil {
			return fmt.Errorf("%s topology: %w", mode, err)
		}
		g, err := crew.NewGraph(items)
		if err != nil {
			return fmt.Errorf("%s topology: %w", mode, err)
		}
		tiers := make([]string, 0)
		for _, tier := range g.Tiers() {
			tiers = append(tiers, strings.Join(tier, ", "))
		}
		fmt.Fprintf(w, "%s %s\n", bold.Sprintf("%-9s", mode+":"), strings.Join(tiers, " → "))
	}
	return nil
}
