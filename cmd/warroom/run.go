package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/warroom/internal/crew"
	"github.com/mtzanidakis/warroom/internal/incident"
	"github.com/mtzanidakis/warroom/internal/topology"
	"github.com/mtzanidakis/warroom/internal/tracing"
)

var (
	runSafe     bool
	runSurvival bool
	runNoMemory bool
	runVerbose  bool
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run [incident...]",
	Short: "Run the crew against an incident",
	Long: `Run the crew against an incident and print the final report.

The incident text is taken from the arguments. With no arguments a sample
payments incident is used. The command exits non-zero when any work item
failed or was blocked.`,
	RunE: runIncident,
}

func init() {
	runCmd.Flags().BoolVar(&runSafe, "safe", false, "Run work items one at a time")
	runCmd.Flags().BoolVar(&runSurvival, "survival", false, "Run triage, commander and comms only")
	runCmd.Flags().BoolVar(&runNoMemory, "no-memory", false, "Disable memory recall for this run")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print engine events as they happen")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run result as JSON")
}

func runIncident(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		text = incident.DefaultIncident
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	roster, err := buildRoster(cfg)
	if err != nil {
		return err
	}
	if err := roster.Sync(db); err != nil {
		return fmt.Errorf("sync agent registry: %w", err)
	}

	logger := slog.Default()
	b, reason, emb := resolveBackend(cfg, logger)
	svc := incident.New(incident.Deps{
		Config:   cfg,
		Roster:   roster,
		Backend:  b,
		Reason:   reason,
		Embedder: emb,
		Store:    db,
		Logger:   logger,
	})

	flags := runFlags(svc.DefaultFlags())
	out := cmd.OutOrStdout()

	var obs crew.Observer
	if runVerbose {
		obs = newEventPrinter(cmd.ErrOrStderr())
	}
	if !runJSON {
		printHeader(out, text, flags)
	}

	res, runErr := svc.Execute(ctx, incident.Request{
		Incident: text,
		Source:   incident.SourceCLI,
		Flags:    flags,
		Observer: obs,
	})
	if res == nil {
		if errors.Is(runErr, crew.ErrConfiguration) {
			return fmt.Errorf("%w\n\nSet LLM_MODEL or a provider API key, or LLM_MODEL=stub for an offline run", runErr)
		}
		return runErr
	}

	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		printReport(out, res)
	}

	if runErr != nil {
		return runErr
	}
	if !res.Complete {
		return fmt.Errorf("run %s incomplete: failed %v, blocked %v",
			res.RunID, res.Keys(crew.StateFailed), res.Keys(crew.StateBlocked))
	}
	return nil
}

// runFlags applies the command line switches on top of the configured
// defaults. Flags can only turn safe and survival mode on and memory off.
func runFlags(f topology.Flags) topology.Flags {
	if runSafe {
		f.SafeMode = true
	}
	if runSurvival {
		f.SurvivalMode = true
	}
	if runNoMemory {
		f.MemoryEnabled = false
	}
	return f
}

func printHeader(w io.Writer, text string, f topology.Flags) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Incident: ")
	fmt.Fprintln(w, text)
	bold.Fprintf(w, "Mode:     ")
	fmt.Fprintln(w, f.Mode())
	fmt.Fprintln(w)
}
