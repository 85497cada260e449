package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/mtzanidakis/warroom/internal/crew"
)

func printReport(w io.Writer, res *crew.RunResult) {
	bold := color.New(color.Bold)

	bold.Fprintln(w, "=== Final Report ===")
	if res.FinalOutput != "" {
		fmt.Fprintln(w, res.FinalOutput)
	} else {
		fmt.Fprintln(w, color.YellowString("No final report: %s did not complete.", res.Terminal))
	}
	fmt.Fprintln(w)

	bold.Fprintln(w, "=== Work Items ===")
	for _, it := range res.Items {
		line := fmt.Sprintf("%s %-15s %-20s", stateMark(it.State), it.Key, it.AgentID)
		if d := itemDuration(it); d > 0 {
			line += " " + d.Round(10*time.Millisecond).String()
		}
		if it.Attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", it.Attempts)
		}
		if it.Error != "" {
			line += " " + color.RedString(it.Error)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	bold.Fprintln(w, "=== Efficiency Metrics ===")
	fmt.Fprintf(w, "Prompt tokens:     %d\n", res.Usage.PromptTokens)
	fmt.Fprintf(w, "Completion tokens: %d\n", res.Usage.CompletionTokens)
	fmt.Fprintf(w, "Total tokens:      %d\n", res.Usage.TotalTokens)
	fmt.Fprintf(w, "Requests:          %d\n", res.Usage.Requests)
	fmt.Fprintf(w, "Duration:          %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	status := color.GreenString("complete")
	if !res.Complete {
		status = color.RedString("incomplete")
	}
	fmt.Fprintf(w, "Run %s: %s\n", res.RunID, status)
}

func stateMark(s crew.ItemState) string {
	switch s {
	case crew.StateCompleted:
		return color.GreenString("✓")
	case crew.StateFailed:
		return color.RedString("✗")
	case crew.StateBlocked:
		return color.YellowString("-")
	default:
		return "?"
	}
}

func itemDuration(it crew.ItemReport) time.Duration {
	if it.StartedAt.IsZero() || it.FinishedAt.IsZero() {
		return 0
	}
	return it.FinishedAt.Sub(it.StartedAt)
}

// newEventPrinter writes one line per engine event. Events arrive from
// worker goroutines, so writes are serialized.
func newEventPrinter(w io.Writer) crew.Observer {
	var mu sync.Mutex
	return crew.ObserverFunc(func(ev crew.Event) {
		line := formatEvent(ev)
		mu.Lock()
		fmt.Fprintln(w, line)
		mu.Unlock()
	})
}

func formatEvent(ev crew.Event) string {
	ts := ev.Time.Format("15:04:05.000")
	var msg string
	switch ev.Type {
	case crew.EventRunStarted:
		msg = color.CyanString("run %s started", ev.RunID)
		if ev.Detail != "" {
			msg += " (" + ev.Detail + ")"
		}
	case crew.EventItemReady:
		msg = fmt.Sprintf("%s ready", ev.Item)
	case crew.EventItemStarted:
		msg = fmt.Sprintf("%s started by %s", ev.Item, ev.AgentID)
	case crew.EventItemThrottled:
		msg = color.YellowString("%s throttled for %s (%s)", ev.Item, ev.Duration.Round(time.Millisecond), ev.AgentID)
	case crew.EventItemDelegated:
		msg = color.MagentaString("%s delegated to %s", ev.Item, ev.AgentID)
	case crew.EventItemRetry:
		msg = color.YellowString("%s retrying: %s", ev.Item, ev.Detail)
	case crew.EventItemCompleted:
		msg = color.GreenString("%s completed", ev.Item) +
			fmt.Sprintf(" in %s, %d tokens", ev.Duration.Round(time.Millisecond), ev.Usage.TotalTokens)
	case crew.EventItemFailed:
		msg = color.RedString("%s failed: %s", ev.Item, ev.Detail)
	case crew.EventItemBlocked:
		msg = color.YellowString("%s blocked", ev.Item)
		if ev.Detail != "" {
			msg += ": " + ev.Detail
		}
	case crew.EventRunFinished:
		msg = color.CyanString("run %s finished", ev.RunID)
		if ev.Detail != "" {
			msg += " (" + ev.Detail + ")"
		}
	default:
		msg = strings.TrimSpace(string(ev.Type) + " " + ev.Item)
	}
	return ts + " " + msg
}
