package capability

import (
	"context"
	"fmt"
	"slices"
)

// Built-in capability names.
const (
	Metrics         = "metrics"
	Logs            = "logs"
	DeployHistory   = "deploy_history"
	ConfigRepo      = "config_repo"
	DBMetrics       = "db_metrics"
	QueryAnalyzer   = "query_analyzer"
	SIEM            = "siem"
	ThreatIntel     = "threat_intel"
	IncidentTracker = "incident_tracker"
	StatusPage      = "status_page"
)

type builtin struct {
	name        string
	description string
	format      string
}

var builtins = []builtin{
	{Metrics, "Check service metrics and error rates for the incident.", "Metrics snapshot for incident context: %s"},
	{Logs, "Fetch recent logs and error traces related to the incident.", "Recent log highlights for incident context: %s"},
	{DeployHistory, "Inspect recent deploys and rollbacks for the service.", "Recent deploy history for %s: last deploy at T-30m"},
	{ConfigRepo, "Check recent config changes that could affect stability.", "Config diffs for %s: no critical changes detected"},
	{DBMetrics, "Check database CPU, connections, and slow query rates.", "DB metrics for %s: CPU stable, connections within limits"},
	{QueryAnalyzer, "Analyze slow queries and execution plans.", "Top slow queries for %s: none above threshold"},
	{SIEM, "Review security alerts and indicators of compromise.", "SIEM summary for incident context: %s"},
	{ThreatIntel, "Check recent threat intelligence relevant to the incident.", "Threat intel check complete for: %s"},
	{IncidentTracker, "Update incident tracker with status and actions.", "Incident tracker updated: %s"},
	{StatusPage, "Post a status update for stakeholders.", "Status page update drafted: %s"},
}

// RegisterBuiltins registers the stubbed diagnostic capabilities, skipping
// any name listed in disabled.
func RegisterBuiltins(r *Registry, disabled ...string) error {
	for _, b := range builtins {
		if slices.Contains(disabled, b.name) {
			continue
		}
		format := b.format
		c := NewFunc(b.name, b.description, func(_ context.Context, query string) (string, error) {
			return fmt.Sprintf(format, query), nil
		})
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}
