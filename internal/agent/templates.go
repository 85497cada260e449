package agent

import (
	"github.com/mtzanidakis/warroom/internal/capability"
)

// Template is the static part of a role. Capabilities lists the names the
// role would like; only the registered ones end up on the Descriptor.
type Template struct {
	ID           string
	Role         string
	Objective    string
	Backstory    string
	CanDelegate  bool
	Capabilities []string
}

const (
	IncidentCommander  = "incident_commander"
	SRETriage          = "sre_triage"
	AppEngineer        = "app_engineer"
	DatabaseSpecialist = "database_specialist"
	SecurityAnalyst    = "security_analyst"
	CommsLead          = "comms_lead"
)

var templates = []Template{
	{
		ID:           IncidentCommander,
		Role:         "Incident Commander",
		Objective:    "Coordinate response, set severity, and make final decisions.",
		Backstory:    "Veteran incident lead with cross-team authority and a focus on rapid stabilization.",
		CanDelegate:  true,
		Capabilities: []string{capability.IncidentTracker, capability.StatusPage},
	},
	{
		ID:           SRETriage,
		Role:         "SRE Triage",
		Objective:    "Analyze metrics/logs and isolate the likely root cause.",
		Backstory:    "On-call SRE specializing in observability and rapid diagnosis.",
		Capabilities: []string{capability.Metrics, capability.Logs},
	},
	{
		ID:           AppEngineer,
		Role:         "App Engineer",
		Objective:    "Inspect recent deploys/config changes and application behavior.",
		Backstory:    "Senior backend engineer familiar with the release pipeline.",
		Capabilities: []string{capability.DeployHistory, capability.ConfigRepo},
	},
	{
		ID:           DatabaseSpecialist,
		Role:         "Database Specialist",
		Objective:    "Diagnose database performance, query issues, and scaling risks.",
		Backstory:    "DBA experienced with performance tuning and indexing.",
		Capabilities: []string{capability.DBMetrics, capability.QueryAnalyzer},
	},
	{
		ID:           SecurityAnalyst,
		Role:         "Security Analyst",
		Objective:    "Assess alerts, containment actions, and security risk.",
		Backstory:    "SOC analyst focused on rapid threat assessment and triage.",
		Capabilities: []string{capability.SIEM, capability.ThreatIntel},
	},
	{
		ID:           CommsLead,
		Role:         "Comms Lead",
		Objective:    "Draft stakeholder updates and post-incident summary.",
		Backstory:    "Technical communicator for incident updates and reporting.",
		Capabilities: []string{capability.StatusPage, capability.IncidentTracker},
	},
}

// Templates returns the built-in roles in roster order.
func Templates() []Template {
	out := make([]Template, len(templates))
	for i, t := range templates {
		t.Capabilities = append([]string(nil), t.Capabilities...)
		out[i] = t
	}
	return out
}

func LookupTemplate(id string) (Template, bool) {
	for _, t := range Templates() {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}
