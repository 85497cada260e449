package topology

import (
	"github.com/mtzanidakis/warroom/internal/agent"
)

// Node is one work item of a shape before it is bound to descriptors.
type Node struct {
	Key            string   `json:"key"`
	Agent          string   `json:"agent"`
	Description    string   `json:"description"`
	ExpectedOutput string   `json:"expected_output"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

const (
	Triage        = "triage"
	AppCheck      = "app_check"
	DBCheck       = "db_check"
	SecurityCheck = "security_check"
	Commander     = "commander"
	Comms         = "comms"
)

var (
	triageNode = Node{
		Key:            Triage,
		Agent:          agent.SRETriage,
		Description:    "Triage the incident using available signals. Identify likely root cause and immediate stabilizing actions.",
		ExpectedOutput: "Root cause hypothesis + immediate mitigation steps.",
	}
	appNode = Node{
		Key:            AppCheck,
		Agent:          agent.AppEngineer,
		Description:    "Inspect recent deploys/config changes and identify risky diffs or rollbacks.",
		ExpectedOutput: "Suspicious deploy/config changes and rollback options.",
	}
	dbNode = Node{
		Key:            DBCheck,
		Agent:          agent.DatabaseSpecialist,
		Description:    "Analyze DB performance signals and query hotspots; propose fixes.",
		ExpectedOutput: "DB bottlenecks + concrete remediation steps.",
	}
	securityNode = Node{
		Key:            SecurityCheck,
		Agent:          agent.SecurityAnalyst,
		Description:    "Assess security alerts or indicators of compromise; propose containment.",
		ExpectedOutput: "Security risk assessment + containment actions.",
	}
	commanderNode = Node{
		Key:            Commander,
		Agent:          agent.IncidentCommander,
		Description:    "Combine findings, set severity, decide on action plan, and assign owners.",
		ExpectedOutput: "Severity level, action plan, and owner assignments.",
	}
	commsNode = Node{
		Key:            Comms,
		Agent:          agent.CommsLead,
		Description:    "Draft stakeholder update and post-incident summary outline.",
		ExpectedOutput: "Status update + post-incident summary outline.",
		DependsOn:      []string{Commander},
	}
)

// FullShape is four independent diagnostics, a commander synthesis over
// all of them and a comms item after the commander.
func FullShape() []Node {
	cmd := commanderNode
	cmd.DependsOn = []string{Triage, AppCheck, DBCheck, SecurityCheck}
	return []Node{triageNode, appNode, dbNode, securityNode, cmd, commsNode}
}

// SurvivalShape is the triage, commander, comms chain.
func SurvivalShape() []Node {
	cmd := commanderNode
	cmd.DependsOn = []string{Triage}
	return []Node{triageNode, cmd, commsNode}
}

// Shape returns the node list a mode runs.
func Shape(mode string) []Node {
	if mode == ModeSurvival {
		return SurvivalShape()
	}
	return FullShape()
}
