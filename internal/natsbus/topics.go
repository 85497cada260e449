package natsbus

import "fmt"

// Topic patterns for run and agent events.

func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

func TopicEventsAgent(agentID string) string {
	return fmt.Sprintf("events.agent.%s", agentID)
}

func TopicEventsDrill(drillID string) string {
	return fmt.Sprintf("events.drill.%s", drillID)
}

const (
	TopicEventsAll    = "events.>"
	TopicEventsRuns   = "events.run.*"
	TopicEventsDrills = "events.drill.*"
)
