package crew

import "errors"

var (
	// ErrConfiguration aborts a run before any item is scheduled.
	ErrConfiguration = errors.New("configuration error")

	ErrCycle             = errors.New("work item graph contains a cycle")
	ErrUnknownDependency = errors.New("unknown work item dependency")

	// ErrItemFailed wraps the cause of a single work item failure. It is
	// reported per item in RunResult, never returned from Engine.Run.
	ErrItemFailed = errors.New("work item failed")
)
