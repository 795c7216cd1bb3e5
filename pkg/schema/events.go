package schema

// Run event types published while a SOP executes.
const (
	EventRunStarted    = "run.started"
	EventRunCompleted  = "run.completed"
	EventRunSuspended  = "run.suspended"
	EventRunFailed     = "run.failed"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	EventStepSkipped   = "step.skipped"
)
