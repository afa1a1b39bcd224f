package observability

import "go.uber.org/zap"

// Structured keys shared by the engine (which emits them) and the watch
// command (which reads them back out of the JSON log file).
const (
	FieldEvent  = "event"
	FieldStage  = "stage"
	FieldSource = "source"
	FieldRunID  = "run_id"
)

// Stage lifecycle event names.
const (
	EventRunStarted    = "run.started"
	EventRunFinished   = "run.finished"
	EventStageStarted  = "stage.started"
	EventStageAdvanced = "stage.advanced"
	EventStageRetry    = "stage.retry"
	EventStageFailed   = "stage.failed"
	EventEscalated     = "stage.escalated"
)

// Event returns the fields that tag a log entry as a lifecycle event for stage.
func Event(name string, stage int) []zap.Field {
	return []zap.Field{zap.String(FieldEvent, name), zap.Int(FieldStage, stage)}
}
