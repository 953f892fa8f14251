// Package events carries the per-session event stream: typed events, the
// in-memory fan-out bus, and the NDJSON mirror used by late and cross-process
// subscribers.
package events

import "time"

// Type tags an event.
type Type string

const (
	SessionStarted   Type = "session_started"
	SessionCompleted Type = "session_completed"
	SessionFailed    Type = "session_failed"
	SessionCancelled Type = "session_cancelled"

	StepPlanning          Type = "step_planning"
	StepPlanned           Type = "step_planned"
	StepRefinementStarted Type = "step_refinement_started"
	StepExecuting         Type = "step_executing"
	StepExecuted          Type = "step_executed"
	StepFailed            Type = "step_failed"
	ValidationPerformed   Type = "validation_performed"

	ScreenshotCaptured  Type = "screenshot_captured"
	DomSnapshotCaptured Type = "dom_snapshot_captured"

	ScriptLoaded    Type = "script_loaded"
	ConfigValidated Type = "config_validated"

	VideoRecordingStarted Type = "video_recording_started"
	VideoRecordingStopped Type = "video_recording_stopped"

	TTSStarted   Type = "tts_started"
	TTSCompleted Type = "tts_completed"

	MarkdownGenerated Type = "markdown_generated"
	ScriptSaving      Type = "script_saving"
	ScriptSaved       Type = "script_saved"

	ReportGenerated Type = "report_generated"
	Completed       Type = "completed"
	GoalProgress    Type = "goal_progress"
	ErrorEvent      Type = "error"
)

// legacyStepCompleted is accepted as an alias of step_executed when decoding
// logs written by older emitters.
const legacyStepCompleted Type = "step_completed"

// IsTerminal reports whether the type ends a session's stream.
func (t Type) IsTerminal() bool {
	switch t {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// Event is one entry of a session's stream. Seq is contiguous and starts at 0;
// TS is epoch milliseconds.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"sessionId"`
	Seq       int64          `json:"seq"`
	TS        int64          `json:"ts"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type.IsTerminal()
}

// Time returns the event timestamp.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.TS)
}
