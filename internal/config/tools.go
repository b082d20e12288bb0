package config

// Tool defines the MCP tools exposed by the recorder
const (
	// ToolStart starts a session and begins capture
	ToolStart = "recorder.start"
	// ToolPause pauses capture
	ToolPause = "recorder.pause"
	// ToolResume resumes capture
	ToolResume = "recorder.resume"
	// ToolStop finalizes the session into a project
	ToolStop = "recorder.stop"
	// ToolCapture captures one interaction
	ToolCapture = "recorder.capture"
	// ToolState returns the current session
	ToolState = "recorder.state"
	// ToolBadge returns the status badge
	ToolBadge = "recorder.badge"
	// ToolReset acknowledges a stopped session and returns to idle
	ToolReset = "recorder.reset"
	// ToolStatus polls the backend for post-stop processing status
	ToolStatus = "recorder.status"
)

// AllTools returns a slice of all available tool names
func AllTools() []string {
	return []string{
		ToolStart,
		ToolPause,
		ToolResume,
		ToolStop,
		ToolCapture,
		ToolState,
		ToolBadge,
		ToolReset,
		ToolStatus,
	}
}
