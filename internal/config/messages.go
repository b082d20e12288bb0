package config

// Messages used throughout the recorder
const (
	// ErrNoActiveSession indicates an operation needs a session that does not exist
	ErrNoActiveSession = "no active recording session"
	// ErrAgentNotConnected indicates no page agent is connected to the bridge
	ErrAgentNotConnected = "page agent not connected"
	// MsgStepQueued is the format string for step queued messages
	MsgStepQueued = "Step %d queued for upload"
	// MsgStepsFailed is the format string for the permanent upload failure warning
	MsgStepsFailed = "%d step(s) could not be uploaded and are kept locally"
)
