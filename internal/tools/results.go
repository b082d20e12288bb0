package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/acro-recorder/internal/session"
	"github.com/AltairaLabs/acro-recorder/internal/types"
	"github.com/AltairaLabs/acro-recorder/internal/upload"
)

// SessionView is the tool result for state-changing tools and recorder.state
type SessionView struct {
	Session types.Session  `json:"session"`
	Badge   types.Badge    `json:"badge"`
	Project *types.Project `json:"project,omitempty"`
}

// StopView is the tool result of recorder.stop
type StopView struct {
	Project *types.Project     `json:"project"`
	Flush   upload.FlushResult `json:"flush"`
	Warning string             `json:"warning,omitempty"`
}

type statusView struct {
	SessionID string `json:"session_id"`
	*types.RemoteSessionStatus
}

func sessionView(s types.Session, badge types.Badge) SessionView {
	return SessionView{Session: s, Badge: badge}
}

func stopView(outcome *session.Outcome) StopView {
	view := StopView{Project: outcome.Project, Flush: outcome.Flush}
	if outcome.Flush.Partial() || outcome.Flush.Failed > 0 {
		view.Warning = "some steps were not uploaded before the session was finalized and remain queued locally"
	}
	return view
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
