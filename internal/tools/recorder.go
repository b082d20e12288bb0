package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/session"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

// Recorder is the session controller surface the tools drive
type Recorder interface {
	State() types.Session
	Badge() types.Badge
	Project() *types.Project
	Start(ctx context.Context) (types.Session, error)
	BeginCapture(ctx context.Context) (types.Session, error)
	Abort(ctx context.Context) (types.Session, error)
	Pause(ctx context.Context) (types.Session, error)
	Resume(ctx context.Context) (types.Session, error)
	CaptureEvent(ctx context.Context, req types.CaptureRequest) (*types.CapturedStep, error)
	Stop(ctx context.Context) (*session.Outcome, error)
	Reset(ctx context.Context) (types.Session, error)
}

// StatusSource polls the backend for post-stop processing status
type StatusSource interface {
	SessionStatus(ctx context.Context, remoteSessionID string) (*types.RemoteSessionStatus, error)
}

// RecorderHandlers implements the recorder.* tools
type RecorderHandlers struct {
	recorder Recorder
	status   StatusSource
	logger   *slog.Logger
}

// NewRecorderHandlers creates the tool handlers for a controller
func NewRecorderHandlers(recorder Recorder, status StatusSource, logger *slog.Logger) *RecorderHandlers {
	return &RecorderHandlers{
		recorder: recorder,
		status:   status,
		logger:   logger,
	}
}

// Register adds every recorder tool to the registry
func (h *RecorderHandlers) Register(r *ToolHandlerRegistry) {
	r.Register(mcp.NewTool(config.ToolStart,
		mcp.WithDescription("Start a recording session and begin capturing interactions"),
	), h.HandleStart)

	r.Register(mcp.NewTool(config.ToolPause,
		mcp.WithDescription("Pause capture and show the pause UI in the page"),
	), h.HandlePause)

	r.Register(mcp.NewTool(config.ToolResume,
		mcp.WithDescription("Remove the pause UI and resume capture"),
	), h.HandleResume)

	r.Register(mcp.NewTool(config.ToolStop,
		mcp.WithDescription("Stop the session, drain pending uploads and produce a project"),
	), h.HandleStop)

	r.Register(mcp.NewTool(config.ToolCapture,
		mcp.WithDescription("Capture one interaction while recording"),
		mcp.WithString("action_type",
			mcp.Required(),
			mcp.Enum(string(types.ActionClick), string(types.ActionScroll)),
			mcp.Description("Kind of interaction"),
		),
		mcp.WithNumber("x",
			mcp.Required(),
			mcp.Description("Horizontal position of the interaction in CSS pixels"),
		),
		mcp.WithNumber("y",
			mcp.Required(),
			mcp.Description("Vertical position of the interaction in CSS pixels"),
		),
		mcp.WithNumber("viewport_width",
			mcp.Description("Viewport width at capture time"),
		),
		mcp.WithNumber("viewport_height",
			mcp.Description("Viewport height at capture time"),
		),
		mcp.WithString("target_description",
			mcp.Description("Human readable description of the target element"),
		),
	), h.HandleCapture)

	r.Register(mcp.NewTool(config.ToolState,
		mcp.WithDescription("Return the current recording session"),
	), h.HandleState)

	r.Register(mcp.NewTool(config.ToolBadge,
		mcp.WithDescription("Return the status badge for the current state"),
	), h.HandleBadge)

	r.Register(mcp.NewTool(config.ToolReset,
		mcp.WithDescription("Acknowledge a stopped session and return to idle"),
	), h.HandleReset)

	r.Register(mcp.NewTool(config.ToolStatus,
		mcp.WithDescription("Poll the backend for post-stop processing status"),
		mcp.WithString("session_id",
			mcp.Description("Backend session id, defaults to the current session"),
		),
	), h.HandleStatus)
}

// HandleStart starts a session and arms capture. A session whose capture
// cannot be armed is aborted so the recorder returns to idle.
func (h *RecorderHandlers) HandleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := h.recorder.Start(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s, err := h.recorder.BeginCapture(ctx)
	if err != nil {
		if _, abortErr := h.recorder.Abort(context.WithoutCancel(ctx)); abortErr != nil {
			h.logger.WarnContext(ctx, "Abort after failed capture start failed", "error", abortErr)
		}
		return mcp.NewToolResultError(fmt.Sprintf("begin capture: %v", err)), nil
	}

	return jsonResult(sessionView(s, h.recorder.Badge()))
}

// HandlePause implements recorder.pause
func (h *RecorderHandlers) HandlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.recorder.Pause(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sessionView(s, h.recorder.Badge()))
}

// HandleResume implements recorder.resume
func (h *RecorderHandlers) HandleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.recorder.Resume(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sessionView(s, h.recorder.Badge()))
}

// HandleStop implements recorder.stop
func (h *RecorderHandlers) HandleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	outcome, err := h.recorder.Stop(ctx)
	if err != nil {
		if errors.Is(err, types.ErrSessionFinalizeFailed) {
			return mcp.NewToolResultError(err.Error() + " (call " + config.ToolStop + " again to retry)"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stopView(outcome))
}

// HandleCapture implements recorder.capture
func (h *RecorderHandlers) HandleCapture(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := parseCaptureRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	step, err := h.recorder.CaptureEvent(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(config.MsgStepQueued, step.OrderIndex)), nil
}

// HandleState implements recorder.state
func (h *RecorderHandlers) HandleState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view := sessionView(h.recorder.State(), h.recorder.Badge())
	view.Project = h.recorder.Project()
	return jsonResult(view)
}

// HandleBadge implements recorder.badge
func (h *RecorderHandlers) HandleBadge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.recorder.Badge())
}

// HandleReset implements recorder.reset
func (h *RecorderHandlers) HandleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.recorder.Reset(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sessionView(s, h.recorder.Badge()))
}

// HandleStatus implements recorder.status
func (h *RecorderHandlers) HandleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	remoteID := request.GetString("session_id", "")
	if remoteID == "" {
		current := h.recorder.State()
		if current.ID == "" {
			return mcp.NewToolResultError(config.ErrNoActiveSession), nil
		}
		remoteID = current.WireID()
	}

	status, err := h.status.SessionStatus(ctx, remoteID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session status: %v", err)), nil
	}
	return jsonResult(statusView{SessionID: remoteID, RemoteSessionStatus: status})
}

func parseCaptureRequest(request mcp.CallToolRequest) (types.CaptureRequest, error) {
	action, err := request.RequireString("action_type")
	if err != nil {
		return types.CaptureRequest{}, err
	}
	if !types.ActionType(action).Valid() {
		return types.CaptureRequest{}, fmt.Errorf("invalid action_type %q", action)
	}
	x, err := request.RequireInt("x")
	if err != nil {
		return types.CaptureRequest{}, err
	}
	y, err := request.RequireInt("y")
	if err != nil {
		return types.CaptureRequest{}, err
	}

	return types.CaptureRequest{
		ActionType:        types.ActionType(action),
		TargetDescription: request.GetString("target_description", ""),
		X:                 x,
		Y:                 y,
		Viewport: types.Viewport{
			Width:  request.GetInt("viewport_width", 0),
			Height: request.GetInt("viewport_height", 0),
		},
	}, nil
}
