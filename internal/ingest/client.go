// Package ingest is the HTTP client for the backend recording ingestion API
package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

const (
	pathStart  = "/api/recording/start"
	pathChunk  = "/api/recording/chunk"
	pathStop   = "/api/recording/stop"
	pathStatus = "/api/recording/status/"

	imageDataPrefix = "data:image/png;base64,"
	maxErrorBody    = 4096
)

// HTTPError is a non-2xx answer from the backend
type HTTPError struct {
	StatusCode int
	Code       string // "error" field of the body
	Message    string // "message" field of the body
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Permanent reports whether repeating the request cannot succeed.
// 4xx answers are permanent except request timeout and rate limiting.
func (e *HTTPError) Permanent() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// StatusCode extracts the HTTP status from err, 0 if err is not an HTTPError
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Client implements types.Ingestion over HTTP/JSON
type Client struct {
	BaseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ types.Ingestion = (*Client)(nil)

// NewClient creates a new ingestion client
func NewClient(cfg config.BackendConfig, logger *slog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger,
	}
}

type startRequest struct {
	ClientSessionID string `json:"clientSessionId,omitempty"`
}

type startResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type chunkRequest struct {
	SessionID        string `json:"sessionId"`
	OrderIndex       int    `json:"orderIndex"`
	ActionType       string `json:"actionType"`
	TargetText       string `json:"targetText,omitempty"`
	PosX             int    `json:"posX"`
	PosY             int    `json:"posY"`
	ViewportWidth    int    `json:"viewportWidth"`
	ViewportHeight   int    `json:"viewportHeight"`
	ScreenshotBase64 string `json:"screenshotBase64"`
}

type chunkResponse struct {
	StepID   json.Number `json:"stepId"`
	ImageURL string      `json:"imageUrl"`
	Status   string      `json:"status"`
}

type stopRequest struct {
	SessionID string `json:"sessionId"`
}

type stopResponse struct {
	ProjectID   json.Number `json:"projectId"`
	UUID        string      `json:"uuid"`
	RedirectURL string      `json:"redirectUrl"`
}

type statusResponse struct {
	Status    string      `json:"status"`
	ProjectID json.Number `json:"projectId,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StartSession opens a backend session and returns the backend's session id
func (c *Client) StartSession(ctx context.Context, clientSessionID string) (string, error) {
	var resp startResponse
	if err := c.post(ctx, pathStart, startRequest{ClientSessionID: clientSessionID}, &resp); err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	if resp.SessionID == "" {
		return "", errors.New("start session: backend returned no sessionId")
	}

	c.logger.Debug("Backend session started", "session_id", clientSessionID, "remote_session_id", resp.SessionID)
	return resp.SessionID, nil
}

// UploadStep sends one step. The backend deduplicates on (sessionId, orderIndex).
func (c *Client) UploadStep(ctx context.Context, remoteSessionID string, step *types.CapturedStep) (string, error) {
	req := chunkRequest{
		SessionID:        remoteSessionID,
		OrderIndex:       step.OrderIndex,
		ActionType:       string(step.ActionType),
		TargetText:       step.TargetDescription,
		PosX:             step.X,
		PosY:             step.Y,
		ViewportWidth:    step.ViewportWidth,
		ViewportHeight:   step.ViewportHeight,
		ScreenshotBase64: EncodeImage(step.Image),
	}

	var resp chunkResponse
	if err := c.post(ctx, pathChunk, req, &resp); err != nil {
		return "", fmt.Errorf("upload step %d: %w", step.OrderIndex, err)
	}
	return resp.StepID.String(), nil
}

// StopSession finalizes the backend session into a project
func (c *Client) StopSession(ctx context.Context, remoteSessionID string) (*types.Project, error) {
	var resp stopResponse
	if err := c.post(ctx, pathStop, stopRequest{SessionID: remoteSessionID}, &resp); err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}

	return &types.Project{
		ProjectID:      resp.ProjectID.String(),
		UUID:           resp.UUID,
		RedirectTarget: resp.RedirectURL,
	}, nil
}

// SessionStatus polls the backend's post-stop processing status
func (c *Client) SessionStatus(ctx context.Context, remoteSessionID string) (*types.RemoteSessionStatus, error) {
	endpoint := c.BaseURL + pathStatus + url.PathEscape(remoteSessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}

	var resp statusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("session status: %w", err)
	}

	return &types.RemoteSessionStatus{
		Status:    types.ProcessingStatus(resp.Status),
		ProjectID: resp.ProjectID.String(),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		httpErr := &HTTPError{StatusCode: resp.StatusCode}
		var parsed errorResponse
		if json.Unmarshal(body, &parsed) == nil {
			httpErr.Code = parsed.Error
			httpErr.Message = parsed.Message
		} else {
			httpErr.Message = strings.TrimSpace(string(body))
		}
		return httpErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// EncodeImage renders a PNG buffer as the data URI the chunk endpoint expects
func EncodeImage(image []byte) string {
	return imageDataPrefix + base64.StdEncoding.EncodeToString(image)
}

// DecodeImage accepts a data URI or bare base64 and returns the raw bytes
func DecodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(s)
}
