package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

func newTestClient(url string) *Client {
	cfg := config.DefaultBackendConfig()
	cfg.BaseURL = url + "/"
	cfg.RequestTimeout = 2 * time.Second
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStartSession(t *testing.T) {
	var got startRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != pathStart {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"sessionId":"remote-1","status":"active"}`))
	}))
	defer server.Close()

	id, err := newTestClient(server.URL).StartSession(context.Background(), "local-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if id != "remote-1" {
		t.Errorf("Expected remote-1, got %s", id)
	}
	if got.ClientSessionID != "local-1" {
		t.Errorf("Expected clientSessionId local-1, got %s", got.ClientSessionID)
	}
}

func TestStartSessionMissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"active"}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).StartSession(context.Background(), "x"); err == nil {
		t.Error("Expected error when backend returns no sessionId")
	}
}

func TestUploadStepWireFormat(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathChunk {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %s", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"stepId":17,"imageUrl":"/images/a.png","status":"saved"}`))
	}))
	defer server.Close()

	step := &types.CapturedStep{
		OrderIndex:        3,
		ActionType:        types.ActionScroll,
		TargetDescription: "Submit",
		X:                 11,
		Y:                 22,
		ViewportWidth:     1280,
		ViewportHeight:    720,
		Image:             []byte("png"),
	}
	stepID, err := newTestClient(server.URL).UploadStep(context.Background(), "remote-1", step)
	if err != nil {
		t.Fatalf("UploadStep failed: %v", err)
	}
	if stepID != "17" {
		t.Errorf("Expected stepId 17, got %s", stepID)
	}

	expected := map[string]any{
		"sessionId":        "remote-1",
		"orderIndex":       float64(3),
		"actionType":       "scroll",
		"targetText":       "Submit",
		"posX":             float64(11),
		"posY":             float64(22),
		"viewportWidth":    float64(1280),
		"viewportHeight":   float64(720),
		"screenshotBase64": "data:image/png;base64,cG5n",
	}
	for k, v := range expected {
		if got[k] != v {
			t.Errorf("Field %s: expected %v, got %v", k, v, got[k])
		}
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
		message   string
	}{
		{"bad request", 400, `{"error":"Bad Request","message":"Invalid session ID"}`, true, "Invalid session ID"},
		{"not found", 404, `{"error":"Not Found","message":"Project not found"}`, true, "Project not found"},
		{"timeout", 408, ``, false, ""},
		{"rate limited", 429, `slow down`, false, "slow down"},
		{"server error", 500, `{"error":"Internal Server Error","message":"Database error occurred"}`, false, "Database error occurred"},
		{"bad gateway", 502, `<html>bad gateway</html>`, false, "<html>bad gateway</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).StopSession(context.Background(), "remote-1")
			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("Expected HTTPError, got %v", err)
			}
			if httpErr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, httpErr.StatusCode)
			}
			if httpErr.Permanent() != tt.permanent {
				t.Errorf("Expected Permanent()=%t", tt.permanent)
			}
			if httpErr.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, httpErr.Message)
			}
			if StatusCode(err) != tt.status {
				t.Errorf("StatusCode(err) = %d, want %d", StatusCode(err), tt.status)
			}
		})
	}
}

func TestStopSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req stopRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.SessionID != "remote-1" {
			t.Errorf("Expected sessionId remote-1, got %s", req.SessionID)
		}
		_, _ = w.Write([]byte(`{"projectId":42,"uuid":"p-uuid","redirectUrl":"http://localhost:3000/editor/p-uuid"}`))
	}))
	defer server.Close()

	project, err := newTestClient(server.URL).StopSession(context.Background(), "remote-1")
	if err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if project.ProjectID != "42" || project.UUID != "p-uuid" {
		t.Errorf("Unexpected project: %+v", project)
	}
	if !strings.HasSuffix(project.RedirectTarget, "/editor/p-uuid") {
		t.Errorf("Unexpected redirect target %s", project.RedirectTarget)
	}
}

func TestSessionStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != pathStatus+"remote 1" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"status":"completed","projectId":7}`))
	}))
	defer server.Close()

	status, err := newTestClient(server.URL).SessionStatus(context.Background(), "remote 1")
	if err != nil {
		t.Fatalf("SessionStatus failed: %v", err)
	}
	if status.Status != types.ProcessingCompleted || status.ProjectID != "7" {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(server.URL).StartSession(ctx, "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestImageEncoding(t *testing.T) {
	encoded := EncodeImage([]byte{1, 2, 3})
	if !strings.HasPrefix(encoded, "data:image/png;base64,") {
		t.Fatalf("Expected data URI, got %s", encoded)
	}

	for _, in := range []string{encoded, "AQID"} {
		decoded, err := DecodeImage(in)
		if err != nil {
			t.Fatalf("DecodeImage(%q) failed: %v", in, err)
		}
		if string(decoded) != string([]byte{1, 2, 3}) {
			t.Errorf("DecodeImage(%q) = %v", in, decoded)
		}
	}
}
