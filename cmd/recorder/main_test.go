package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/storage/bolt"
	"github.com/AltairaLabs/acro-recorder/internal/storage/memory"
	"github.com/AltairaLabs/acro-recorder/internal/storage/storagetest"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	expected := map[string]bool{"serve": false, "drain": false, "status": false}
	for _, sub := range root.Commands() {
		if _, ok := expected[sub.Name()]; ok {
			expected[sub.Name()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("Expected subcommand %s", name)
		}
	}

	for _, flag := range []string{"config", "debug"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("Expected persistent flag --%s", flag)
		}
	}
}

func TestServeFlags(t *testing.T) {
	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("Expected serve command, got error: %v", err)
	}

	if err := serve.ParseFlags([]string{"--http", "--agent-addr", ":9999"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	opts := &serveOptions{}
	opts.agentAddr, _ = serve.Flags().GetString("agent-addr")

	cfg := config.Default()
	opts.apply(serve, &cfg)
	if cfg.Server.AgentAddr != ":9999" {
		t.Errorf("Expected agent addr :9999, got %s", cfg.Server.AgentAddr)
	}
	if cfg.Server.HTTPAddr != config.DefaultServerConfig().HTTPAddr {
		t.Errorf("Expected untouched http addr, got %s", cfg.Server.HTTPAddr)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := newLogger(&buf, false)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected debug to be filtered, got %s", buf.String())
	}

	logger = newLogger(&buf, true)
	logger.Debug("shown", "key", "value")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["key"] != "value" {
		t.Errorf("Unexpected log entry %v", entry)
	}
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{"memory", config.StorageConfig{Backend: "memory"}, false},
		{"bolt", config.StorageConfig{Backend: "bolt", Path: filepath.Join(t.TempDir(), "q.db")}, false},
		{"unknown", config.StorageConfig{Backend: "redis"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := openStore(tt.cfg, testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%t, got %v", tt.wantErr, err)
			}
			if store != nil {
				_ = store.Close()
			}
		})
	}
}

type stubStatus struct {
	queried string
	err     error
}

func (s *stubStatus) SessionStatus(ctx context.Context, remoteSessionID string) (*types.RemoteSessionStatus, error) {
	s.queried = remoteSessionID
	if s.err != nil {
		return nil, s.err
	}
	return &types.RemoteSessionStatus{Status: types.ProcessingInProgress}, nil
}

func TestRunStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("no session", func(t *testing.T) {
		err := runStatus(ctx, memory.New(), &stubStatus{}, "", io.Discard, testLogger())
		if err == nil || err.Error() != config.ErrNoActiveSession {
			t.Errorf("Expected %q, got %v", config.ErrNoActiveSession, err)
		}
	})

	t.Run("last session", func(t *testing.T) {
		store := memory.New()
		if err := store.SaveSession(ctx, &types.Session{ID: "local-1", RemoteID: "remote-1", Status: types.StatusStopped}); err != nil {
			t.Fatal(err)
		}
		client := &stubStatus{}
		var out bytes.Buffer

		if err := runStatus(ctx, store, client, "", &out, testLogger()); err != nil {
			t.Fatalf("runStatus failed: %v", err)
		}
		if client.queried != "remote-1" {
			t.Errorf("Expected remote-1 to be queried, got %s", client.queried)
		}
		if !strings.Contains(out.String(), `"status": "processing"`) {
			t.Errorf("Expected processing status in output, got %s", out.String())
		}
	})

	t.Run("explicit id and backend error", func(t *testing.T) {
		client := &stubStatus{err: errors.New("boom")}
		err := runStatus(ctx, memory.New(), client, "remote-7", io.Discard, testLogger())
		if err == nil {
			t.Fatal("Expected error")
		}
		if client.queried != "remote-7" {
			t.Errorf("Expected remote-7 to be queried, got %s", client.queried)
		}
	})
}

func TestWriteQueueRequiresLister(t *testing.T) {
	if err := writeQueue(context.Background(), memory.New(), io.Discard); err == nil {
		t.Error("Expected error for a store that cannot list sessions")
	}
}

// fakeBackend accepts chunks and finalizes sessions
type fakeBackend struct {
	mu     sync.Mutex
	chunks []int
	stops  []string
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/recording/chunk", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID  string `json:"sessionId"`
			OrderIndex int    `json:"orderIndex"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode chunk: %v", err)
		}
		if req.SessionID != "remote-1" {
			t.Errorf("Expected chunk for remote-1, got %s", req.SessionID)
		}
		b.mu.Lock()
		b.chunks = append(b.chunks, req.OrderIndex)
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"stepId":1,"status":"ok"}`))
	})
	mux.HandleFunc("/api/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"sessionId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.stops = append(b.stops, req.SessionID)
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"projectId":42,"uuid":"p-42","redirectUrl":"/projects/42"}`))
	})
	return mux
}

func TestDrainFinalizesInterruptedSession(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recorder.db")

	// Simulate a recorder that went away while recording
	seed, err := bolt.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := seed.SaveSession(ctx, &types.Session{ID: "local-1", RemoteID: "remote-1", Status: types.StatusRecording, StepCount: 3}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := seed.Append(ctx, storagetest.NewStep("local-1", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := seed.MarkState(ctx, "local-1", 1, types.UploadInflight, ""); err != nil {
		t.Fatal(err)
	}
	if err := seed.Close(); err != nil {
		t.Fatal(err)
	}

	backend := &fakeBackend{}
	server := httptest.NewServer(backend.handler(t))
	defer server.Close()

	cfg := config.Default()
	cfg.Storage.Path = path
	cfg.Backend.BaseURL = server.URL
	cfg.Upload.FlushTimeout = 5 * time.Second
	cfg.Retry.InitialDelay = 10 * time.Millisecond
	cfg.Retry.MaxDelay = 40 * time.Millisecond

	var out bytes.Buffer
	if err := runDrain(ctx, cfg, &out, testLogger()); err != nil {
		t.Fatalf("runDrain failed: %v", err)
	}

	backend.mu.Lock()
	chunks := append([]int(nil), backend.chunks...)
	stops := append([]string(nil), backend.stops...)
	backend.mu.Unlock()

	if len(chunks) != 3 || chunks[0] != 0 || chunks[1] != 1 || chunks[2] != 2 {
		t.Errorf("Expected chunks [0 1 2], got %v", chunks)
	}
	if len(stops) != 1 || stops[0] != "remote-1" {
		t.Errorf("Expected one stop for remote-1, got %v", stops)
	}

	var outcome struct {
		Project types.Project `json:"project"`
		Flush   struct {
			Complete bool `json:"complete"`
			Acked    int  `json:"acked"`
		} `json:"flush"`
	}
	if err := json.Unmarshal(out.Bytes(), &outcome); err != nil {
		t.Fatalf("Expected JSON outcome, got %q: %v", out.String(), err)
	}
	if outcome.Project.ProjectID != "42" || !outcome.Flush.Complete || outcome.Flush.Acked != 3 {
		t.Errorf("Unexpected outcome %+v", outcome)
	}

	// The queue still lists the session until its acked steps are purged
	store, err := bolt.Open(path, testLogger())
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}

	var table bytes.Buffer
	if err := writeQueue(ctx, store, &table); err != nil {
		t.Fatalf("writeQueue failed: %v", err)
	}
	if !strings.Contains(table.String(), "local-1") {
		t.Errorf("Expected local-1 in queue listing, got %s", table.String())
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// A second drain finds the session stopped
	out.Reset()
	if err := runDrain(ctx, cfg, &out, testLogger()); err != nil {
		t.Fatalf("second runDrain failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "Nothing to drain" {
		t.Errorf("Expected nothing to drain, got %q", out.String())
	}
}
