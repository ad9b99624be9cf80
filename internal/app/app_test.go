package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/newsdigest/internal/delivery"
	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/rs/zerolog"
)

func writeMessage(t *testing.T, root, account, name, subject string) {
	t.Helper()
	dir := filepath.Join(root, account)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf(`{"id":%q,"subject":%q,"from":"desk@news.example","received_at":%q,"body":"details"}`,
		name, subject, time.Now().Add(-time.Hour).UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

// fakeOllama answers /api/generate by inspecting the system instruction
func fakeOllama(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req struct {
			System string `json:"system"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		subject := strings.TrimPrefix(strings.SplitN(req.Prompt, "\n", 2)[0], "Subject: ")

		var answer string
		switch {
		case strings.HasPrefix(req.System, "You classify"):
			if strings.Contains(subject, "receipt") {
				answer = `{"is_newsworthy":false,"confidence":0.95,"categories":[]}`
			} else {
				answer = `{"is_newsworthy":true,"confidence":0.9,"categories":[{"category":"Economy","confidence":0.9}]}`
			}
		case strings.HasPrefix(req.System, "You split"):
			answer = fmt.Sprintf(`{"stories":[{"title":%q,"summary":"s","confidence":0.8}]}`, subject)
		case strings.HasPrefix(req.System, "You group"):
			answer = `{"groups":[[0,1]]}`
		default:
			t.Errorf("unexpected system instruction %q", req.System)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "test", "response": answer, "done": true})
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, baseURL string) *model.Config {
	cfg := model.DefaultConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.BaseURL = baseURL
	cfg.LLM.Model = "test"
	cfg.Concurrency.RequestsPerMinute = 0
	cfg.Sources.Dir = t.TempDir()
	cfg.Sources.Accounts = []model.AccountConfig{{Name: "work"}, {Name: "home"}}
	cfg.Delivery.OutputDir = t.TempDir()
	return cfg
}

func TestApp_RunOnceEndToEnd(t *testing.T) {
	var calls atomic.Int32
	server := fakeOllama(t, &calls)
	cfg := testConfig(t, server.URL)
	writeMessage(t, cfg.Sources.Dir, "work", "fed", "Fed holds rates")
	writeMessage(t, cfg.Sources.Dir, "home", "fed2", "Fed keeps rates on hold")
	writeMessage(t, cfg.Sources.Dir, "home", "shop", "Your receipt")

	a, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = a.Close() }()

	out, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	run := out.Result.Run
	if run.Status() != model.StatusCompleted {
		t.Errorf("expected completed run, got %s with %+v", run.Status(), run.Failures)
	}
	if run.Counts.Fetched != 3 || run.Counts.Newsworthy != 2 || run.Counts.Clusters != 1 {
		t.Errorf("unexpected counts %+v", run.Counts)
	}
	if out.Digest == nil || out.Digest.Metrics.TotalStories != 1 {
		t.Fatalf("expected one merged story in the digest, got %+v", out.Digest)
	}
	if a.LastRun() != run {
		t.Error("LastRun must return the latest summary")
	}

	entries, err := os.ReadDir(cfg.Delivery.OutputDir)
	if err != nil || len(entries) != 2 {
		t.Errorf("expected json and markdown digests, got %v (%v)", entries, err)
	}
	// 3 classifications, 2 extractions, 1 grouping
	if calls.Load() != 6 {
		t.Errorf("expected 6 model calls, got %d", calls.Load())
	}
}

func TestApp_FailedRunIsNotDelivered(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Sources.Accounts = nil
	sink := &recordingSink{}

	a := NewWithDeps(cfg, Deps{Deliverer: sink}, zerolog.Nop())

	out, err := a.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected run failure without accounts")
	}
	if out == nil || out.Digest != nil {
		t.Errorf("failed runs carry no digest, got %+v", out)
	}
	if sink.calls != 0 {
		t.Error("failed run must not be delivered")
	}
}

type recordingSink struct {
	calls int
	err   error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ctx context.Context, d *delivery.Digest) error {
	s.calls++
	return s.err
}

func TestApp_DeliveryFailure(t *testing.T) {
	var calls atomic.Int32
	server := fakeOllama(t, &calls)
	cfg := testConfig(t, server.URL)
	writeMessage(t, cfg.Sources.Dir, "work", "fed", "Fed holds rates")

	a, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.deliverer = &recordingSink{err: errors.New("disk full")}

	out, err := a.RunOnce(context.Background())
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if out.Digest == nil || out.Result.Run.State != model.StateDone {
		t.Error("the run itself succeeded and must be reported")
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Config)
	}{
		{"unknown provider", func(c *model.Config) { c.LLM.Provider = "nope" }},
		{"unknown source", func(c *model.Config) { c.Sources.Kind = "imap" }},
		{"invalid config", func(c *model.Config) { c.Dedup.BatchSize = 1 }},
		{"gmail without credentials", func(c *model.Config) {
			c.Sources.Kind = "gmail"
			c.Sources.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "http://127.0.0.1:1")
			tt.mutate(cfg)
			if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
