package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"replyloop/pkg/config"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	t.Setenv("PAGE_ACCESS_TOKEN", "")
	dir := t.TempDir()
	repliesPath := filepath.Join(dir, "reply.txt")
	if err := os.WriteFile(repliesPath, []byte("A\nB\nC\n"), 0o644); err != nil {
		t.Fatalf("write replies: %v", err)
	}

	cfg := &config.Config{}
	cfg.Messenger.VerifyToken = "vt"
	cfg.Messenger.TokenFile = filepath.Join(dir, "missing-token.txt")
	if mutate != nil {
		mutate(cfg)
	}
	eff := config.EffectiveConfigResult{
		Config:      cfg,
		Addr:        "127.0.0.1:0",
		RepliesPath: repliesPath,
		Source:      "config",
	}
	a, err := New(eff, "test", "none", "unknown")
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a
}

func get(t *testing.T, srv *httptest.Server, path, bearer string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	var body map[string]any
	_ = json.Unmarshal(b, &body)
	return res.StatusCode, body
}

func TestHome(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	status, body := get(t, srv, "/", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "running" {
		t.Fatalf("unexpected status %v", body["status"])
	}
	if body["replies_loaded"] != float64(3) {
		t.Fatalf("expected 3 loaded replies, got %v", body["replies_loaded"])
	}
	if body["webhook_url"] != "/webhook" {
		t.Fatalf("unexpected webhook_url %v", body["webhook_url"])
	}
}

func TestHealthAndReadiness(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	status, body := get(t, srv, "/healthz", "")
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", status, body)
	}
	status, body = get(t, srv, "/readyz", "")
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("readyz: %d %v", status, body)
	}
	if body["version"] != "test" {
		t.Fatalf("expected version in readyz, got %v", body["version"])
	}
}

func TestTestEndpointReportsCredential(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	status, body := get(t, srv, "/test", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["test_successful"] != true {
		t.Fatalf("expected test_successful, got %v", body)
	}
	// no token anywhere in this fixture
	if body["ready_for_sends"] != false {
		t.Fatalf("expected ready_for_sends false, got %v", body["ready_for_sends"])
	}
}

func TestReloadReplies(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	// grow the backing file, then reload
	path := a.engine.Pool().Path()
	if err := os.WriteFile(path, []byte("A\nB\nC\nD\nE\n"), 0o644); err != nil {
		t.Fatalf("rewrite replies: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/reload_replies", nil)
	status, body := do(t, req)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["old_count"] != float64(3) || body["new_count"] != float64(5) {
		t.Fatalf("expected 3 -> 5, got %v -> %v", body["old_count"], body["new_count"])
	}
}

func TestStatsShape(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	a.engine.Table().NextReplyIndex("u1")

	status, body := get(t, srv, "/stats", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	bot, ok := body["bot_statistics"].(map[string]any)
	if !ok {
		t.Fatalf("missing bot_statistics in %v", body)
	}
	if bot["total_replies_available"] != float64(3) {
		t.Fatalf("expected 3 replies available, got %v", bot["total_replies_available"])
	}
	if bot["active_senders"] != float64(1) {
		t.Fatalf("expected 1 active sender, got %v", bot["active_senders"])
	}
	if _, ok := body["user_activity"].(map[string]any)["u1"]; !ok {
		t.Fatalf("expected u1 in user_activity, got %v", body["user_activity"])
	}
	cfg, ok := body["configuration"].(map[string]any)
	if !ok || cfg["verify_token_set"] != true {
		t.Fatalf("unexpected configuration block %v", body["configuration"])
	}
}

func TestAdminKeyGating(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Security.AdminKeys = []string{"adm-1"}
	})
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	status, _ := get(t, srv, "/stats", "")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", status)
	}
	status, _ = get(t, srv, "/stats", "wrong")
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", status)
	}
	status, _ = get(t, srv, "/stats", "adm-1")
	if status != http.StatusOK {
		t.Fatalf("expected 200 with valid key, got %d", status)
	}
	// public endpoints stay open
	status, _ = get(t, srv, "/healthz", "")
	if status != http.StatusOK {
		t.Fatalf("expected open healthz, got %d", status)
	}
}

func TestJournalEndpointDisabled(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	status, body := get(t, srv, "/journal", "")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for disabled journal, got %d", status)
	}
	if s, _ := body["error"].(string); !strings.Contains(s, "journal") {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestWebhookMountedThroughApp(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/webhook?hub.verify_token=vt&hub.challenge=777")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK || string(b) != "777" {
		t.Fatalf("handshake through app failed: %d %q", res.StatusCode, string(b))
	}
}

func TestMetricsExposed(t *testing.T) {
	a := newTestApp(t, nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", res.StatusCode)
	}
	if !strings.Contains(string(b), "go_goroutines") {
		t.Fatalf("expected Prometheus exposition output")
	}
}
