package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"replyloop/pkg/engine"
	"replyloop/pkg/replies"
	"replyloop/pkg/state"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeDispatcher) Send(recipientID, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, recipientID+"|"+text)
	return true
}
func (f *fakeDispatcher) SetTyping(string, bool) bool { return true }
func (f *fakeDispatcher) HasCredential() bool         { return true }

func (f *fakeDispatcher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

func (f *fakeDispatcher) waitForSends(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := f.snapshot()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d sends, got %d: %v", n, len(got), got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestServer(t *testing.T, verifyToken string) (*httptest.Server, *fakeDispatcher, context.CancelFunc) {
	t.Helper()
	p := filepath.Join(t.TempDir(), "reply.txt")
	if err := os.WriteFile(p, []byte("A\nB\nC\n"), 0o644); err != nil {
		t.Fatalf("write pool: %v", err)
	}
	pool := replies.New(p, time.Hour)
	pool.Load(true)

	disp := &fakeDispatcher{}
	eng := engine.New(engine.Options{
		Pool:       pool,
		Table:      state.NewTable(),
		Dispatcher: disp,
		ReplyDelay: -1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)

	r := mux.NewRouter()
	Register(r, eng, verifyToken)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, disp, cancel
}

func TestVerify_EchoesChallengeOnTokenMatch(t *testing.T) {
	srv, _, cancel := newTestServer(t, "secret")
	defer cancel()

	res, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if string(b) != "12345" {
		t.Fatalf("expected challenge echo, got %q", string(b))
	}
}

func TestVerify_RejectsBadToken(t *testing.T) {
	srv, _, cancel := newTestServer(t, "secret")
	defer cancel()

	res, err := http.Get(srv.URL + "/webhook?hub.verify_token=wrong&hub.challenge=12345")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(b), "Verification failed") {
		t.Fatalf("unexpected body: %q", string(b))
	}
}

func TestVerify_RejectsWhenNoTokenConfigured(t *testing.T) {
	srv, _, cancel := newTestServer(t, "")
	defer cancel()

	res, err := http.Get(srv.URL + "/webhook?hub.verify_token=&hub.challenge=12345")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 with unset verify token, got %d", res.StatusCode)
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	return res
}

func TestReceive_TextMessageGetsRotationReply(t *testing.T) {
	srv, disp, cancel := newTestServer(t, "secret")
	defer cancel()

	body := `{"object":"page","entry":[{"id":"p1","messaging":[{"sender":{"id":"u1"},"message":{"mid":"m1","text":"hello"}}]}]}`
	res := postJSON(t, srv.URL+"/webhook", body)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(b), `"status":"ok"`) {
		t.Fatalf("unexpected ack body: %q", string(b))
	}

	sends := disp.waitForSends(t, 1)
	if sends[0] != "u1|A" {
		t.Fatalf("expected first rotation reply to u1, got %q", sends[0])
	}
}

// failingDispatcher refuses every send, as a client without a credential
// does.
type failingDispatcher struct{ fakeDispatcher }

func (f *failingDispatcher) Send(recipientID, text string) bool {
	f.fakeDispatcher.Send(recipientID, text)
	return false
}
func (f *failingDispatcher) HasCredential() bool { return false }

func TestReceive_AcksEvenWhenDeliveryFails(t *testing.T) {
	p := filepath.Join(t.TempDir(), "reply.txt")
	if err := os.WriteFile(p, []byte("A\n"), 0o644); err != nil {
		t.Fatalf("write pool: %v", err)
	}
	pool := replies.New(p, time.Hour)
	pool.Load(true)

	disp := &failingDispatcher{}
	eng := engine.New(engine.Options{
		Pool:       pool,
		Table:      state.NewTable(),
		Dispatcher: disp,
		ReplyDelay: -1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	r := mux.NewRouter()
	Register(r, eng, "secret")
	srv := httptest.NewServer(r)
	defer srv.Close()

	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u1"},"message":{"text":"hi"}}]}]}`
	res := postJSON(t, srv.URL+"/webhook", body)
	defer res.Body.Close()
	// delivery failure is not the inbound event's fault
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 despite failed delivery, got %d", res.StatusCode)
	}
	disp.waitForSends(t, 1)
}

func TestReceive_BadJSONRejected(t *testing.T) {
	srv, _, cancel := newTestServer(t, "secret")
	defer cancel()

	res := postJSON(t, srv.URL+"/webhook", "{not json")
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(b), "No data received") {
		t.Fatalf("unexpected error body: %q", string(b))
	}
}

func TestReceive_EmptyEnvelopeAcked(t *testing.T) {
	srv, disp, cancel := newTestServer(t, "secret")
	defer cancel()

	res := postJSON(t, srv.URL+"/webhook", `{"object":"page","entry":[]}`)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for empty envelope, got %d", res.StatusCode)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(disp.snapshot()); n != 0 {
		t.Fatalf("expected no sends, got %d", n)
	}
}

func TestReceive_AttachmentGetsAcknowledgment(t *testing.T) {
	srv, disp, cancel := newTestServer(t, "secret")
	defer cancel()

	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u2"},"message":{"mid":"m2","attachments":[{"type":"image"}]}}]}]}`
	res := postJSON(t, srv.URL+"/webhook", body)
	res.Body.Close()

	sends := disp.waitForSends(t, 1)
	if sends[0] != "u2|"+engine.AttachmentReply {
		t.Fatalf("expected attachment acknowledgment, got %q", sends[0])
	}
}

func TestReceive_GetStartedPostback(t *testing.T) {
	srv, disp, cancel := newTestServer(t, "secret")
	defer cancel()

	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u3"},"postback":{"title":"Get Started","payload":"GET_STARTED"}}]}]}`
	res := postJSON(t, srv.URL+"/webhook", body)
	res.Body.Close()

	sends := disp.waitForSends(t, 1)
	if sends[0] != "u3|"+engine.WelcomeReply {
		t.Fatalf("expected welcome reply, got %q", sends[0])
	}
}

func TestReceive_UnknownPostbackIgnored(t *testing.T) {
	srv, disp, cancel := newTestServer(t, "secret")
	defer cancel()

	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u4"},"postback":{"payload":"SOMETHING_ELSE"}}]}]}`
	res := postJSON(t, srv.URL+"/webhook", body)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(disp.snapshot()); n != 0 {
		t.Fatalf("expected unknown postback to be ignored, got sends %v", disp.snapshot())
	}
}

func TestReceive_WhitespaceOnlyTextIgnored(t *testing.T) {
	srv, disp, cancel := newTestServer(t, "secret")
	defer cancel()

	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u5"},"message":{"mid":"m5","text":"   "}}]}]}`
	res := postJSON(t, srv.URL+"/webhook", body)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(disp.snapshot()); n != 0 {
		t.Fatalf("expected no reply for whitespace-only text, got %v", disp.snapshot())
	}
}

func TestReceive_MultipleEventsInOneEnvelope(t *testing.T) {
	srv, disp, cancel := newTestServer(t, "secret")
	defer cancel()

	body := `{"object":"page","entry":[
		{"messaging":[{"sender":{"id":"a"},"message":{"text":"one"}}]},
		{"messaging":[{"sender":{"id":"b"},"message":{"text":"two"}},{"sender":{"id":"c"},"message":{"text":"three"}}]}
	]}`
	res := postJSON(t, srv.URL+"/webhook", body)
	res.Body.Close()

	sends := disp.waitForSends(t, 3)
	recipients := map[string]bool{}
	for _, s := range sends {
		recipients[strings.SplitN(s, "|", 2)[0]] = true
	}
	for _, id := range []string{"a", "b", "c"} {
		if !recipients[id] {
			t.Fatalf("missing reply to %s in %v", id, sends)
		}
	}
}
