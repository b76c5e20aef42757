// Package webhook receives the platform's event callbacks: the GET
// verification handshake and the POST event envelope. Parsed events are
// handed to the engine; this layer never blocks on delivery.
package webhook

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"replyloop/pkg/engine"
	"replyloop/pkg/logger"
	"replyloop/pkg/telemetry"
)

// Envelope is the outermost webhook callback body.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the messaging events of one page.
type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// MessagingEvent is a single inbound event; exactly one of Message or
// Postback is set.
type MessagingEvent struct {
	Sender    *Party    `json:"sender,omitempty"`
	Recipient *Party    `json:"recipient,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
	Postback  *Postback `json:"postback,omitempty"`
}

// Party identifies a conversation participant.
type Party struct {
	ID string `json:"id"`
}

// Message carries inbound message content.
type Message struct {
	MID         string            `json:"mid"`
	Text        string            `json:"text"`
	Attachments []json.RawMessage `json:"attachments,omitempty"`
}

// Postback carries a button-press payload.
type Postback struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// PostbackGetStarted is the payload of the platform's get-started button.
const PostbackGetStarted = "GET_STARTED"

// Handler serves the webhook endpoints.
type Handler struct {
	engine      *engine.Engine
	verifyToken string
}

// Register mounts the webhook endpoints on the router.
func Register(r *mux.Router, eng *engine.Engine, verifyToken string) {
	h := &Handler{engine: eng, verifyToken: verifyToken}
	r.HandleFunc("/webhook", h.verify).Methods(http.MethodGet)
	r.HandleFunc("/webhook", h.receive).Methods(http.MethodPost)
}

// verify answers the platform's subscription handshake: echo the challenge
// when the verify token matches, 403 otherwise.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")
	if h.verifyToken != "" && token == h.verifyToken {
		logger.Info("webhook_verified")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	logger.Error("webhook_verification_failed")
	http.Error(w, "Verification failed", http.StatusForbidden)
}

// receive parses the event envelope and dispatches each messaging event.
// Handled events always acknowledge with 200, even when delivery later
// fails: the inbound event itself was received and processed.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, `{"error":"No data received"}`, http.StatusBadRequest)
		return
	}
	for _, entry := range env.Entry {
		for _, ev := range entry.Messaging {
			h.dispatch(ev)
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// dispatch routes one messaging event by kind.
func (h *Handler) dispatch(ev MessagingEvent) {
	senderID := ""
	if ev.Sender != nil {
		senderID = ev.Sender.ID
	}

	switch {
	case ev.Message != nil && strings.TrimSpace(ev.Message.Text) != "":
		telemetry.EventsReceived.WithLabelValues("message").Inc()
		h.engine.Enqueue(senderID, ev.Message.Text)
	case ev.Message != nil && len(ev.Message.Attachments) > 0:
		telemetry.EventsReceived.WithLabelValues("attachment").Inc()
		if senderID != "" {
			h.engine.SendDirect(senderID, engine.AttachmentReply)
		}
	case ev.Postback != nil:
		telemetry.EventsReceived.WithLabelValues("postback").Inc()
		logger.Info("postback_received", "sender", senderID, "payload", ev.Postback.Payload)
		if senderID != "" && ev.Postback.Payload == PostbackGetStarted {
			h.engine.SendDirect(senderID, engine.WelcomeReply)
		}
	}
}
