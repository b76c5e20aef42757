// Package messenger delivers outbound messages through the platform's
// Graph send API. Every call makes a single attempt, reports a boolean
// outcome and never propagates a transport fault to the caller.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"replyloop/pkg/logger"
)

const (
	// MaxTextLen is the platform's message body limit. Longer texts are cut
	// down and suffixed with TruncationMarker so the result is exactly
	// MaxTextLen characters.
	MaxTextLen       = 2000
	TruncationMarker = "..."

	// MessagingTypeResponse marks an outbound message as a reply to a
	// received one.
	MessagingTypeResponse = "RESPONSE"

	DefaultSendTimeout   = 10 * time.Second
	DefaultTypingTimeout = 5 * time.Second
)

// Recorder receives the outcome of every send attempt. Implementations must
// be non-blocking best-effort; a nil Recorder disables recording.
type Recorder interface {
	RecordSend(recipientID string, ok bool, status int, preview string)
}

// sendPayload is the platform send-API body. The field layout is dictated
// by the remote platform and must not change.
type sendPayload struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	MessagingType string `json:"messaging_type"`
}

// actionPayload is the typing-indicator body.
type actionPayload struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	SenderAction string `json:"sender_action"`
}

// Options configures a Client.
type Options struct {
	// BaseURL includes the API version segment, e.g.
	// "https://graph.facebook.com/v18.0".
	BaseURL       string
	AccessToken   string
	SendTimeout   time.Duration
	TypingTimeout time.Duration
	RPS           float64
	Burst         int
	Recorder      Recorder
}

// Client issues send and typing-indicator requests. Safe for concurrent use.
type Client struct {
	baseURL       string
	token         string
	httpClient    *http.Client
	sendTimeout   time.Duration
	typingTimeout time.Duration
	limiters      limiterPool
	recorder      Recorder
}

// New builds a Client. An empty access token is allowed; sends then fail
// closed until a token is configured.
func New(opts Options) *Client {
	st := opts.SendTimeout
	if st <= 0 {
		st = DefaultSendTimeout
	}
	tt := opts.TypingTimeout
	if tt <= 0 {
		tt = DefaultTypingTimeout
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://graph.facebook.com/v18.0"
	}
	return &Client{
		baseURL:       base,
		token:         strings.TrimSpace(opts.AccessToken),
		httpClient:    &http.Client{},
		sendTimeout:   st,
		typingTimeout: tt,
		limiters:      limiterPool{rps: opts.RPS, burst: opts.Burst},
		recorder:      opts.Recorder,
	}
}

// HasCredential reports whether an access token is configured.
func (c *Client) HasCredential() bool { return c.token != "" }

// Truncate cuts text down to MaxTextLen characters, appending
// TruncationMarker when it had to shorten.
func Truncate(text string) string {
	r := []rune(text)
	if len(r) <= MaxTextLen {
		return text
	}
	return string(r[:MaxTextLen-len(TruncationMarker)]) + TruncationMarker
}

// Send delivers text to the recipient with a single attempt. It returns
// true only on an explicit success status from the remote API; missing
// credential, timeout, transport error and non-success status all log and
// return false.
func (c *Client) Send(recipientID, text string) bool {
	if !c.HasCredential() {
		logger.Error("send_refused_no_token", "recipient", recipientID)
		c.record(recipientID, false, 0, text)
		return false
	}

	text = Truncate(text)
	var body sendPayload
	body.Recipient.ID = recipientID
	body.Message.Text = text
	body.MessagingType = MessagingTypeResponse

	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()

	// One limiter per recipient keeps a chatty conversation from starving
	// the rest.
	if err := c.limiters.get(recipientID).Wait(ctx); err != nil {
		logger.Error("send_rate_wait_failed", "recipient", recipientID, "error", err)
		c.record(recipientID, false, 0, text)
		return false
	}

	status, respBody, err := c.post(ctx, "/me/messages", body)
	if err != nil {
		logger.Error("send_request_failed", "recipient", recipientID, "error", err)
		c.record(recipientID, false, 0, text)
		return false
	}
	if status != http.StatusOK {
		logger.Error("send_api_error", "recipient", recipientID, "status", status, "body", respBody)
		c.record(recipientID, false, status, text)
		return false
	}
	logger.Info("message_sent", "recipient", recipientID, "preview", preview(text))
	c.record(recipientID, true, status, text)
	return true
}

// SetTyping toggles the typing indicator for the recipient. Purely
// cosmetic: all failures are swallowed and reported as false.
func (c *Client) SetTyping(recipientID string, on bool) bool {
	if !c.HasCredential() {
		return false
	}
	var body actionPayload
	body.Recipient.ID = recipientID
	if on {
		body.SenderAction = "typing_on"
	} else {
		body.SenderAction = "typing_off"
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.typingTimeout)
	defer cancel()
	status, _, err := c.post(ctx, "/me/messages", body)
	if err != nil {
		return false
	}
	return status == http.StatusOK
}

// post issues one JSON POST to the send endpoint and returns the status
// code and a bounded slice of the response body for diagnostics.
func (c *Client) post(ctx context.Context, path string, payload any) (int, string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	u := c.baseURL + path + "?access_token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(rb), nil
}

func (c *Client) record(recipientID string, ok bool, status int, text string) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordSend(recipientID, ok, status, preview(text))
}

func preview(text string) string {
	r := []rune(text)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return text
}
