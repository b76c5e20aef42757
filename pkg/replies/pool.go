// Package replies maintains the rotating pool of outbound reply templates.
// The pool is backed by a flat UTF-8 text file, one reply per line, and is
// re-read lazily whenever the cached copy grows older than the configured
// staleness window.
package replies

import (
	"os"
	"strings"
	"sync"
	"time"

	"replyloop/pkg/logger"
)

// DefaultStaleness is how long a loaded template list is served before the
// backing file is consulted again.
const DefaultStaleness = 30 * time.Second

// FallbackReply is used when the pool cannot produce any template at all,
// so an outbound message never has an empty body.
const FallbackReply = "Thanks for your message! 😊"

// defaultReplies seeds the backing file when it is missing or empty.
var defaultReplies = []string{
	"Hello! Thanks for messaging us. We'll get back to you soon! 😊",
	"Thanks for reaching out! How can we help you today?",
	"We appreciate your message. Our team will respond shortly.",
	"Hello there! We're here to help. What can we do for you?",
	"Thanks for contacting us! We value your inquiry.",
	"Hi! We've received your message and will respond as soon as possible.",
	"Hello! Thanks for getting in touch. We're here to assist you.",
	"We appreciate you reaching out to us today! 🙌",
	"Thanks for your message! Our team is ready to help.",
	"Hello! We're glad you contacted us. How may we assist you?",
}

// Pool caches the reply templates read from a backing file. All methods are
// safe for concurrent use; a single mutex serializes reloads so callers never
// observe a partially-written list.
type Pool struct {
	mu        sync.Mutex
	path      string
	staleness time.Duration
	templates []string
	loadedAt  time.Time
}

// New creates a pool backed by the file at path. A zero staleness selects
// DefaultStaleness. The file is not read until the first Load call.
func New(path string, staleness time.Duration) *Pool {
	if strings.TrimSpace(path) == "" {
		path = "./reply.txt"
	}
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Pool{path: path, staleness: staleness}
}

// Path returns the backing file path.
func (p *Pool) Path() string { return p.path }

// Load returns the current template list, re-reading the backing file when
// force is true or the cache is stale. The returned slice is replaced
// wholesale on reload and must be treated as read-only by callers.
func (p *Pool) Load(force bool) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if !force && !p.loadedAt.IsZero() && now.Sub(p.loadedAt) <= p.staleness && len(p.templates) > 0 {
		return p.templates
	}

	lines, err := readLines(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("reply_source_missing", "path", p.path)
		} else {
			logger.Error("reply_source_read_failed", "path", p.path, "error", err)
		}
	} else if len(lines) == 0 {
		logger.Warn("reply_source_empty", "path", p.path)
	}
	if err != nil || len(lines) == 0 {
		// Seed the source with the built-in defaults; a failed write is
		// logged but the in-memory defaults are still served.
		if werr := writeLines(p.path, defaultReplies); werr != nil {
			logger.Error("reply_seed_write_failed", "path", p.path, "error", werr)
		} else {
			logger.Info("reply_source_seeded", "path", p.path, "count", len(defaultReplies))
		}
		p.templates = append([]string(nil), defaultReplies...)
		p.loadedAt = now
		return p.templates
	}

	p.templates = lines
	p.loadedAt = now
	logger.Info("replies_loaded", "path", p.path, "count", len(lines))
	return p.templates
}

// Reload forces a re-read of the backing file and returns the template
// counts before and after.
func (p *Pool) Reload() (oldCount, newCount int) {
	p.mu.Lock()
	oldCount = len(p.templates)
	p.mu.Unlock()
	newCount = len(p.Load(true))
	return oldCount, newCount
}

// Size returns the current template count, applying the same staleness
// check as Load.
func (p *Pool) Size() int {
	return len(p.Load(false))
}

// LoadedAt returns the time of the last successful load, zero before the
// first one.
func (p *Pool) LoadedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadedAt
}

// readLines reads the backing file, trims each line and drops blanks,
// preserving the order of the remaining lines.
func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ln := range strings.Split(string(b), "\n") {
		if s := strings.TrimSpace(ln); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func writeLines(path string, lines []string) error {
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
