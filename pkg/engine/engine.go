// Package engine orchestrates the reply flow: resolve the next rotation
// reply for a sender and hand it to the dispatcher, bracketed by typing
// indicators. Each inbound message is processed exactly once with no
// retries; delivery failures are logged and dropped.
package engine

import (
	"context"
	"sync"
	"time"

	"replyloop/pkg/logger"
	"replyloop/pkg/replies"
	"replyloop/pkg/state"
	"replyloop/pkg/telemetry"
)

const (
	// AttachmentReply acknowledges non-text messages.
	AttachmentReply = "Thanks for sharing! 📎 I can respond to text messages. How can I help you today?"
	// WelcomeReply answers the GET_STARTED postback.
	WelcomeReply = "🎉 Welcome! Thanks for getting started. How can we help you today?"

	DefaultWorkers       = 4
	DefaultQueueCapacity = 256
	DefaultReplyDelay    = time.Second
)

// Dispatcher is the outbound delivery surface the engine depends on.
type Dispatcher interface {
	Send(recipientID, text string) bool
	SetTyping(recipientID string, on bool) bool
	HasCredential() bool
}

// Options configures an Engine.
type Options struct {
	Pool          *replies.Pool
	Table         *state.Table
	Dispatcher    Dispatcher
	Workers       int
	QueueCapacity int
	// ReplyDelay is the pacing pause between receiving a message and
	// sending the reply. It is slept outside any lock.
	ReplyDelay time.Duration
}

type task struct {
	senderID string
	text     string
}

// Engine resolves and dispatches replies. Inbound messages are enqueued
// onto a bounded worker pool; messages from different senders (and even
// rapid-fire messages from the same sender) may be dispatched out of
// arrival order, which the rotation design tolerates.
type Engine struct {
	pool       *replies.Pool
	table      *state.Table
	dispatcher Dispatcher
	replyDelay time.Duration
	workers    int

	tasks chan task
	wg    sync.WaitGroup

	startOnce sync.Once
}

// New builds an Engine; call Start to launch the workers.
func New(opts Options) *Engine {
	w := opts.Workers
	if w <= 0 {
		w = DefaultWorkers
	}
	qcap := opts.QueueCapacity
	if qcap <= 0 {
		qcap = DefaultQueueCapacity
	}
	delay := opts.ReplyDelay
	if delay < 0 {
		delay = 0
	} else if delay == 0 {
		delay = DefaultReplyDelay
	}
	return &Engine{
		pool:       opts.Pool,
		table:      opts.Table,
		dispatcher: opts.Dispatcher,
		replyDelay: delay,
		workers:    w,
		tasks:      make(chan task, qcap),
	}
}

// Table returns the conversation state table, for the janitor and stats.
func (e *Engine) Table() *state.Table { return e.table }

// Pool returns the reply pool.
func (e *Engine) Pool() *replies.Pool { return e.pool }

// Start launches the worker pool. Workers drain the queue until ctx is
// canceled. Calling Start more than once is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case t := <-e.tasks:
						e.Handle(t.senderID, t.text)
					}
				}
			}()
		}
		logger.Info("engine_started", "workers", e.workers, "queue_capacity", cap(e.tasks))
	})
}

// Wait blocks until all workers have exited after their context was
// canceled.
func (e *Engine) Wait() { e.wg.Wait() }

// Enqueue hands an inbound message to the worker pool without blocking.
// When the queue is full the message is dropped and logged; the sender
// simply receives no reply, which mirrors any other delivery failure.
func (e *Engine) Enqueue(senderID, text string) bool {
	select {
	case e.tasks <- task{senderID: senderID, text: text}:
		return true
	default:
		logger.Warn("engine_queue_full", "sender", senderID)
		return false
	}
}

// Handle processes one inbound message to completion: typing on, pacing
// delay, reply resolution, dispatch, typing off. Any internal fault is
// contained here so one bad message cannot take down processing for other
// senders.
func (e *Engine) Handle(senderID, text string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handle_panic", "sender", senderID, "panic", r)
		}
	}()

	logger.Info("processing_message", "sender", senderID, "preview", previewText(text))

	if senderID != "" {
		e.dispatcher.SetTyping(senderID, true)
	}
	if e.replyDelay > 0 {
		time.Sleep(e.replyDelay)
	}

	reply := e.nextReply(senderID)
	ok := e.dispatcher.Send(senderID, reply)
	if senderID != "" {
		e.dispatcher.SetTyping(senderID, false)
	}

	if ok {
		telemetry.RepliesSent.Inc()
		logger.Info("auto_reply_sent", "sender", senderID)
	} else {
		telemetry.SendFailures.Inc()
		logger.Error("auto_reply_failed", "sender", senderID)
	}
	telemetry.ActiveSenders.Set(float64(e.table.Size()))
}

// SendDirect dispatches a fixed text outside the rotation (attachment
// acknowledgments, postback replies).
func (e *Engine) SendDirect(senderID, text string) bool {
	ok := e.dispatcher.Send(senderID, text)
	if ok {
		telemetry.RepliesSent.Inc()
	} else {
		telemetry.SendFailures.Inc()
	}
	return ok
}

// nextReply picks the sender's next rotation reply: per-sender cursor when
// an identity is present, the shared fallback cursor otherwise. The cursor
// is taken modulo the current pool size, so pool edits only shift which
// reply comes next.
func (e *Engine) nextReply(senderID string) string {
	tpls := e.pool.Load(false)
	var idx int
	if senderID != "" {
		idx = e.table.NextReplyIndex(senderID)
	} else {
		idx = e.table.NextGlobalReplyIndex()
	}
	if len(tpls) == 0 {
		return replies.FallbackReply
	}
	telemetry.PoolSize.Set(float64(len(tpls)))
	return tpls[idx%len(tpls)]
}

// ForceReload re-reads the reply pool and returns the before/after counts.
func (e *Engine) ForceReload() (oldCount, newCount int) {
	oldCount, newCount = e.pool.Reload()
	telemetry.PoolReloads.Inc()
	telemetry.PoolSize.Set(float64(newCount))
	logger.Info("replies_reloaded", "old_count", oldCount, "new_count", newCount)
	return oldCount, newCount
}

// Stats is a point-in-time introspection snapshot.
type Stats struct {
	GlobalCursor  int                    `json:"global_reply_index"`
	PoolSize      int                    `json:"total_replies_available"`
	ActiveSenders int                    `json:"active_senders"`
	LastReload    time.Time              `json:"last_replies_reload"`
	Senders       map[string]state.Entry `json:"user_activity"`
}

// SnapshotLimit bounds how many per-sender entries a stats snapshot
// carries, so the endpoint stays cheap under load.
const SnapshotLimit = 10

// Stats returns the current introspection snapshot.
func (e *Engine) Stats() Stats {
	return Stats{
		GlobalCursor:  e.table.GlobalCursor(),
		PoolSize:      e.pool.Size(),
		ActiveSenders: e.table.Size(),
		LastReload:    e.pool.LoadedAt(),
		Senders:       e.table.Snapshot(SnapshotLimit),
	}
}

func previewText(text string) string {
	r := []rune(text)
	if len(r) > 100 {
		return string(r[:100]) + "..."
	}
	return text
}
