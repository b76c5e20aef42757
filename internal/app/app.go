// Package app wires the service together: config, reply pool, conversation
// state, dispatcher, engine, janitor and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"replyloop/internal/janitor"
	"replyloop/pkg/config"
	"replyloop/pkg/engine"
	"replyloop/pkg/journal"
	"replyloop/pkg/logger"
	"replyloop/pkg/messenger"
	"replyloop/pkg/replies"
	"replyloop/pkg/state"
)

// App encapsulates the service components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	tokenSource string
	client      *messenger.Client
	engine      *engine.Engine

	srv *http.Server
}

// New initializes resources that do not require a running context: token
// resolution, the delivery journal, the reply pool (seeded on first load),
// the state table, the dispatcher and the engine. Call Run to start the
// workers, janitor and HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	cfg := eff.Config
	if cfg == nil {
		return nil, fmt.Errorf("nil effective config")
	}

	token, tokenSource := config.ResolveAccessToken(cfg)
	switch tokenSource {
	case "":
		logger.Warn("access_token_missing", "msg", "sends will be refused until PAGE_ACCESS_TOKEN is configured")
	default:
		logger.Info("access_token_loaded", "source", tokenSource)
	}

	var recorder messenger.Recorder
	if cfg.Journal.Enabled {
		jpath := cfg.Journal.Path
		if jpath == "" {
			jpath = "./.journal"
		}
		if err := journal.Open(jpath); err != nil {
			return nil, fmt.Errorf("failed to open journal at %s: %w", jpath, err)
		}
		recorder = journal.SendSink{}
	}

	repliesPath := eff.RepliesPath
	if repliesPath == "" {
		repliesPath = "./reply.txt"
	}
	pool := replies.New(repliesPath, cfg.Replies.Staleness.Duration())
	// initial load seeds the backing file with defaults when missing
	pool.Load(true)

	client := messenger.New(messenger.Options{
		BaseURL:       cfg.GraphBaseURL(),
		AccessToken:   token,
		SendTimeout:   cfg.Messenger.SendTimeout.Duration(),
		TypingTimeout: cfg.Messenger.TypingTimeout.Duration(),
		RPS:           cfg.Messenger.RateLimit.RPS,
		Burst:         cfg.Messenger.RateLimit.Burst,
		Recorder:      recorder,
	})

	eng := engine.New(engine.Options{
		Pool:          pool,
		Table:         state.NewTable(),
		Dispatcher:    client,
		Workers:       cfg.Engine.Workers,
		QueueCapacity: cfg.Engine.QueueCapacity,
		ReplyDelay:    cfg.Replies.ReplyDelay.Duration(),
	})

	return &App{
		eff:         eff,
		version:     version,
		commit:      commit,
		buildDate:   buildDate,
		tokenSource: tokenSource,
		client:      client,
		engine:      eng,
	}, nil
}

// Engine exposes the reply engine, mainly for tests.
func (a *App) Engine() *engine.Engine { return a.engine }

// Run starts the worker pool, the janitor and the HTTP server, then blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.engine.Start(ctx)

	cfg := a.eff.Config
	cancelJanitor, err := janitor.Start(ctx, janitor.Options{
		Table:               a.engine.Table(),
		SweepInterval:       cfg.Janitor.SweepInterval.Duration(),
		InactivityThreshold: cfg.Janitor.InactivityThreshold.Duration(),
		JournalEnabled:      cfg.Journal.Enabled,
		JournalCron:         cfg.Journal.PruneCron,
		JournalMaxAge:       cfg.Journal.MaxAge.Duration(),
		JournalMaxBytes:     cfg.Journal.MaxBytes.Int64(),
	})
	if err != nil {
		return err
	}
	defer cancelJanitor()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if a.srv != nil {
			_ = a.srv.Shutdown(shutdownCtx)
		}
		_ = journal.Close()
		return nil
	case err := <-errCh:
		_ = journal.Close()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
