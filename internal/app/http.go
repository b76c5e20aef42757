package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"replyloop/pkg/banner"
	"replyloop/pkg/journal"
	"replyloop/pkg/logger"
	"replyloop/pkg/webhook"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff, verStr, a.tokenSource, a.engine.Pool().Size())
}

// setupHTTPHandlers mounts all routes on the router.
func (a *App) setupHTTPHandlers(r *mux.Router) {
	webhook.Register(r, a.engine, a.eff.Config.Messenger.VerifyToken)

	r.HandleFunc("/", a.homeHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.HandleFunc("/test", a.testHandler).Methods(http.MethodGet)

	admin := a.adminOnly
	r.HandleFunc("/reload_replies", admin(a.reloadHandler)).Methods(http.MethodPost)
	r.HandleFunc("/stats", admin(a.statsHandler)).Methods(http.MethodGet)
	r.HandleFunc("/journal", admin(a.journalHandler)).Methods(http.MethodGet)

	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	r.Handle("/metrics", promhttp.Handler())
}

// adminOnly gates a management handler behind the configured admin keys.
// With no keys configured the handler stays open, matching a local
// single-operator deployment.
func (a *App) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := a.eff.Config.Security.AdminKeys
		if len(keys) == 0 {
			next(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		for _, k := range keys {
			if k != "" && got == k {
				next(w, r)
				return
			}
		}
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}
}

// homeHandler reports service status and the management surface.
func (a *App) homeHandler(w http.ResponseWriter, r *http.Request) {
	st := a.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "running",
		"service":        "replyloop auto-responder",
		"version":        a.version,
		"timestamp":      time.Now().Format(time.RFC3339),
		"replies_loaded": st.PoolSize,
		"active_senders": st.ActiveSenders,
		"webhook_url":    "/webhook",
		"management": map[string]string{
			"reload_replies": "POST /reload_replies",
			"statistics":     "GET /stats",
			"health":         "GET /healthz",
		},
	})
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// readyzHandler verifies the journal (when enabled) and the reply pool.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.eff.Config.Journal.Enabled && !journal.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"journal not ready"}`))
		return
	}
	if a.engine.Pool().Size() == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"reply pool empty"}`))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

// testHandler is a cheap deployment check.
func (a *App) testHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "replyloop is deployed and running",
		"test_successful": true,
		"timestamp":       time.Now().Format(time.RFC3339),
		"ready_for_sends": a.client.HasCredential(),
	})
}

// reloadHandler forces a reply pool reload and reports counts.
func (a *App) reloadHandler(w http.ResponseWriter, r *http.Request) {
	oldCount, newCount := a.engine.ForceReload()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"old_count": oldCount,
		"new_count": newCount,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// statsHandler reports rotation statistics plus a bounded per-sender view.
func (a *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	st := a.engine.Stats()
	var lastReload any
	if !st.LastReload.IsZero() {
		lastReload = st.LastReload.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bot_statistics": map[string]any{
			"global_reply_index":      st.GlobalCursor,
			"total_replies_available": st.PoolSize,
			"active_senders":          st.ActiveSenders,
			"last_replies_reload":     lastReload,
		},
		"user_activity": st.Senders,
		"configuration": map[string]any{
			"api_version":      a.eff.Config.Messenger.APIVersion,
			"has_access_token": a.client.HasCredential(),
			"verify_token_set": a.eff.Config.Messenger.VerifyToken != "",
		},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// journalHandler returns recent delivery journal records.
func (a *App) journalHandler(w http.ResponseWriter, r *http.Request) {
	if !a.eff.Config.Journal.Enabled {
		http.Error(w, `{"error":"journal disabled"}`, http.StatusNotFound)
		return
	}
	recs, err := journal.Recent(100)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":    recs,
		"size_bytes": journal.SizeBytes(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("write_json_failed", "error", err)
	}
}

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns a channel that will contain any server error.
func (a *App) startHTTP(_ context.Context) <-chan error {
	r := mux.NewRouter()
	a.setupHTTPHandlers(r)

	a.srv = &http.Server{Addr: a.eff.Addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}

// Handler returns the fully-wired HTTP handler without starting a server;
// tests drive it through httptest.
func (a *App) Handler() http.Handler {
	r := mux.NewRouter()
	a.setupHTTPHandlers(r)
	return r
}
