package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type api struct {
	matrix  *Matrix
	bus     *EventBus
	metrics *Metrics
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
	// rate limiting buckets per IP:key
	rlMu sync.Mutex
	rl   map[string]*rateBucket
}

func newAPI(m *Matrix, bus *EventBus, metrics *Metrics, cfg Config, log *slog.Logger) *api {
	return &api{matrix: m, bus: bus, metrics: metrics, cfg: cfg, log: log, now: time.Now, rl: map[string]*rateBucket{}}
}

type rateBucket struct {
	count   int
	resetAt time.Time
}

func (a *api) allow(ip, key string, max int, window time.Duration) bool {
	now := a.now()
	rk := ip + ":" + key
	a.rlMu.Lock()
	defer a.rlMu.Unlock()
	b, ok := a.rl[rk]
	if !ok || now.After(b.resetAt) {
		// sweep expired buckets so the map stays bounded by active clients
		for k, old := range a.rl {
			if now.After(old.resetAt) {
				delete(a.rl, k)
			}
		}
		b = &rateBucket{resetAt: now.Add(window)}
		a.rl[rk] = b
	}
	if b.count >= max {
		return false
	}
	b.count++
	return true
}

func (a *api) withRateLimit(name string, max int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.allow(clientIP(r), name, max, window) {
			writeError(w, 429, "too many requests")
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseID(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return readJSONLimit(w, r, dst, 1<<20)
}

func readJSONLimit(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, r.Body)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"message": msg})
}

// badPayload answers a body that could not be decoded. Shape errors raised while
// decoding keep their per-field messages.
func (a *api) badPayload(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, 400, map[string]any{"message": "invalid payload", "errors": verr.Fields})
		return
	}
	writeError(w, 400, "invalid payload")
}

// fail maps a manager error onto the response. op names the action for logs and for
// the generic failure message.
func (a *api) fail(w http.ResponseWriter, op string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, 400, map[string]any{"message": "invalid payload", "errors": verr.Fields})
	case errors.Is(err, ErrNotFound):
		writeError(w, 404, "not found")
	case errors.Is(err, ErrCapacity):
		a.log.Warn(op, "err", err)
		writeError(w, 500, "Failed to "+op)
	default:
		a.log.Error(op, "err", err)
		writeError(w, 500, "Failed to "+op)
	}
}

// cookie/session helpers
func (a *api) sessionCookieName() string { return a.cfg.SessionCookieName }

func (a *api) sameSite() http.SameSite {
	switch strings.ToLower(a.cfg.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

const sessionTTL = 30 * 24 * time.Hour

// rememberList stores the last created or visited list for the browser.
func (a *api) rememberList(w http.ResponseWriter, listID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.sessionCookieName(),
		Value:    listID,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: a.sameSite(),
		Expires:  a.now().Add(sessionTTL),
		MaxAge:   int(sessionTTL.Seconds()),
	})
}

func (a *api) forgetList(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.sessionCookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: a.sameSite(),
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func (a *api) rememberedList(r *http.Request) (string, bool) {
	c, err := r.Cookie(a.sessionCookieName())
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// requireAdmin checks the X-Admin-Token header against the configured bcrypt hash.
func (a *api) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.BackupTokenHash == "" {
			writeError(w, 403, "forbidden")
			return
		}
		tok := r.Header.Get("X-Admin-Token")
		if tok == "" {
			writeError(w, 401, "unauthorized")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(a.cfg.BackupTokenHash), []byte(tok)); err != nil {
			writeError(w, 403, "forbidden")
			return
		}
		next(w, r)
	}
}

func withLogging(log *slog.Logger, metrics *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		metrics.observeRequest(r.Pattern, sw.status, dur)
		log.Info("http", "method", r.Method, "path", r.URL.Path, "status", sw.status, "dur_ms", dur.Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) { w.status = code; w.ResponseWriter.WriteHeader(code) }

// Flush passes through so SSE works behind the logger.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("GET /api/session/last-list", a.handleLastList)

	mux.HandleFunc("POST /api/lists", a.withRateLimit("create_list", a.cfg.CreateListRate, time.Minute, a.handleCreateList))
	mux.HandleFunc("GET /api/lists/{listId}", a.handleGetList)
	mux.HandleFunc("PATCH /api/lists/{listId}", a.handleUpdateList)
	mux.HandleFunc("DELETE /api/lists/{listId}", a.handleDeleteList)
	mux.HandleFunc("GET /api/lists/{listId}/matrix-settings", a.handleGetMatrixSettings)
	mux.HandleFunc("PATCH /api/lists/{listId}/matrix-settings", a.handleUpdateMatrixSettings)
	mux.HandleFunc("GET /api/lists/{listId}/export", a.handleExportList)
	mux.HandleFunc("GET /api/lists/{listId}/events", a.handleListEvents)

	mux.HandleFunc("GET /api/lists/{listId}/todo-items", a.handleItemsByList)
	mux.HandleFunc("POST /api/lists/{listId}/todo-items", a.handleCreateItem)
	mux.HandleFunc("POST /api/lists/{listId}/todo-items/reorder", a.handleReorderItems)
	mux.HandleFunc("POST /api/lists/{listId}/todo-items/clear-matrix", a.handleClearMatrix)
	mux.HandleFunc("DELETE /api/lists/{listId}/todo-items/completed", a.handleClearCompleted)
	mux.HandleFunc("PATCH /api/lists/{listId}/todo-items/{id}", a.handleUpdateItem)
	mux.HandleFunc("DELETE /api/lists/{listId}/todo-items/{id}", a.handleDeleteItem)

	// Admin: full backup and restore
	mux.HandleFunc("GET /api/backup/export", a.requireAdmin(a.handleBackupExport))
	mux.HandleFunc("POST /api/backup/import", a.requireAdmin(a.handleBackupImport))

	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
}
