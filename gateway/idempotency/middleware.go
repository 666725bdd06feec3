package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	coreerrors "afrochain/core/errors"
	"afrochain/core/keylock"
	"afrochain/core/types"
	"afrochain/gateway/middleware"
	"afrochain/observability"
	"afrochain/observability/logging"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
)

// Guard wraps mutating handlers with idempotent replay and audit logging.
type Guard struct {
	store   *Store
	locks   keylock.Locker
	logger  *slog.Logger
	nowFn   func() time.Time
	maxBody int64
}

func NewGuard(store *Store, maxBody int64, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Guard{store: store, logger: logger.With("component", "idempotency"), nowFn: time.Now, maxBody: maxBody}
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, g.maxBody+1))
		if err != nil || int64(len(body)) > g.maxBody {
			middleware.WriteEnvelope(w, http.StatusBadRequest, types.Fail("", coreerrors.Validation("request body unreadable or larger than %d bytes", g.maxBody)))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		principal := middleware.Subject(r.Context())
		key := strings.TrimSpace(r.Header.Get(HeaderKey))
		entry := AuditEntry{
			Principal:      principal,
			Method:         r.Method,
			Path:           r.URL.Path,
			IdempotencyKey: key,
			RequestBody:    logging.RedactJSON(body),
		}
		if key == "" {
			rec := newCapture(w)
			next.ServeHTTP(rec, r)
			g.audit(r, entry, rec.status, rec.body.Bytes(), false)
			return
		}

		unlock := g.locks.Lock(principal + "|" + key)
		defer unlock()

		requestHash := hashRequest(r.Method, r.URL.Path, body)
		cached, err := g.store.Lookup(r.Context(), principal, key, requestHash)
		switch {
		case errors.Is(err, ErrMismatch):
			env := types.Fail("", coreerrors.Validation("%s %q was already used for a different request", HeaderKey, key))
			payload, _ := json.Marshal(env)
			middleware.WriteEnvelope(w, http.StatusBadRequest, env)
			g.audit(r, entry, http.StatusBadRequest, payload, false)
			return
		case err != nil:
			g.logger.Error("idempotency lookup failed", "error", err)
			middleware.WriteEnvelope(w, http.StatusInternalServerError, types.Fail("", coreerrors.Internal("idempotency lookup", err)))
			return
		case cached != nil:
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplayed, "true")
			observability.API().RecordReplay(r.URL.Path)
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			g.audit(r, entry, cached.Status, cached.Body, true)
			return
		}

		rec := newCapture(w)
		next.ServeHTTP(rec, r)
		if err := g.store.Save(r.Context(), principal, key, requestHash, rec.status, rec.body.Bytes()); err != nil {
			g.logger.Error("idempotency save failed", "error", err)
		}
		g.audit(r, entry, rec.status, rec.body.Bytes(), false)
	})
}

func (g *Guard) audit(r *http.Request, entry AuditEntry, status int, body []byte, replayed bool) {
	entry.ResponseStatus = status
	entry.ResponseBody = append([]byte(nil), body...)
	entry.Replayed = replayed
	entry.Timestamp = g.nowFn().UTC()
	if err := g.store.InsertAuditLog(r.Context(), entry); err != nil {
		g.logger.Warn("audit log write failed", "error", err)
	}
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// capture tees the response so it can be stored after the handler returns.
type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func newCapture(w http.ResponseWriter) *capture {
	return &capture{ResponseWriter: w, status: http.StatusOK}
}

func (c *capture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capture) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
