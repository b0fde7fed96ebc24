package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/common"
)

const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

type IdempotencyOptions struct {
	// RequireKey rejects requests without an Idempotency-Key header.
	RequireKey bool
}

// Idempotency suppresses duplicate submissions of mutating requests. The
// first request for a key runs; repeats either replay its stored 2xx response
// or, while it is still running, get 409 DUPLICATE_REQUEST.
type Idempotency struct {
	store  caching.IdempotencyStore
	logger logrus.FieldLogger
}

func NewIdempotency(store caching.IdempotencyStore, logger logrus.FieldLogger) *Idempotency {
	return &Idempotency{store: store, logger: logger}
}

// requestKey scopes the key to caller, method and path. Without a header the
// body (or query for reads) stands in for it.
func requestKey(req *http.Request, actor, headerKey string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(actor))
	h.Write([]byte{0})
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(req.URL.Path))
	h.Write([]byte{0})
	switch {
	case headerKey != "":
		h.Write([]byte("key:" + headerKey))
	case req.Method == http.MethodGet || req.Method == http.MethodHead:
		h.Write([]byte("query:" + req.URL.RawQuery))
	default:
		h.Write([]byte("body:"))
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type teeWriter struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (m *Idempotency) Guard(opts IdempotencyOptions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()

			headerKey := strings.TrimSpace(req.Header.Get(HeaderIdempotencyKey))
			if headerKey == "" && opts.RequireKey {
				return c.JSON(http.StatusBadRequest, common.CreateErrorResponse(
					"IDEMPOTENCY_KEY_REQUIRED", "Idempotency-Key header is required for this endpoint", nil))
			}

			var body []byte
			if req.Body != nil {
				var err error
				body, err = io.ReadAll(req.Body)
				if err != nil {
					return common.SendValidationError(c, "body", "could not read request body")
				}
				req.Body = io.NopCloser(bytes.NewReader(body))
			}
			key := requestKey(req, common.ActorFromContext(ctx), headerKey, body)

			lookup, err := m.store.Begin(ctx, key)
			if err != nil {
				// fail open
				m.logger.WithError(err).WithField("path", req.URL.Path).Warn("idempotency store unavailable")
				return next(c)
			}

			switch lookup.State {
			case caching.IdempotencyCompleted:
				c.Response().Header().Set(HeaderIdempotentReplayed, "true")
				return c.Blob(lookup.Response.Status, lookup.Response.ContentType, lookup.Response.Body)
			case caching.IdempotencyInFlight:
				retryAfter := int(math.Ceil(lookup.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				resp := common.CreateErrorResponse("DUPLICATE_REQUEST", "An identical request is still being processed", nil)
				return c.JSON(http.StatusConflict, map[string]any{
					"error":      resp.Error,
					"retryAfter": retryAfter,
				})
			}

			res := c.Response()
			original := res.Writer
			tee := &teeWriter{ResponseWriter: original}
			res.Writer = tee
			handlerErr := next(c)
			if handlerErr != nil {
				c.Error(handlerErr)
			}
			res.Writer = original

			ctx = context.WithoutCancel(ctx)
			if res.Status >= 200 && res.Status < 300 {
				stored := &caching.IdempotentResponse{
					Status:      res.Status,
					ContentType: res.Header().Get(echo.HeaderContentType),
					Body:        bytes.Clone(tee.buf.Bytes()),
				}
				if err := m.store.Complete(ctx, key, stored); err != nil {
					m.logger.WithError(err).WithField("path", req.URL.Path).Warn("failed to store idempotent response")
				}
			} else if err := m.store.Discard(ctx, key); err != nil {
				m.logger.WithError(err).WithField("path", req.URL.Path).Warn("failed to clear idempotency marker")
			}
			return nil
		}
	}
}
