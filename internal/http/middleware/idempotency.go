// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for the intake endpoint. Clients
// that retry POST /process (mobile apps on flaky links, gateway retries) can
// supply an Idempotency-Key header; the middleware validates the key, stashes
// it in the request context, and consults a caller-supplied lookup so that
// handlers can serve a replay instead of extracting and persisting the same
// expense twice.
//
// Persistence is decoupled through the narrow IdempotencyLookup function
// type; the middleware itself never touches the database.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients use to convey an
// idempotency key for intake retries. The value must be stable across retries
// of the same semantic message.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when this key was already processed
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware detected that this request repeats
// an already-processed (sender, key) pair. Handlers should then acknowledge
// without running the pipeline again.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation for IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative token
	// pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether (senderID, key) was already processed at
// the given time. Implementations consult the dedup store; TTL enforcement
// belongs inside the lookup. Return an error only for lookup failures, which
// must not block normal processing.
type IdempotencyLookup func(ctx context.Context, senderID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes the normalized key, and marks detected replays so downstream
// components can short-circuit and skip rate limiting.
//
// Behavior:
//   - Header absent: no-op.
//   - Header fails validation: 400 with a compact error body.
//   - Lookup reports a replay: replay + rate-bypass flags are set.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			sender := senderIDFromCtx(c)
			if exists, _ := lookup(c.Request.Context(), sender, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// senderIDFromCtx extracts the external sender id stashed by the intake
// handler or an upstream identity layer. Empty when no identity is known;
// lookups then key on the idempotency key alone.
func senderIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get("senderID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
