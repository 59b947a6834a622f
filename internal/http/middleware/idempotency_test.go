package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyValidator_NoHeaderIsNoop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil))
	r.POST("/process", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Errorf("no key expected")
		}
		if IsReplay(c) {
			t.Errorf("no replay expected")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/process", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 10}, nil))
	r.POST("/process", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, key := range []string{"way-too-long-for-the-cap", "bad key with spaces", "emoji✅"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/process", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("key %q: status = %d; want 400", key, w.Code)
		}
	}
}

func TestIdempotencyValidator_StashesKeyAndDetectsReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)

	lookup := func(ctx context.Context, senderID, key string, now time.Time) (bool, error) {
		return key == "seen-before", nil
	}

	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/process", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		if !ok {
			t.Errorf("key not stashed")
		}
		c.JSON(http.StatusOK, gin.H{"key": key, "replay": IsReplay(c)})
	})

	// Fresh key: stashed, not a replay.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/process", nil)
	req.Header.Set(HeaderIdempotencyKey, "fresh-key-1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("fresh key: %d %s", w.Code, w.Body.String())
	}

	// Known key: flagged as replay with rate bypass.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/process", nil)
	req.Header.Set(HeaderIdempotencyKey, "seen-before")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"replay":true`) {
		t.Fatalf("replayed key: %d %s", w.Code, w.Body.String())
	}
}
