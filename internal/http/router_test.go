package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-expense-backend/internal/config"
	"github.com/tbourn/go-expense-backend/internal/domain"
	"github.com/tbourn/go-expense-backend/internal/llm"
	"github.com/tbourn/go-expense-backend/internal/repo"
)

// scriptedExtractor returns a fixed extraction result.
type scriptedExtractor struct {
	res *llm.ExtractionResult
	err error
}

func (s scriptedExtractor) Extract(ctx context.Context, rawText string) (*llm.ExtractionResult, error) {
	return s.res, s.err
}

type silentSender struct{}

func (silentSender) SendReply(ctx context.Context, chatID int64, text string) error { return nil }

func newRouterDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.User{}, &domain.Expense{}, &domain.ProcessedUpdate{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func routerConfig() config.Config {
	return config.Config{
		APIBasePath:     "/api",
		MaxMessageRunes: 500,
		DedupTTL:        time.Hour,
		StepTimeout:     5 * time.Second,
		RateRPS:         1000,
		RateBurst:       1000,
		LLM:             config.LLMConfig{APIKey: "test-key"},
		OTEL:            config.OTELConfig{ServiceName: "expense-backend-test"},
	}
}

func newTestRouter(t *testing.T, db *gorm.DB, ex scriptedExtractor, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, db, ex, silentSender{}, cfg)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, newRouterDB(t), scriptedExtractor{}, routerConfig())

	if w := do(t, r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("/health: %d", w.Code)
	}
	w := do(t, r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "intake_pipeline_outcomes_total") &&
		!strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("metrics body missing expected families")
	}
}

func TestRouter_UnknownRouteAndMethod(t *testing.T) {
	r := newTestRouter(t, newRouterDB(t), scriptedExtractor{}, routerConfig())

	w := do(t, r, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != "not_found" {
		t.Fatalf("body = %s", w.Body.String())
	}

	if w := do(t, r, http.MethodDelete, "/health", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d; want 405", w.Code)
	}
}

func TestRouter_CommonHeaders(t *testing.T) {
	r := newTestRouter(t, newRouterDB(t), scriptedExtractor{}, routerConfig())

	w := do(t, r, http.MethodGet, "/health", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing security headers: %v", w.Header())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("default CORS posture missing")
	}
}

func TestRouter_ProcessEndToEnd(t *testing.T) {
	db := newRouterDB(t)
	if _, err := repo.CreateUser(context.Background(), db, "123456"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ex := scriptedExtractor{res: &llm.ExtractionResult{
		IsExpense:   true,
		Description: "Pizza",
		Amount:      decimal.RequireFromString("20.00"),
		Category:    "Food",
	}}
	r := newTestRouter(t, db, ex, routerConfig())

	body := []byte(`{"user_id": "123456", "message": "Pizza 20 reais"}`)
	w := do(t, r, http.MethodPost, "/api/process", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Success   bool   `json:"success"`
		Message   string `json:"message"`
		ExpenseID string `json:"expense_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.ExpenseID == "" || resp.Message != "Food expense added ✅ (20.00)" {
		t.Fatalf("resp = %+v", resp)
	}

	// The persisted row shows up on the history endpoint.
	w = do(t, r, http.MethodGet, "/api/users/123456/expenses", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d", w.Code)
	}
	var list struct {
		Expenses []domain.Expense `json:"expenses"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Expenses) != 1 || list.Expenses[0].Description != "Pizza" {
		t.Fatalf("history body = %s", w.Body.String())
	}
}

func TestRouter_ProcessRejectsUnlistedSender(t *testing.T) {
	r := newTestRouter(t, newRouterDB(t), scriptedExtractor{}, routerConfig())

	body := []byte(`{"user_id": "999999", "message": "Pizza 20"}`)
	if w := do(t, r, http.MethodPost, "/api/process", body); w.Code != http.StatusForbidden {
		t.Fatalf("status = %d; want 403", w.Code)
	}
}

func TestRouter_BadIdempotencyKeyRejected(t *testing.T) {
	r := newTestRouter(t, newRouterDB(t), scriptedExtractor{}, routerConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/process",
		bytes.NewReader([]byte(`{"user_id": "123456", "message": "Pizza 20"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "bad key with spaces")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", w.Code)
	}
}

func TestRouter_WebhookIdempotentEndToEnd(t *testing.T) {
	db := newRouterDB(t)
	if _, err := repo.CreateUser(context.Background(), db, "123456"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ex := scriptedExtractor{res: &llm.ExtractionResult{
		IsExpense:   true,
		Description: "Uber",
		Amount:      decimal.RequireFromString("15.00"),
		Category:    "Transportation",
	}}
	r := newTestRouter(t, db, ex, routerConfig())

	upd := []byte(`{"update_id": 42, "message": {"message_id": 1, "date": 1700000000,
		"from": {"id": 123456}, "chat": {"id": 123456, "type": "private"}, "text": "Uber 15"}}`)

	for i := 0; i < 2; i++ {
		if w := do(t, r, http.MethodPost, "/webhook/telegram", upd); w.Code != http.StatusOK {
			t.Fatalf("delivery %d: %d", i, w.Code)
		}
	}

	// The redelivered update was deduplicated: exactly one row.
	var n int64
	if err := db.Model(&domain.Expense{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expense rows = %d; want 1", n)
	}
}

func TestRouter_GroupWithPrefix(t *testing.T) {
	cfg := routerConfig()
	cfg.APIBasePath = "/"
	r := newTestRouter(t, newRouterDB(t), scriptedExtractor{}, cfg)

	// Root-mounted API still routes.
	body := []byte(`{"user_id": "999999", "message": "Pizza 20"}`)
	if w := do(t, r, http.MethodPost, "/process", body); w.Code != http.StatusForbidden {
		t.Fatalf("status = %d; want 403 (route exists, sender unlisted)", w.Code)
	}
}
