package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/social-credit/internal/config"
	"github.com/tbourn/social-credit/internal/domain"
	"github.com/tbourn/social-credit/internal/http/handlers"
	"github.com/tbourn/social-credit/internal/repo"
	"github.com/tbourn/social-credit/internal/services"
)

type recordingSender struct {
	mu    sync.Mutex
	plain []string
}

func (s *recordingSender) Send(_ context.Context, _, plain, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plain = append(s.plain, plain)
	return nil
}

type mapRelations map[string]string

func (m mapRelations) EventSender(_ context.Context, _, eventID string) (string, error) {
	if tag, ok := m[eventID]; ok {
		return tag, nil
	}
	return "", errors.New("not found")
}

// --- test store helper (pure-Go sqlite, no CGO) ---
func newTestStore(t *testing.T) *repo.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.NewStore(db)
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Matrix: config.MatrixConfig{
			Domain:   "example.org",
			Username: "social-credit-system",
			HSToken:  "hs-secret",
		},
	}
}

type harness struct {
	r      *gin.Engine
	store  *repo.Store
	sender *recordingSender
}

func newHarness(t *testing.T, cfg config.Config, rel ...map[string]string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	relations := mapRelations{}
	if len(rel) > 0 {
		relations = rel[0]
	}
	store := newTestStore(t)
	snd := &recordingSender{}
	eng := services.NewEngine(store, services.EngineOptions{
		Self:           domain.Identity{Name: cfg.Matrix.Username, URL: cfg.Matrix.Domain},
		InitialScore:   50,
		ReactionPeriod: 10 * time.Minute,
		ReactionLimit:  3,
		Clock:          clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)),
		Sender:         snd,
		Relations:      relations,
		Log:            zerolog.Nop(),
	})
	r := gin.New()
	RegisterRoutes(r, Deps{
		Engine: eng,
		Scores: eng.Memberships,
		Emojis: eng.Emojis,
		Ready: func(ctx context.Context) error {
			sqlDB, err := store.DB().DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}, cfg)
	return &harness{r: r, store: store, sender: snd}
}

func (h *harness) do(method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	h.r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	h := newHarness(t, testConfig())

	w := h.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("request id or security headers missing: %v", w.Header())
	}

	if w := h.do(http.MethodGet, "/ready", ""); w.Code != http.StatusOK {
		t.Fatalf("GET /ready = %d", w.Code)
	}

	w = h.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "socialcredit_http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	w = h.do(http.MethodGet, "/swagger/doc.json", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/rooms/{roomID}/scores") ||
		!strings.Contains(w.Body.String(), `"/api/v1"`) {
		t.Fatalf("GET /swagger/doc.json: %d", w.Code)
	}

	if w := h.do(http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	var er handlers.ErrorResponse
	w = h.do(http.MethodPost, "/health", "")
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusMethodNotAllowed || er.Code != handlers.ErrCodeMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d %+v", w.Code, er)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://example.com"}
	h := newHarness(t, cfg)

	w := h.do(http.MethodGet, "/health", "", "Origin", "http://example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_Ready_Unavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Deps{Ready: func(context.Context) error { return errors.New("db gone") }}, testConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /ready = %d", w.Code)
	}
}

func TestAppservice_AuthAndTxnReplay(t *testing.T) {
	h := newHarness(t, testConfig())
	body := `{"events":[{"event_id":"$t1","type":"m.room.message","sender":"@alice:example.org","room_id":"!room:example.org",
		"content":{"msgtype":"m.text","body":"!help"}}]}`

	if w := h.do(http.MethodPut, "/_matrix/app/v1/transactions/1", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := h.do(http.MethodPut, "/_matrix/app/v1/transactions/1", body, "Authorization", "Bearer wrong"); w.Code != http.StatusForbidden {
		t.Fatalf("wrong token: %d", w.Code)
	}

	w := h.do(http.MethodPut, "/_matrix/app/v1/transactions/1", body, "Authorization", "Bearer hs-secret")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "{}" {
		t.Fatalf("push: %d %s", w.Code, w.Body.String())
	}
	if len(h.sender.plain) != 1 || !strings.Contains(h.sender.plain[0], "!list") {
		t.Fatalf("expected one help reply, got %v", h.sender.plain)
	}

	// same txn again, via the legacy path and query token: acknowledged only
	w = h.do(http.MethodPut, "/transactions/1?access_token=hs-secret", body)
	if w.Code != http.StatusOK || len(h.sender.plain) != 1 {
		t.Fatalf("replay: %d, %d replies", w.Code, len(h.sender.plain))
	}

	// a new txn carrying the same event is stopped by the ledger
	w = h.do(http.MethodPut, "/_matrix/app/v1/transactions/2", body, "Authorization", "Bearer hs-secret")
	if w.Code != http.StatusOK || len(h.sender.plain) != 1 {
		t.Fatalf("redelivery: %d, %d replies", w.Code, len(h.sender.plain))
	}

	if w := h.do(http.MethodGet, "/_matrix/app/v1/users/@social-credit-system:example.org", "", "Authorization", "Bearer hs-secret"); w.Code != http.StatusOK {
		t.Fatalf("user query for bot: %d", w.Code)
	}
}

func TestAppservice_ReactionThenReadAPI(t *testing.T) {
	ctx := context.Background()
	push := `{"events":[{"event_id":"$r1","type":"m.reaction","sender":"@alice:example.org","room_id":"!room:example.org",
		"content":{"m.relates_to":{"rel_type":"m.annotation","event_id":"$msg","key":"👍"}}}]}`

	h := newHarness(t, testConfig(), map[string]string{"$msg": "@bob:example.org"})
	if _, err := h.store.AddEmoji(ctx, "!room:example.org", "👍", 5); err != nil {
		t.Fatalf("add emoji: %v", err)
	}

	w := h.do(http.MethodPut, "/_matrix/app/v1/transactions/r1", push, "Authorization", "Bearer hs-secret")
	if w.Code != http.StatusOK {
		t.Fatalf("push: %d", w.Code)
	}
	if len(h.sender.plain) != 1 || h.sender.plain[0] != "bob now has 55 social credit" {
		t.Fatalf("replies %v", h.sender.plain)
	}

	w = h.do(http.MethodGet, "/api/v1/rooms/!room:example.org/scores", "")
	if w.Code != http.StatusOK {
		t.Fatalf("scores: %d %s", w.Code, w.Body.String())
	}
	var scores handlers.ScoresResponse
	if err := json.Unmarshal(w.Body.Bytes(), &scores); err != nil {
		t.Fatalf("json: %v", err)
	}
	// alice got a membership when her reaction was processed
	if len(scores.Scores) != 2 || scores.Scores[0].Name != "bob" || scores.Scores[0].Score != 55 || scores.Scores[1].Score != 50 {
		t.Fatalf("leaderboard %+v", scores.Scores)
	}

	w = h.do(http.MethodGet, "/api/v1/rooms/!room:example.org/emojis", "", "Accept-Encoding", "gzip")
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("emojis: %d encoding=%q", w.Code, w.Header().Get("Content-Encoding"))
	}
}

func TestAppservice_UnresolvableReactionIsInert(t *testing.T) {
	h := newHarness(t, testConfig())
	if _, err := h.store.AddEmoji(context.Background(), "!room:example.org", "👍", 5); err != nil {
		t.Fatalf("add emoji: %v", err)
	}
	push := `{"events":[{"event_id":"$r2","type":"m.reaction","sender":"@alice:example.org","room_id":"!room:example.org",
		"content":{"m.relates_to":{"rel_type":"m.annotation","event_id":"$gone","key":"👍"}}}]}`
	w := h.do(http.MethodPut, "/_matrix/app/v1/transactions/r2", push, "Authorization", "Bearer hs-secret")
	if w.Code != http.StatusOK || len(h.sender.plain) != 0 {
		t.Fatalf("inert reaction: %d %v", w.Code, h.sender.plain)
	}
}

func TestReadAPI_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	h := newHarness(t, cfg)

	if w := h.do(http.MethodGet, "/api/v1/rooms/!room:example.org/emojis", ""); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	if w := h.do(http.MethodGet, "/api/v1/rooms/!room:example.org/emojis", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second: %d", w.Code)
	}
	// the appservice API is not limited
	for i := 0; i < 3; i++ {
		if w := h.do(http.MethodPost, "/_matrix/app/v1/ping", "{}", "Authorization", "Bearer hs-secret"); w.Code != http.StatusOK {
			t.Fatalf("ping %d: %d", i, w.Code)
		}
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func TestRegisterRoutes_RootBasePath(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/"
	h := newHarness(t, cfg)
	if w := h.do(http.MethodGet, "/rooms/!room:example.org/scores", ""); w.Code != http.StatusOK {
		t.Fatalf("root-mounted scores: %d", w.Code)
	}
}
