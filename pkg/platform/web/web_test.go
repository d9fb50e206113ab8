package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/IMBotPlatform/IMBotGuard/pkg/audit"
	"github.com/IMBotPlatform/IMBotGuard/pkg/auth"
	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
	"github.com/IMBotPlatform/IMBotGuard/pkg/command"
	"github.com/IMBotPlatform/IMBotGuard/pkg/proxy"
	"github.com/IMBotPlatform/IMBotGuard/pkg/session"
)

const testSecret = "test-secret"

// issuingPlatform 用真实 Verifier 签发令牌，模拟审核平台登录。
type issuingPlatform struct {
	verifier *auth.Verifier
}

func (p *issuingPlatform) Login(ctx context.Context, username, password string) (string, error) {
	if password != "pw" {
		return "", &botcore.AuthError{Reason: "invalid username or password"}
	}
	return p.verifier.Issue(username, time.Hour)
}

func (p *issuingPlatform) ListPolicies(ctx context.Context, token string) ([]string, error) {
	return []string{"hr_policy", "finance"}, nil
}

type fakeTurns struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeTurns) Handle(ctx context.Context, userID, message string) (*proxy.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.messages = append(f.messages, message)
	return &proxy.Turn{
		ID:        "turn-1",
		UserID:    userID,
		PolicyID:  "hr_policy",
		Message:   message,
		Reply:     "PTO accrues at 1.5 days per month.",
		Binding:   botcore.Binding{PolicyID: "hr_policy", Model: "gpt-4o", Engine: "openai"},
		BotTokens: 12,
	}, nil
}

func (f *fakeTurns) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type testServer struct {
	router   *gin.Engine
	verifier *auth.Verifier
	turns    *fakeTurns
	log      audit.Log
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := auth.NewVerifier(testSecret, "HS256")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	log, err := audit.Open(audit.DriverFile, audit.WithDir(t.TempDir()))
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })

	accounts := proxy.NewAccounts(session.NewMemoryStore(), &issuingPlatform{verifier: verifier}, verifier, nil)
	turns := &fakeTurns{}
	commands := command.NewManager(proxy.NewCommandFactory(accounts, log))
	h := NewHandlers(accounts, turns, commands, log, "proxy", nil)

	return &testServer{
		router:   NewRouter(h, []string{"*"}),
		verifier: verifier,
		turns:    turns,
		log:      log,
	}
}

func (s *testServer) token(t *testing.T, user string) string {
	t.Helper()
	token, err := s.verifier.Issue(user, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (s *testServer) do(method, target string, form url.Values, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestLoginSetsCookieAndRedirects(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/login", url.Values{"username": {"alice"}, "password": {"pw"}}, "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/portal" {
		t.Fatalf("expected redirect to /portal, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "proxy" {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("proxy cookie not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/portal", nil)
	req.AddCookie(cookie)
	portal := httptest.NewRecorder()
	s.router.ServeHTTP(portal, req)
	if portal.Code != http.StatusOK {
		t.Fatalf("portal with cookie: %d %s", portal.Code, portal.Body.String())
	}
	body := decode(t, portal)
	configs, _ := body["configs_list"].([]any)
	if body["user"] != "alice" || len(configs) != 2 {
		t.Fatalf("unexpected portal body: %v", body)
	}
}

func TestPortalRefreshesPoliciesForTokenOnlyUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/portal", nil, s.token(t, "carol"))
	if rec.Code != http.StatusOK {
		t.Fatalf("portal: %d %s", rec.Code, rec.Body.String())
	}
	configs, _ := decode(t, rec)["configs_list"].([]any)
	if len(configs) != 2 || configs[0] != "hr_policy" {
		t.Fatalf("policy list not refreshed: %v", configs)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/login", url.Values{"username": {"alice"}, "password": {"nope"}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "invalid username or password" {
		t.Fatalf("unexpected error body: %v", body)
	}

	rec = s.do(http.MethodPost, "/login", url.Values{"username": {"alice"}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing password should be 400, got %d", rec.Code)
	}
}

func TestCredsReturnsAccessToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/creds/", url.Values{"username": {"bob"}, "password": {"pw"}}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("creds: %d %s", rec.Code, rec.Body.String())
	}
	token, _ := decode(t, rec)["access_token"].(string)
	sub, err := s.verifier.Verify(token)
	if err != nil || sub != "bob" {
		t.Fatalf("issued token invalid: %q %v", sub, err)
	}
}

func TestProtectedRoutesRequireValidToken(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(http.MethodGet, "/portal", nil, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("missing token: expected 403, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/reports", nil, "garbage"); rec.Code != http.StatusForbidden {
		t.Fatalf("garbage token: expected 403, got %d", rec.Code)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := expired.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec := s.do(http.MethodGet, "/portal", nil, signed)
	if rec.Code != http.StatusForbidden || decode(t, rec)["error"] != "token has expired" {
		t.Fatalf("expired token: %d %s", rec.Code, rec.Body.String())
	}
}

func TestSelectPolicyAndChat(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "alice")

	rec := s.do(http.MethodGet, "/config_id?config_id=hr_policy", nil, token)
	if rec.Code != http.StatusOK || decode(t, rec)["config"] != "config to use in proxy: hr_policy" {
		t.Fatalf("select policy: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(http.MethodGet, "/config_id", nil, token); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing config_id: expected 400, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/portal", url.Values{"user_input": {"What is PTO accrual?"}}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["response"] != "PTO accrues at 1.5 days per month." || body["config_id"] != "hr_policy" {
		t.Fatalf("unexpected chat body: %v", body)
	}
	if s.turns.calls() != 1 {
		t.Fatalf("expected one turn, got %d", s.turns.calls())
	}
}

func TestChatRoutesSlashCommands(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "alice")

	rec := s.do(http.MethodPost, "/portal", url.Values{"user_input": {"/policy finance"}}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("command: %d %s", rec.Code, rec.Body.String())
	}
	if body := decode(t, rec); body["response"] != "config to use in proxy: finance" {
		t.Fatalf("unexpected command output: %v", body)
	}
	if s.turns.calls() != 0 {
		t.Fatalf("command must not start a turn")
	}
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"no policy", &botcore.PolicyNotSetError{UserID: "alice"}, http.StatusBadRequest},
		{"config", &botcore.ConfigurationError{PolicyID: "hr_policy", Reason: "no models"}, http.StatusBadGateway},
		{"credential", &botcore.CredentialError{PolicyID: "hr_policy", Err: errors.New("403")}, http.StatusBadGateway},
		{"completion", &botcore.CompletionError{Engine: "openai", Model: "gpt-4o", Err: errors.New("500")}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			s.turns.err = tc.err
			rec := s.do(http.MethodPost, "/portal", url.Values{"user_input": {"hello"}}, s.token(t, "alice"))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestReportsReturnsUserRecords(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_ = s.log.Append(ctx, audit.Record{User: "alice", Message: "hi", PolicyID: "hr_policy", Timestamp: time.Now()})
	_ = s.log.Append(ctx, audit.Record{User: "bob", Message: "other", PolicyID: "finance", Timestamp: time.Now()})

	rec := s.do(http.MethodGet, "/reports", nil, s.token(t, "alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("reports: %d %s", rec.Code, rec.Body.String())
	}
	logs, _ := decode(t, rec)["logs"].([]any)
	if len(logs) != 1 {
		t.Fatalf("expected one record for alice, got %v", logs)
	}
	if entry, _ := logs[0].(map[string]any); entry["message"] != "hi" {
		t.Fatalf("unexpected record: %v", logs[0])
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}
