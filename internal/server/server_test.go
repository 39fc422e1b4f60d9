package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
	"github.com/Dicklesworthstone/cmdgate/internal/metrics"
	"github.com/Dicklesworthstone/cmdgate/internal/notify"
	"github.com/Dicklesworthstone/cmdgate/internal/risk"
	"github.com/Dicklesworthstone/cmdgate/internal/testutil"
)

type fixture struct {
	srv    *httptest.Server
	store  *db.DB
	gw     *core.Gateway
	hub    *notify.Hub
	prom   *metrics.Prom
	admin  *db.User
	admin2 *db.User
	member *db.User
}

func newFixture(t *testing.T, assessor risk.Assessor, tweak ...func(*Options)) *fixture {
	t.Helper()
	store := testutil.NewTestDB(t)
	logger := testutil.TestLogger(t)
	hub := notify.NewHub(logger)
	prom := metrics.NewProm("cmdgate")

	gw, err := core.NewGateway(store, core.Options{
		Assessor: risk.NewGuard(assessor, risk.GuardOptions{Timeout: time.Second, Logger: logger}),
		Bus:      hub,
		Metrics:  prom,
		Logger:   logger,
	})
	require.NoError(t, err)

	opts := Options{
		Gateway:        gw,
		Hub:            hub,
		Metrics:        prom,
		MetricsHandler: prom.Handler(),
		Logger:         logger,
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	return &fixture{
		srv:    srv,
		store:  store,
		gw:     gw,
		hub:    hub,
		prom:   prom,
		admin:  testutil.MakeAdmin(t, store),
		admin2: testutil.MakeAdmin(t, store),
		member: testutil.MakeUser(t, store, testutil.WithCredits(3)),
	}
}

func (f *fixture) do(t *testing.T, method, path, key string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp, out
}

func (f *fixture) doList(t *testing.T, path, key string) []map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set(APIKeyHeader, key)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthzAndRequestID(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())

	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestAuth(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())

	resp, body := f.do(t, http.MethodGet, "/api/auth/verify", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "API key required", body["error"])

	resp, body = f.do(t, http.MethodGet, "/api/auth/verify", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid API key", body["error"])

	resp, body = f.do(t, http.MethodGet, "/api/auth/verify", f.member.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := body["user"].(map[string]any)
	assert.Equal(t, f.member.Name, user["name"])
	assert.Equal(t, "member", user["role"])
	assert.EqualValues(t, 3, user["credits"])
	assert.NotContains(t, user, "api_key")

	key := strings.Repeat("ab", 32)
	testutil.MakeUser(t, f.store, testutil.WithName("fixed-key"), testutil.WithAPIKey(key))
	resp, body = f.do(t, http.MethodGet, "/api/auth/verify", key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fixed-key", body["user"].(map[string]any)["name"])
}

func TestSubmit_ExecutesUntilQuota(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())

	for want := 2; want >= 0; want-- {
		resp, body := f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "ls -la"})
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
		assert.Equal(t, "EXECUTED", body["status"])
		outcome := body["outcome"].(map[string]any)
		assert.EqualValues(t, want, outcome["credits_remaining"])
		assert.Equal(t, "Mock execution of: ls -la", outcome["execution"].(map[string]any)["execution_result"])
	}

	resp, body := f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "ls -la"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Contains(t, body["error"], "insufficient credits")

	history := f.doList(t, "/api/commands?limit=2", f.member.APIKey)
	assert.Len(t, history, 2)
}

func TestSubmit_BadRequests(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())

	resp, body := f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Command text required", body["error"])

	resp, _ = f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": strings.Repeat("a", 1001)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/commands?limit=-3", f.member.APIKey, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmit_RuleRejection(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())
	rule := testutil.MakeRule(t, f.store, `rm\s+-rf`, db.ActionAutoReject)

	resp, body := f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "rm -rf /tmp/x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "REJECTED", body["status"])
	assert.Contains(t, body["message"], "#")
	matched := body["outcome"].(map[string]any)["matched_rule"].(map[string]any)
	assert.EqualValues(t, rule.ID, matched["id"])
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/rules"},
		{http.MethodPost, "/api/rules"},
		{http.MethodGet, "/api/pending-approvals"},
		{http.MethodPost, "/api/commands/1/approve"},
		{http.MethodGet, "/api/audit-logs"},
		{http.MethodGet, "/api/analytics"},
		{http.MethodPost, "/api/users"},
	} {
		resp, _ := f.do(t, tc.method, tc.path, f.member.APIKey, map[string]any{})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestApprovalFlow(t *testing.T) {
	f := newFixture(t, testutil.FlaggingAssessor())

	resp, body := f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "deploy --prod"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "PENDING_APPROVAL", body["status"])
	id := int64(body["command_id"].(float64))

	pending := f.doList(t, "/api/pending-approvals", f.admin.APIKey)
	require.Len(t, pending, 1)
	assert.Equal(t, f.member.Name, pending[0]["user_name"])

	path := "/api/commands/" + itoa(id) + "/approve"

	resp, body = f.do(t, http.MethodPost, path, f.admin.APIKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Approval decision required", body["error"])

	resp, body = f.do(t, http.MethodPost, path, f.admin.APIKey, map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %v", body)
	assert.Equal(t, "PENDING_APPROVAL", body["status"])
	assert.Equal(t, "Approval recorded (1/2)", body["message"])

	resp, _ = f.do(t, http.MethodPost, path, f.admin.APIKey, map[string]any{"approved": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "duplicate vote")

	resp, body = f.do(t, http.MethodPost, path, f.admin2.APIKey, map[string]any{"approved": true, "reason": "ok"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "EXECUTED", body["status"])

	resp, _ = f.do(t, http.MethodPost, path, f.admin2.APIKey, map[string]any{"approved": false})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "already executed")

	votes := f.doList(t, "/api/commands/"+itoa(id)+"/votes", f.admin.APIKey)
	assert.Len(t, votes, 2)

	resp, _ = f.do(t, http.MethodPost, "/api/commands/9999/approve", f.admin.APIKey, map[string]any{"approved": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/commands/abc/approve", f.admin.APIKey, map[string]any{"approved": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApproval_InsufficientCreditsIs402(t *testing.T) {
	f := newFixture(t, testutil.FlaggingAssessor())
	broke := testutil.MakeUser(t, f.store, testutil.WithCredits(1))

	resp, body := f.do(t, http.MethodPost, "/api/commands", broke.APIKey, map[string]string{"command": "deploy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := int64(body["command_id"].(float64))
	require.NoError(t, f.gw.UpdateCredits(context.Background(), f.admin.ID, broke.ID, 0))

	path := "/api/commands/" + itoa(id) + "/approve"
	resp, _ = f.do(t, http.MethodPost, path, f.admin.APIKey, map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, path, f.admin2.APIKey, map[string]any{"approved": true})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "REJECTED", body["status"])
	assert.Equal(t, true, body["outcome"].(map[string]any)["insufficient_credits"])
}

func TestUserAdministration(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())

	resp, body := f.do(t, http.MethodPost, "/api/users", f.admin.APIKey, map[string]any{"name": "carol", "role": "member"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)
	assert.Len(t, body["api_key"], 64)
	assert.EqualValues(t, core.DefaultCredits, body["credits"])
	carolID := int64(body["id"].(float64))

	resp, body = f.do(t, http.MethodPost, "/api/users", f.admin.APIKey, map[string]any{"name": "dave", "role": "wizard"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "invalid role")

	resp, _ = f.do(t, http.MethodPost, "/api/users", f.admin.APIKey, map[string]any{"name": "carol", "role": "member"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "duplicate name")

	resp, _ = f.do(t, http.MethodPut, "/api/users/"+itoa(carolID)+"/credits", f.admin.APIKey, map[string]any{"credits": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bal, err := f.gw.Ledger().Balance(context.Background(), carolID)
	require.NoError(t, err)
	assert.EqualValues(t, 7, bal)

	resp, _ = f.do(t, http.MethodPut, "/api/users/"+itoa(carolID)+"/credits", f.admin.APIKey, map[string]any{"credits": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPut, "/api/users/"+itoa(carolID)+"/credits", f.admin.APIKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Credits amount required", body["error"])

	resp, _ = f.do(t, http.MethodPut, "/api/users/4242/credits", f.admin.APIKey, map[string]any{"credits": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRuleAdministration(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())

	resp, body := f.do(t, http.MethodPost, "/api/rules/validate", f.admin.APIKey, map[string]any{"pattern": "[abc"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["suggestions"])

	resp, body = f.do(t, http.MethodPost, "/api/rules", f.admin.APIKey, map[string]any{"pattern": "^ls", "action": "AUTO_ACCEPT"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "body: %v", body)
	assert.NotContains(t, body, "warning")

	resp, body = f.do(t, http.MethodPost, "/api/rules/check-conflicts", f.admin.APIKey, map[string]any{"pattern": "^ls", "action": "AUTO_REJECT"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["has_conflicts"])

	resp, body = f.do(t, http.MethodPost, "/api/rules", f.admin.APIKey, map[string]any{"pattern": "^ls", "action": "AUTO_ACCEPT"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Rule created with 1 high-severity conflicts", body["warning"])

	resp, _ = f.do(t, http.MethodPost, "/api/rules", f.admin.APIKey, map[string]any{"pattern": "(x", "action": "AUTO_ACCEPT"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/rules", f.admin.APIKey, map[string]any{"pattern": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Pattern and action required", body["error"])

	rules := f.doList(t, "/api/rules", f.admin.APIKey)
	require.Len(t, rules, 2)
	assert.EqualValues(t, 1, rules[0]["order_index"])
	assert.EqualValues(t, 2, rules[1]["order_index"])

	audit := f.doList(t, "/api/audit-logs?limit=50", f.admin.APIKey)
	assert.NotEmpty(t, audit)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())
	f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "whoami"})

	resp, body := f.do(t, http.MethodGet, "/api/analytics", f.admin.APIKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	daily := body["daily_stats"].(map[string]any)
	assert.EqualValues(t, 1, daily["total_commands"])
}

func TestRateLimitPerUser(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor(), func(o *Options) {
		o.RequestsPerMinute = 1
		o.Burst = 1
	})

	resp, _ := f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "ls"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "ls"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	resp, _ = f.do(t, http.MethodPost, "/api/commands", f.admin.APIKey, map[string]string{"command": "ls"})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "limits are per user")
}

func TestUserLimiter_SweepsIdleVisitors(t *testing.T) {
	l := newUserLimiter(60, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow(1))
	assert.False(t, l.allow(1))
	assert.True(t, l.allow(2))
	assert.Equal(t, 2, l.size())

	now = now.Add(5 * time.Minute)
	assert.True(t, l.allow(3))
	assert.Equal(t, 1, l.size())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())
	f.do(t, http.MethodGet, "/api/auth/verify", f.member.APIKey, nil)

	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `cmdgate_http_requests_total{method="GET",route="/api/auth/verify",status="200"} 1`)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		core.ErrValidation:    http.StatusBadRequest,
		core.ErrUnauthorized:  http.StatusUnauthorized,
		core.ErrQuotaExceeded: http.StatusPaymentRequired,
		core.ErrForbidden:     http.StatusForbidden,
		core.ErrNotFound:      http.StatusNotFound,
		core.ErrStateConflict: http.StatusConflict,
		core.ErrInternal:      http.StatusInternalServerError,
		io.EOF:                http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, StatusFor(err), err.Error())
	}
}

func TestWebSocket_UserReceivesOwnEvents(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?api_key=" + f.member.APIKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, _ := f.do(t, http.MethodPost, "/api/commands", f.member.APIKey, map[string]string{"command": "pwd"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	seen := map[string]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(seen[notify.EventCreditUpdate] && seen[notify.EventCommandStatus]) {
		var evt notify.Event
		require.NoError(t, conn.ReadJSON(&evt))
		assert.Equal(t, notify.UserTopic(f.member.ID), evt.Topic)
		seen[evt.Type] = true
	}
	assert.False(t, seen[notify.EventCommandSubmitted], "admin events must not reach members")
}

func TestWebSocket_RequiresAuth(t *testing.T) {
	f := newFixture(t, testutil.SafeAssessor())
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
