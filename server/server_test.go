package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/api"
	"github.com/jrsteele09/go-pairing-server/credentials"
	"github.com/jrsteele09/go-pairing-server/identity"
	"github.com/jrsteele09/go-pairing-server/internal/config"
	"github.com/jrsteele09/go-pairing-server/pairing"
	"github.com/jrsteele09/go-pairing-server/server"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

const (
	testSecret = "server-test-secret"
	passphrase = "teamwork1"
)

type fixture struct {
	handler http.Handler
	issuer  *identity.Issuer
	svc     *pairing.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("ALLOWED_ORIGINS", "https://app.example")

	cfg, err := config.New()
	require.NoError(t, err)

	svc, err := pairing.NewService(
		pairing.Repos{Sessions: sessions.NewInMemoryRepo(), Attempts: abuse.NewInMemoryAttemptRepo()},
		credentials.NewBcryptVerifier(bcrypt.MinCost),
		pairing.WithLogger(zerolog.Nop()),
		pairing.WithMonitorOptions(abuse.WithThreshold(2), abuse.WithWindow(time.Minute)),
	)
	require.NoError(t, err)

	verifier, err := identity.NewHMACVerifier(testSecret)
	require.NoError(t, err)
	issuer, err := identity.NewIssuer(testSecret)
	require.NoError(t, err)

	s, err := server.New(cfg, svc, verifier)
	require.NoError(t, err)
	return &fixture{handler: s, issuer: issuer, svc: svc}
}

func (f *fixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.issuer.Issue(identity.Identity{UserID: userID, Name: "User " + userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	return tok
}

// do sends body as JSON with userID's token and decodes the response into
// out when out is non-nil.
func (f *fixture) do(t *testing.T, userID, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func (f *fixture) createSession(t *testing.T, owner string, req api.CreateSessionRequest) *api.Session {
	t.Helper()
	var created api.Session
	rec := f.do(t, owner, http.MethodPost, api.PathSessions, req, &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	return &created
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "", http.MethodGet, api.PathHealth, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, api.PathCurrentSession, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			var body api.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, "unauthorized", body.Error)
		})
	}
}

func TestCreateAndGetCurrentSession(t *testing.T) {
	f := newFixture(t)

	created := f.createSession(t, "host", api.CreateSessionRequest{Passphrase: passphrase, ApprovalRequired: true})
	require.Len(t, created.Code, 8)
	require.Equal(t, created.Code[:4]+"-"+created.Code[4:], created.DisplayCode)
	require.True(t, created.PassphraseRequired)
	require.True(t, created.ApprovalRequired)
	require.Equal(t, sessions.StatusActive, created.Status)

	var current api.Session
	rec := f.do(t, "host", http.MethodGet, api.PathCurrentSession, nil, &current)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, created.ID, current.ID)
	require.NotContains(t, rec.Body.String(), "$2a$", "passphrase hash must never be serialised")

	var missing api.ErrorResponse
	rec = f.do(t, "someone-else", http.MethodGet, api.PathCurrentSession, nil, &missing)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "session_not_found", missing.Error)
}

func TestCreateSessionRejectsShortPassphrase(t *testing.T) {
	f := newFixture(t)

	var body api.ErrorResponse
	rec := f.do(t, "host", http.MethodPost, api.PathSessions, api.CreateSessionRequest{Passphrase: "short"}, &body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "passphrase_too_short", body.Error)
}

func TestCreateSessionRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "host", http.MethodPost, api.PathSessions, map[string]any{"pass": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinOpenSession(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t, "host", api.CreateSessionRequest{})

	device := "phone-1"
	var joined api.JoinResponse
	rec := f.do(t, "joiner", http.MethodPost, api.PathJoin, api.JoinSessionRequest{Code: created.DisplayCode, DeviceID: &device}, &joined)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, pairing.JoinApproved, joined.Status)
	require.NotNil(t, joined.Session)
	require.Equal(t, created.ID, joined.Session.ID)
	require.Equal(t, sessions.MembershipApproved, joined.Membership.Status)
	require.Equal(t, "User joiner", joined.Membership.ParticipantName)
	require.Equal(t, "phone-1", *joined.Membership.DeviceID)
}

func TestJoinFailuresLookTheSame(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t, "host", api.CreateSessionRequest{Passphrase: passphrase})

	var badCode, badPassphrase api.ErrorResponse
	rec1 := f.do(t, "joiner", http.MethodPost, api.PathJoin, api.JoinSessionRequest{Code: "ZZZZ-ZZZZ", Passphrase: passphrase}, &badCode)
	rec2 := f.do(t, "joiner", http.MethodPost, api.PathJoin, api.JoinSessionRequest{Code: created.Code, Passphrase: "wrong-pass"}, &badPassphrase)

	require.Equal(t, http.StatusForbidden, rec1.Code)
	require.Equal(t, rec1.Code, rec2.Code)
	require.Equal(t, badCode, badPassphrase)
	require.Equal(t, "join_failed", badCode.Error)
}

func TestJoinRateLimited(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t, "host", api.CreateSessionRequest{Passphrase: passphrase})

	for i := 0; i < 2; i++ {
		rec := f.do(t, "attacker", http.MethodPost, api.PathJoin, api.JoinSessionRequest{Code: created.Code, Passphrase: "wrong-pass"}, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)
	}

	var body api.ErrorResponse
	rec := f.do(t, "joiner", http.MethodPost, api.PathJoin, api.JoinSessionRequest{Code: created.Code, Passphrase: passphrase}, &body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate_limited", body.Error)
	require.Equal(t, "60", rec.Header().Get("Retry-After"))

	var overview api.SecurityOverviewResponse
	rec = f.do(t, "host", http.MethodGet, api.Expand(api.PathSecurityOverview, created.DisplayCode), nil, &overview)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, created.Code, overview.SessionCode)
	require.Equal(t, created.DisplayCode, overview.DisplayCode)
	require.Equal(t, 2, overview.RecentFailedAttempts)
	require.Equal(t, 1, overview.RecentRateLimited)
	require.NotNil(t, overview.LastFailedAttempt)
}

func TestApprovalFlow(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t, "host", api.CreateSessionRequest{ApprovalRequired: true})

	var joined api.JoinResponse
	rec := f.do(t, "joiner", http.MethodPost, api.PathJoin, api.JoinSessionRequest{Code: created.Code}, &joined)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, pairing.JoinPending, joined.Status)
	require.Nil(t, joined.Session)

	var dup api.ErrorResponse
	rec = f.do(t, "joiner", http.MethodPost, api.PathJoin, api.JoinSessionRequest{Code: created.Code}, &dup)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "already_requested", dup.Error)

	var pending api.PendingRequestsResponse
	rec = f.do(t, "host", http.MethodGet, api.Expand(api.PathPendingRequests, created.DisplayCode), nil, &pending)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pending.Requests, 1)
	require.Equal(t, joined.Membership.ID, pending.Requests[0].ID)

	// Only the host sees the queue or resolves it.
	rec = f.do(t, "joiner", http.MethodGet, api.Expand(api.PathPendingRequests, created.Code), nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, "joiner", http.MethodPost, api.Expand(api.PathResolveMembership, joined.Membership.ID), api.ResolveRequest{Approve: true}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resolved sessions.Membership
	rec = f.do(t, "host", http.MethodPost, api.Expand(api.PathResolveMembership, joined.Membership.ID), api.ResolveRequest{Approve: true, Note: "welcome"}, &resolved)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, sessions.MembershipApproved, resolved.Status)
	require.Equal(t, "welcome", resolved.Note)

	var view api.MembershipResponse
	rec = f.do(t, "joiner", http.MethodGet, api.Expand(api.PathMembership, joined.Membership.ID), nil, &view)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, sessions.MembershipApproved, view.Membership.Status)
	require.Equal(t, created.ID, view.Session.ID)

	rec = f.do(t, "stranger", http.MethodGet, api.Expand(api.PathMembership, joined.Membership.ID), nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "joiner", http.MethodGet, api.Expand(api.PathMembership, "no-such-id"), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	created := f.createSession(t, "host", api.CreateSessionRequest{})

	rec := f.do(t, "joiner", http.MethodDelete, api.Expand(api.PathSession, created.ID), nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, "host", http.MethodDelete, api.Expand(api.PathSession, created.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Ending twice is a no-op.
	rec = f.do(t, "host", http.MethodDelete, api.Expand(api.PathSession, created.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var body api.ErrorResponse
	rec = f.do(t, "joiner", http.MethodPost, api.PathJoin, api.JoinSessionRequest{Code: created.Code}, &body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "join_failed", body.Error)
}

func TestCors(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, api.PathJoin, nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	req = httptest.NewRequest(http.MethodGet, api.PathHealth, nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	f := newFixture(t)
	s := f.handler.(*server.Server)

	h := server.ChainMiddleware(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}, s.RecoverMiddleware)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal","error_description":"internal server error"}`, rec.Body.String())
}

func TestRoutesRegistered(t *testing.T) {
	f := newFixture(t)
	routes := f.handler.(*server.Server).Routes()
	require.Contains(t, routes, "POST "+api.PathJoin)
	require.Contains(t, routes, "POST "+api.PathResolveMembership)
	require.Contains(t, routes, "GET "+api.PathSecurityOverview)
}
