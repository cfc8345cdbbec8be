package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/api"
	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
	"github.com/jrsteele09/go-pairing-server/internal/utils"
	"github.com/jrsteele09/go-pairing-server/pairing"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPBackend calls a remote pairing server. Every request carries a bearer
// token from the configured oauth2.TokenSource.
type HTTPBackend struct {
	baseURL  string
	base     *http.Client
	client   *http.Client
	deviceID *string
}

var _ Backend = (*HTTPBackend)(nil)

// HTTPOption defines a function type to modify the HTTPBackend instance.
type HTTPOption func(*HTTPBackend)

// WithHTTPClient sets the client whose transport and timeout carry requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		b.base = c
	}
}

// WithDeviceID sends deviceID with join requests.
func WithDeviceID(deviceID string) HTTPOption {
	return func(b *HTTPBackend) {
		b.deviceID = utils.NonEmpty(deviceID)
	}
}

func NewHTTPBackend(baseURL string, tokens oauth2.TokenSource, opts ...HTTPOption) (*HTTPBackend, error) {
	if baseURL == "" {
		return nil, errors.New("[NewHTTPBackend] base URL is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewHTTPBackend] token source is required")
	}

	b := &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		base:    &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}

	b.client = &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, tokens),
			Base:   b.base.Transport,
		},
		Timeout: b.base.Timeout,
	}
	return b, nil
}

func (b *HTTPBackend) CreateSession(ctx context.Context, opts pairing.CreateOptions) (*sessions.Session, error) {
	var out api.Session
	body := api.CreateSessionRequest{Passphrase: opts.Passphrase, ApprovalRequired: opts.ApprovalRequired}
	if err := b.do(ctx, http.MethodPost, api.PathSessions, body, &out); err != nil {
		return nil, errors.Wrap(err, "[HTTPBackend.CreateSession]")
	}
	return out.Session, nil
}

func (b *HTTPBackend) GetActiveSession(ctx context.Context) (*sessions.Session, error) {
	var out api.Session
	if err := b.do(ctx, http.MethodGet, api.PathCurrentSession, nil, &out); err != nil {
		return nil, errors.Wrap(err, "[HTTPBackend.GetActiveSession]")
	}
	return out.Session, nil
}

func (b *HTTPBackend) EndSession(ctx context.Context, sessionID string) error {
	err := b.do(ctx, http.MethodDelete, api.Expand(api.PathSession, sessionID), nil, nil)
	return errors.Wrap(err, "[HTTPBackend.EndSession]")
}

func (b *HTTPBackend) JoinSession(ctx context.Context, code string, opts pairing.JoinOptions) (*pairing.JoinResult, error) {
	var out api.JoinResponse
	body := api.JoinSessionRequest{Code: code, Passphrase: opts.Passphrase, DeviceID: b.deviceID}
	if err := b.do(ctx, http.MethodPost, api.PathJoin, body, &out); err != nil {
		return nil, errors.Wrap(err, "[HTTPBackend.JoinSession]")
	}

	result := &pairing.JoinResult{Status: out.Status, Membership: out.Membership, Message: out.Message}
	if out.Session != nil {
		result.Session = out.Session.Session
	}
	return result, nil
}

func (b *HTTPBackend) ResolveRequest(ctx context.Context, membershipID string, approve bool, note string) (*sessions.Membership, error) {
	var out sessions.Membership
	body := api.ResolveRequest{Approve: approve, Note: note}
	if err := b.do(ctx, http.MethodPost, api.Expand(api.PathResolveMembership, membershipID), body, &out); err != nil {
		return nil, errors.Wrap(err, "[HTTPBackend.ResolveRequest]")
	}
	return &out, nil
}

func (b *HTTPBackend) ListPendingRequests(ctx context.Context, code string) ([]*sessions.Membership, error) {
	var out api.PendingRequestsResponse
	if err := b.do(ctx, http.MethodGet, api.Expand(api.PathPendingRequests, code), nil, &out); err != nil {
		return nil, errors.Wrap(err, "[HTTPBackend.ListPendingRequests]")
	}
	return out.Requests, nil
}

func (b *HTTPBackend) GetSecurityOverview(ctx context.Context, code string) (*abuse.SecurityOverview, error) {
	var out api.SecurityOverviewResponse
	if err := b.do(ctx, http.MethodGet, api.Expand(api.PathSecurityOverview, code), nil, &out); err != nil {
		return nil, errors.Wrap(err, "[HTTPBackend.GetSecurityOverview]")
	}
	return out.SecurityOverview, nil
}

func (b *HTTPBackend) GetMembership(ctx context.Context, membershipID string) (*pairing.MembershipView, error) {
	var out api.MembershipResponse
	if err := b.do(ctx, http.MethodGet, api.Expand(api.PathMembership, membershipID), nil, &out); err != nil {
		return nil, errors.Wrap(err, "[HTTPBackend.GetMembership]")
	}

	view := &pairing.MembershipView{Membership: out.Membership}
	if out.Session != nil {
		view.Session = out.Session.Session
	}
	return view, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// decodeError rebuilds the taxonomy error from an error body so callers can
// keep using errors.Is across the wire.
func decodeError(resp *http.Response) error {
	var e api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	sentinel := apperrors.FromKind(apperrors.Kind(e.Error))
	if sentinel == nil {
		return errors.Errorf("%s: %s (status %d)", e.Error, e.ErrorDescription, resp.StatusCode)
	}
	if e.ErrorDescription == "" {
		return sentinel
	}
	return errors.Wrap(sentinel, e.ErrorDescription)
}
