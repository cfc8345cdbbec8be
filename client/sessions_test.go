package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-pairing-server/abuse"
	"github.com/jrsteele09/go-pairing-server/client"
	"github.com/jrsteele09/go-pairing-server/credentials"
	"github.com/jrsteele09/go-pairing-server/identity"
	"github.com/jrsteele09/go-pairing-server/internal/config"
	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
	"github.com/jrsteele09/go-pairing-server/pairing"
	"github.com/jrsteele09/go-pairing-server/server"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

const passphrase = "teamwork1"

func newService(t *testing.T) *pairing.Service {
	t.Helper()
	svc, err := pairing.NewService(
		pairing.Repos{Sessions: sessions.NewInMemoryRepo(), Attempts: abuse.NewInMemoryAttemptRepo()},
		credentials.NewBcryptVerifier(bcrypt.MinCost),
		pairing.WithLogger(zerolog.Nop()),
		pairing.WithMonitorOptions(abuse.WithThreshold(3), abuse.WithWindow(time.Minute)),
	)
	require.NoError(t, err)
	return svc
}

func local(t *testing.T, svc *pairing.Service, userID string) *client.Sessions {
	t.Helper()
	backend, err := client.NewLocalBackend(svc, identity.Identity{UserID: userID, Name: "User " + userID}, "device-"+userID)
	require.NoError(t, err)
	return client.NewSessions(backend, client.WithLogger(zerolog.Nop()))
}

// remote serves svc over HTTP and returns a facade that talks to it with a
// bearer token for userID.
func remote(t *testing.T, svc *pairing.Service, userID string) *client.Sessions {
	t.Helper()

	const secret = "client-test-secret"
	cfg, err := config.New()
	require.NoError(t, err)
	verifier, err := identity.NewHMACVerifier(secret)
	require.NoError(t, err)
	srv, err := server.New(cfg, svc, verifier)
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	issuer, err := identity.NewIssuer(secret)
	require.NoError(t, err)
	token, err := issuer.Issue(identity.Identity{UserID: userID, Name: "User " + userID})
	require.NoError(t, err)

	backend, err := client.NewHTTPBackend(ts.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		client.WithHTTPClient(ts.Client()),
		client.WithDeviceID("device-"+userID),
	)
	require.NoError(t, err)
	return client.NewSessions(backend, client.WithLogger(zerolog.Nop()))
}

type facadeFactory func(t *testing.T, svc *pairing.Service, userID string) *client.Sessions

// Every facade test runs against both backends: they must be
// indistinguishable to the caller.
var backends = map[string]facadeFactory{
	"local": local,
	"http":  remote,
}

func TestHostLifecycle(t *testing.T) {
	for name, newFacade := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t)
			host := newFacade(t, svc, "host")

			current, err := host.Current(ctx)
			require.NoError(t, err)
			require.Nil(t, current)

			created, err := host.CreateSession(ctx, pairing.CreateOptions{Passphrase: passphrase})
			require.NoError(t, err)
			require.Equal(t, client.RoleHost, created.Role)
			require.Len(t, created.DisplayCode, 9)

			cached, valid := host.Cache().Current()
			require.True(t, valid)
			require.Equal(t, created, cached)

			// A fresh load agrees with what CreateSession cached.
			host.Cache().Invalidate()
			current, err = host.Current(ctx)
			require.NoError(t, err)
			require.Equal(t, created.Session.ID, current.Session.ID)
			require.Equal(t, created.DisplayCode, current.DisplayCode)

			require.NoError(t, host.EndSession(ctx, created.Session.ID))
			current, err = host.Current(ctx)
			require.NoError(t, err)
			require.Nil(t, current)
			require.Empty(t, host.Error())
		})
	}
}

func TestParticipantApproval(t *testing.T) {
	for name, newFacade := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t)
			host := newFacade(t, svc, "host")
			joiner := newFacade(t, svc, "joiner")

			created, err := host.CreateSession(ctx, pairing.CreateOptions{ApprovalRequired: true})
			require.NoError(t, err)

			result, err := joiner.JoinSession(ctx, created.DisplayCode, pairing.JoinOptions{})
			require.NoError(t, err)
			require.Equal(t, pairing.JoinPending, result.Status)
			require.Nil(t, result.Session)
			require.Equal(t, "device-joiner", *result.Membership.DeviceID)

			current, err := joiner.Current(ctx)
			require.NoError(t, err)
			require.Equal(t, client.RoleParticipant, current.Role)
			require.True(t, current.IsPending())
			require.Nil(t, current.Session)
			require.Equal(t, created.DisplayCode, current.DisplayCode)

			pending, err := host.ListPendingRequests(ctx, created.DisplayCode)
			require.NoError(t, err)
			require.Len(t, pending, 1)

			_, err = host.ResolveRequest(ctx, pending[0].ID, true, "")
			require.NoError(t, err)

			// The joiner's cache is only as fresh as its last read.
			joiner.Cache().Invalidate()
			current, err = joiner.Current(ctx)
			require.NoError(t, err)
			require.False(t, current.IsPending())
			require.Equal(t, sessions.MembershipApproved, current.Membership.Status)
			require.Equal(t, created.Session.ID, current.Session.ID)

			// Ending the session drops the participant out of it.
			require.NoError(t, host.EndSession(ctx, created.Session.ID))
			joiner.Cache().Invalidate()
			current, err = joiner.Current(ctx)
			require.NoError(t, err)
			require.Nil(t, current)
		})
	}
}

func TestParticipantDenied(t *testing.T) {
	for name, newFacade := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t)
			host := newFacade(t, svc, "host")
			joiner := newFacade(t, svc, "joiner")

			created, err := host.CreateSession(ctx, pairing.CreateOptions{ApprovalRequired: true})
			require.NoError(t, err)
			result, err := joiner.JoinSession(ctx, created.Session.Code, pairing.JoinOptions{})
			require.NoError(t, err)

			denied, err := host.ResolveRequest(ctx, result.Membership.ID, false, "not today")
			require.NoError(t, err)
			require.Equal(t, sessions.MembershipDenied, denied.Status)

			joiner.Cache().Invalidate()
			current, err := joiner.Current(ctx)
			require.NoError(t, err)
			require.Nil(t, current)

			// A denied participant may ask again.
			_, err = joiner.JoinSession(ctx, created.Session.Code, pairing.JoinOptions{})
			require.NoError(t, err)
		})
	}
}

func TestJoinFailureMessages(t *testing.T) {
	for name, newFacade := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t)
			host := newFacade(t, svc, "host")
			joiner := newFacade(t, svc, "joiner")

			created, err := host.CreateSession(ctx, pairing.CreateOptions{Passphrase: passphrase})
			require.NoError(t, err)

			_, err = joiner.JoinSession(ctx, "ZZZZ-ZZZZ", pairing.JoinOptions{Passphrase: passphrase})
			require.Error(t, err)
			unknownCode := joiner.Error()

			_, err = joiner.JoinSession(ctx, created.DisplayCode, pairing.JoinOptions{Passphrase: "wrong-pass"})
			require.Error(t, err)
			badPassphrase := joiner.Error()

			require.NotEmpty(t, unknownCode)
			require.Equal(t, unknownCode, badPassphrase)

			joiner.ClearError()
			require.Empty(t, joiner.Error())

			// Two more failures reach the threshold of three on this code.
			for i := 0; i < 2; i++ {
				_, err = joiner.JoinSession(ctx, created.DisplayCode, pairing.JoinOptions{Passphrase: "wrong-pass"})
				require.Error(t, err)
			}
			_, err = joiner.JoinSession(ctx, created.DisplayCode, pairing.JoinOptions{Passphrase: passphrase})
			require.True(t, errors.Is(err, apperrors.ErrRateLimited), "got %v", err)
			require.Equal(t, client.Message(apperrors.ErrRateLimited), joiner.Error())

			_, err = joiner.JoinSession(ctx, created.DisplayCode, pairing.JoinOptions{Passphrase: "short"})
			require.True(t, errors.Is(err, apperrors.ErrPassphraseTooShort), "got %v", err)
		})
	}
}

func TestHostOnlyOperations(t *testing.T) {
	for name, newFacade := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := newService(t)
			host := newFacade(t, svc, "host")
			other := newFacade(t, svc, "other")

			created, err := host.CreateSession(ctx, pairing.CreateOptions{})
			require.NoError(t, err)

			_, err = other.GetSecurityOverview(ctx, created.DisplayCode)
			require.True(t, errors.Is(err, apperrors.ErrUnauthorized), "got %v", err)
			require.Equal(t, client.Message(apperrors.ErrUnauthorized), other.Error())

			err = other.EndSession(ctx, created.Session.ID)
			require.True(t, errors.Is(err, apperrors.ErrUnauthorized), "got %v", err)

			overview, err := host.GetSecurityOverview(ctx, created.DisplayCode)
			require.NoError(t, err)
			require.Equal(t, created.Session.Code, overview.SessionCode)
			require.Zero(t, overview.RecentFailedAttempts)
		})
	}
}

func TestResolveFailureKeepsPendingList(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	host := local(t, svc, "host")
	joiner := local(t, svc, "joiner")

	created, err := host.CreateSession(ctx, pairing.CreateOptions{ApprovalRequired: true})
	require.NoError(t, err)
	_, err = joiner.JoinSession(ctx, created.DisplayCode, pairing.JoinOptions{})
	require.NoError(t, err)

	_, err = host.ResolveRequest(ctx, "no-such-membership", true, "")
	require.True(t, errors.Is(err, apperrors.ErrMembershipNotFound))
	require.Equal(t, client.Message(apperrors.ErrMembershipNotFound), host.Error())

	pending, err := host.ListPendingRequests(ctx, created.DisplayCode)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestMessage(t *testing.T) {
	require.Empty(t, client.Message(nil))
	require.Equal(t, client.Message(apperrors.ErrInvalidCode), client.Message(apperrors.ErrInvalidPassphrase))
	require.Equal(t, client.Message(apperrors.ErrInvalidCode), client.Message(apperrors.ErrJoinFailed))
	require.NotEqual(t, client.Message(apperrors.ErrInvalidCode), client.Message(apperrors.ErrRateLimited))
	require.Equal(t, client.Message(errors.New("boom")), client.Message(errors.New("other")))
	require.NotEmpty(t, client.Message(errors.New("boom")))
}

func TestBackendConstructors(t *testing.T) {
	_, err := client.NewLocalBackend(nil, identity.Identity{UserID: "u"}, "")
	require.Error(t, err)
	_, err = client.NewLocalBackend(newService(t), identity.Identity{}, "")
	require.Error(t, err)

	_, err = client.NewHTTPBackend("", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "x"}))
	require.Error(t, err)
	_, err = client.NewHTTPBackend("http://localhost", nil)
	require.Error(t, err)
}
