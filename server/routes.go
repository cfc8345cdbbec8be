package server

import (
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-pairing-server/api"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+api.PathHealth, ChainMiddleware(s.HealthHandler(), s.APIMiddleware()...))

	// Host
	s.RegisterRouteHandler("POST "+api.PathSessions, ChainMiddleware(s.CreateSessionHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+api.PathCurrentSession, ChainMiddleware(s.CurrentSessionHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("DELETE "+api.PathSession, ChainMiddleware(s.EndSessionHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+api.PathPendingRequests, ChainMiddleware(s.PendingRequestsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+api.PathSecurityOverview, ChainMiddleware(s.SecurityOverviewHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+api.PathResolveMembership, ChainMiddleware(s.ResolveRequestHandler(), s.APIMiddleware(s.RequireAuth())...))

	// Participant
	s.RegisterRouteHandler("POST "+api.PathJoin, ChainMiddleware(s.JoinSessionHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+api.PathMembership, ChainMiddleware(s.MembershipHandler(), s.APIMiddleware(s.RequireAuth())...))

	// Browsers preflight every API path.
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))
}

func logError(method, path, error string) {
	log.Error().Msgf("[%-19s] %s %s", colourMethod(method), path, Red+error+ResetColor)
}
