package api

import (
	"net/url"
	"strings"
)

// Paths of the pairing API. Segments in braces are http.ServeMux wildcards.
const (
	PathHealth            = "/healthz"
	PathSessions          = "/api/sessions"
	PathCurrentSession    = "/api/sessions/current"
	PathSession           = "/api/sessions/{id}"
	PathJoin              = "/api/sessions/join"
	PathPendingRequests   = "/api/sessions/{code}/requests"
	PathSecurityOverview  = "/api/sessions/{code}/security"
	PathMembership        = "/api/memberships/{id}"
	PathResolveMembership = "/api/memberships/{id}/resolve"
)

// Expand fills the single wildcard in path with value, escaped.
func Expand(path, value string) string {
	start := strings.IndexByte(path, '{')
	end := strings.IndexByte(path, '}')
	if start < 0 || end < start {
		return path
	}
	return path[:start] + url.PathEscape(value) + path[end+1:]
}
