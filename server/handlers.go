package server

import (
	"net/http"

	"github.com/jrsteele09/go-pairing-server/api"
	"github.com/jrsteele09/go-pairing-server/internal/utils"
	"github.com/jrsteele09/go-pairing-server/pairing"
	"github.com/jrsteele09/go-pairing-server/sessions"
)

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// CreateSessionHandler starts a session hosted by the caller.
func (s *Server) CreateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())

		var req api.CreateSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		session, err := s.pairing.CreateSession(r.Context(), id.UserID, pairing.CreateOptions{
			Passphrase:       req.Passphrase,
			ApprovalRequired: req.ApprovalRequired,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, api.NewSession(session))
	}
}

func (s *Server) CurrentSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())

		session, err := s.pairing.GetActiveSession(r.Context(), id.UserID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.NewSession(session))
	}
}

func (s *Server) EndSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())

		if err := s.pairing.EndSession(r.Context(), id.UserID, r.PathValue("id")); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// JoinSessionHandler joins with a code as typed. 200 means approved, 202
// means the request waits for the host.
func (s *Server) JoinSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())

		var req api.JoinSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		result, err := s.pairing.JoinSession(r.Context(), req.Code, pairing.Participant{
			UserID:   id.UserID,
			Name:     id.Name,
			Email:    id.Email,
			DeviceID: utils.NonEmpty(utils.Value(req.DeviceID)),
		}, pairing.JoinOptions{Passphrase: req.Passphrase})
		if err != nil {
			s.writeJoinError(w, r, err)
			return
		}

		status := http.StatusOK
		if result.Status == pairing.JoinPending {
			status = http.StatusAccepted
		}
		writeJSON(w, status, api.NewJoinResponse(result))
	}
}

func (s *Server) PendingRequestsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())

		pending, err := s.pairing.ListPendingRequests(r.Context(), id.UserID, r.PathValue("code"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if pending == nil {
			pending = []*sessions.Membership{}
		}
		writeJSON(w, http.StatusOK, api.PendingRequestsResponse{Requests: pending})
	}
}

func (s *Server) SecurityOverviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())

		overview, err := s.pairing.GetSecurityOverview(r.Context(), id.UserID, r.PathValue("code"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.NewSecurityOverviewResponse(overview))
	}
}

func (s *Server) ResolveRequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())

		var req api.ResolveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		membership, err := s.pairing.ResolveRequest(r.Context(), id.UserID, r.PathValue("id"), req.Approve, req.Note)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, membership)
	}
}

// MembershipHandler lets a participant poll its request.
func (s *Server) MembershipHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())

		view, err := s.pairing.GetMembership(r.Context(), id.UserID, r.PathValue("id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, api.NewMembershipResponse(view))
	}
}
