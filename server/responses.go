package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-pairing-server/api"
	apperrors "github.com/jrsteele09/go-pairing-server/internal/errors"
)

const maxBodyBytes = 1 << 16

var statusByKind = map[apperrors.Kind]int{
	apperrors.KindInvalidCode:        http.StatusBadRequest,
	apperrors.KindPassphraseTooShort: http.StatusBadRequest,
	apperrors.KindPassphraseTooLong:  http.StatusBadRequest,
	apperrors.KindJoinFailed:         http.StatusForbidden,
	apperrors.KindUnauthorized:       http.StatusForbidden,
	apperrors.KindRateLimited:        http.StatusTooManyRequests,
	apperrors.KindSessionNotFound:    http.StatusNotFound,
	apperrors.KindMembershipNotFound: http.StatusNotFound,
	apperrors.KindAlreadyRequested:   http.StatusConflict,
	apperrors.KindCodeSpaceExhausted: http.StatusServiceUnavailable,
}

var descriptionByKind = map[apperrors.Kind]string{
	apperrors.KindJoinFailed: "invalid join code or passphrase",
	apperrors.KindInternal:   "internal server error",
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, api.ErrorResponse{Error: errorCode, ErrorDescription: description})
}

// writeError maps a workflow error onto the error body. Internal errors are
// logged and never echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeKind(w, r, apperrors.KindOf(err), err)
}

// writeJoinError is writeError for joiners: unknown codes and wrong
// passphrases look the same.
func (s *Server) writeJoinError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeKind(w, r, apperrors.Public(apperrors.KindOf(err)), err)
}

func (s *Server) writeKind(w http.ResponseWriter, r *http.Request, kind apperrors.Kind, err error) {
	status, ok := statusByKind[kind]
	if !ok {
		kind = apperrors.KindInternal
		status = http.StatusInternalServerError
		logError(r.Method, r.URL.Path, err.Error())
	}

	if kind == apperrors.KindRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.pairing.Monitor().Window().Seconds())))
	}

	writeJSONError(w, string(kind), describe(kind), status)
}

func describe(kind apperrors.Kind) string {
	if d, ok := descriptionByKind[kind]; ok {
		return d
	}
	if sentinel := apperrors.FromKind(kind); sentinel != nil {
		return sentinel.Error()
	}
	return string(kind)
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst unchanged.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}
