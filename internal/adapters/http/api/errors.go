package api

import (
	"errors"
	"net/http"

	"github.com/okian/versus/internal/adapters/http/auth"
	"github.com/okian/versus/internal/domain/model"
)

// ErrBadRequest marks a request the handlers could not parse.
var ErrBadRequest = errors.New("bad request")

// Error codes returned in the body.
const (
	codeBadRequest      = "bad_request"
	codeInvalidVote     = "invalid_vote"
	codeDuplicateVote   = "duplicate_vote"
	codeInvalidQuery    = "invalid_query"
	codeNotFound        = "not_found"
	codeUnauthenticated = "unauthenticated"
	codeInternal        = "internal_error"
)

// classify maps a domain error to its HTTP status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, codeUnauthenticated
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, codeInvalidVote
	case errors.Is(err, model.ErrDuplicateVote):
		return http.StatusConflict, codeDuplicateVote
	case errors.Is(err, model.ErrInvalidQuery):
		return http.StatusBadRequest, codeInvalidQuery
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if code == codeDuplicateVote {
		writeJSON(w, status, errorResponse{Code: code, Message: "already voted on this pair"})
		return
	}
	writeError(w, status, code, err)
}
