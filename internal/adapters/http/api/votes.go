package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/versus/internal/adapters/http/auth"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
)

const maxVoteBodyBytes = 64 << 10

// VoteDependencies defines the interface for vote intake.
type VoteDependencies interface {
	Submit(ctx context.Context, voterID string, req model.VoteRequest) (model.Vote, error)
}

// VotesHandler handles vote submissions.
type VotesHandler struct {
	deps   VoteDependencies
	logger logger.Logger
}

// NewVotesHandler creates a new votes handler.
func NewVotesHandler(deps VoteDependencies) *VotesHandler {
	return &VotesHandler{deps: deps, logger: logger.Get().Named("api")}
}

// HandlePostVote handles POST /votes requests.
func (h *VotesHandler) HandlePostVote(w http.ResponseWriter, r *http.Request) {
	voterID, ok := auth.VoterFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, auth.ErrUnauthenticated)
		return
	}

	var req voteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVoteBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	v, err := h.deps.Submit(r.Context(), voterID, req.toModel())
	if err != nil {
		if status, _ := classify(err); status >= http.StatusInternalServerError {
			h.logger.Error(r.Context(), "vote submission failed", logger.Error(err))
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
