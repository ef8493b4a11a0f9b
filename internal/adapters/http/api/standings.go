package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
)

const headerNextPointer = "X-Next-Pointer"

// StandingsDependencies defines the interface for leaderboard reads.
type StandingsDependencies interface {
	Query(ctx context.Context, q model.LeaderboardQuery) (model.LeaderboardPage, error)
	Standing(ctx context.Context, collectionID, itemID string) (model.Standing, error)
}

// StandingsHandler handles leaderboard requests.
type StandingsHandler struct {
	deps   StandingsDependencies
	logger logger.Logger
}

// NewStandingsHandler creates a new standings handler.
func NewStandingsHandler(deps StandingsDependencies) *StandingsHandler {
	return &StandingsHandler{deps: deps, logger: logger.Get().Named("api")}
}

// HandleList handles GET /collections/{collectionId}/standings requests.
// The pointer to the next page, if any, is returned in X-Next-Pointer.
func (h *StandingsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidQuery, fmt.Errorf("%w: limit must be an integer", model.ErrInvalidQuery))
			return
		}
		limit = n
	}

	page, err := h.deps.Query(r.Context(), model.LeaderboardQuery{
		CollectionID: r.PathValue("collectionId"),
		Limit:        limit,
		Pointer:      q.Get("pointer"),
		Order:        model.Order(q.Get("order")),
		OrderBy:      q.Get("orderBy"),
	})
	if err != nil {
		h.fail(r, w, err)
		return
	}
	if page.NextPointer != "" {
		w.Header().Set(headerNextPointer, page.NextPointer)
	}
	writeJSON(w, http.StatusOK, page.Standings)
}

// HandleGet handles GET /collections/{collectionId}/standings/{itemId} requests.
func (h *StandingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Standing(r.Context(), r.PathValue("collectionId"), r.PathValue("itemId"))
	if err != nil {
		h.fail(r, w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *StandingsHandler) fail(r *http.Request, w http.ResponseWriter, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		h.logger.Error(r.Context(), "standings read failed", logger.Error(err))
	}
	writeDomainError(w, err)
}
