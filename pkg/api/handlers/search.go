package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/necyber/elephie/pkg/api/response"
	"github.com/necyber/elephie/pkg/retrieval"
)

// Searcher runs retrieval in either ranking mode.
type Searcher interface {
	Search(ctx context.Context, queries []string) ([]retrieval.Context, error)
	SearchFused(ctx context.Context, queries []string) ([]retrieval.Context, error)
}

// SearchHandler exposes retrieval for debugging rankings.
type SearchHandler struct {
	search  Searcher
	timeout time.Duration
	logger  handlerLogger
}

// NewSearchHandler creates a search handler. A positive timeout bounds each
// search.
func NewSearchHandler(search Searcher, timeout time.Duration, log handlerLogger) *SearchHandler {
	return &SearchHandler{search: search, timeout: timeout, logger: log}
}

type searchRequest struct {
	Queries []string `json:"queries" validate:"required,min=1,max=10,dive,required"`
	Mode    string   `json:"mode" validate:"omitempty,oneof=plain fused"`
}

type searchResponse struct {
	Mode     string              `json:"mode"`
	Contexts []retrieval.Context `json:"contexts"`
	Tokens   int                 `json:"tokens"`
}

// Search handles POST /api/v1/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}
	if req.Mode == "" {
		req.Mode = "fused"
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	run := h.search.SearchFused
	if req.Mode == "plain" {
		run = h.search.Search
	}
	contexts, err := run(ctx, req.Queries)
	if err != nil {
		h.logger.Error("Search failed", "mode", req.Mode, "error", err)
		status := http.StatusInternalServerError
		if ctx.Err() != nil {
			status = http.StatusGatewayTimeout
		}
		response.Error(w, status, response.CodeFor(status), "Search failed", getRequestID(ctx))
		return
	}
	if contexts == nil {
		contexts = []retrieval.Context{}
	}

	tokens := 0
	for _, c := range contexts {
		tokens += c.TokenCount
	}
	response.JSON(w, http.StatusOK, searchResponse{
		Mode:     req.Mode,
		Contexts: contexts,
		Tokens:   tokens,
	})
}
