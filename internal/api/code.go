package api

import (
	"context"

	"github.com/pavelpascari/covidapi/internal/lookup"
)

// CodeHandler answers /v1/code lookups.
type CodeHandler struct {
	resolver *lookup.Resolver
}

// NewCodeHandler creates a code handler over resolver.
func NewCodeHandler(resolver *lookup.Resolver) *CodeHandler {
	return &CodeHandler{resolver: resolver}
}

func (h *CodeHandler) Handle(_ context.Context, req CodeRequest) (CodeResponse, error) {
	category, err := lookup.ParseCategory(req.Category)
	if err != nil {
		return CodeResponse{}, err
	}

	matches, err := h.resolver.Search(category, req.Search)
	if err != nil {
		return CodeResponse{}, err
	}
	return CodeResponse{Matches: matches}, nil
}
