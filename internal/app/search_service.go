package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"openlegalrag/internal/pkg/logger"
	"openlegalrag/internal/search"
)

const moduleSearch = "app.search"

type CaseSearcher interface {
	Search(ctx context.Context, statement string) ([]search.Result, error)
}

type SearchService struct {
	courtListener CaseSearcher
	logger        logger.ILogger
}

type SearchRequest struct {
	SearchStatement *string `json:"search_statement"`
	SearchTarget    *string `json:"search_target"`
}

func NewSearchService(courtListener CaseSearcher, log logger.ILogger) *SearchService {
	if log == nil {
		log = logger.NewNop()
	}
	return &SearchService{courtListener: courtListener, logger: log}
}

// Search returns results keyed by target. Every known target is present in
// the output, with an empty list for those not searched.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (map[string][]search.Result, error) {
	if req.SearchStatement == nil {
		return nil, ErrNoSearchStatement
	}
	statement := strings.TrimSpace(*req.SearchStatement)
	if statement == "" {
		return nil, ErrEmptySearchStatement
	}
	if req.SearchTarget == nil {
		return nil, ErrNoSearchTarget
	}
	target := strings.TrimSpace(*req.SearchTarget)
	if target == "" {
		return nil, ErrEmptySearchTarget
	}
	if !slices.Contains(search.Targets, target) {
		return nil, &InputError{Message: fmt.Sprintf("Search target can only be: %s.", strings.Join(search.Targets, ","))}
	}

	output := make(map[string][]search.Result, len(search.Targets))
	for _, t := range search.Targets {
		output[t] = []search.Result{}
	}

	results, err := s.courtListener.Search(ctx, statement)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error(moduleSearch, "courtlistener search failed", map[string]interface{}{
			"statement": statement,
			"error":     err,
		})
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	output[target] = results
	return output, nil
}
