// Package vectorindex stores chunk embeddings with their opinion metadata and answers
// nearest-neighbour queries against a named collection.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrValidation = errors.New("vector index validation failed")
	ErrNotFound   = errors.New("vector index collection not found")
)

// ValidationError reports a malformed write or query. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a missing collection. It matches ErrNotFound.
type NotFoundError struct {
	Collection string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("collection %q does not exist", e.Collection)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Metadata is the flat record stored next to every vector. Every field is always
// serialized, empty or not.
type Metadata struct {
	CaseID            string `json:"case_id"`
	CaseDateFiled     string `json:"case_date_filed"`
	CaseName          string `json:"case_name"`
	CaseJudges        string `json:"case_judges"`
	CaseAttorneys     string `json:"case_attorneys"`
	CourtName         string `json:"court_name"`
	CourtType         string `json:"court_type"`
	CourtJurisdiction string `json:"court_jurisdiction"`
	OpinionID         string `json:"opinion_id"`
	OpinionAuthor     string `json:"opinion_author"`
	OpinionType       string `json:"opinion_type"`
	Text              string `json:"text"`
}

// Result is one neighbour returned by Query, closest first.
type Result struct {
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
	Document string   `json:"document"`
	Distance float64  `json:"distance"`
}

type Index interface {
	// CreateCollection drops any collection with the same name and creates an empty one.
	CreateCollection(ctx context.Context, name string, metric Metric) error
	DeleteCollection(ctx context.Context, name string) error
	// Add writes all items in one batch. Existing ids are overwritten.
	Add(ctx context.Context, collection string, ids []string, vectors [][]float32, metadatas []Metadata, documents []string) error
	// Query returns at most topN results ordered by ascending distance.
	Query(ctx context.Context, collection string, vector []float32, topN int) ([]Result, error)
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}

// FormatID builds the composite id of a chunk.
func FormatID(caseID, opinionID string, chunkIndex int) string {
	return fmt.Sprintf("%s-%s-%d", caseID, opinionID, chunkIndex)
}

// ParseID splits a composite id. The case id may itself contain hyphens.
func ParseID(id string) (caseID, opinionID string, chunkIndex int, err error) {
	if id == "" {
		return "", "", 0, &ValidationError{Field: "id", Reason: "empty"}
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return "", "", 0, &ValidationError{Field: "id", Reason: fmt.Sprintf("%q contains whitespace", id)}
	}

	last := strings.LastIndex(id, "-")
	if last <= 0 {
		return "", "", 0, &ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not case-opinion-chunk", id)}
	}
	chunkIndex, convErr := strconv.Atoi(id[last+1:])
	if convErr != nil || chunkIndex < 0 {
		return "", "", 0, &ValidationError{Field: "id", Reason: fmt.Sprintf("%q has no chunk index", id)}
	}

	rest := id[:last]
	mid := strings.LastIndex(rest, "-")
	if mid <= 0 || mid == len(rest)-1 {
		return "", "", 0, &ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not case-opinion-chunk", id)}
	}
	return rest[:mid], rest[mid+1:], chunkIndex, nil
}

func validateCollectionName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "collection", Reason: "empty name"}
	}
	return nil
}

// validateBatch checks the Add arguments and returns the shared vector dimension.
func validateBatch(ids []string, vectors [][]float32, metadatas []Metadata, documents []string) (int, error) {
	n := len(ids)
	if len(vectors) != n || len(metadatas) != n || len(documents) != n {
		return 0, &ValidationError{
			Field: "batch",
			Reason: fmt.Sprintf("length mismatch: %d ids, %d vectors, %d metadatas, %d documents",
				len(ids), len(vectors), len(metadatas), len(documents)),
		}
	}
	if n == 0 {
		return 0, &ValidationError{Field: "batch", Reason: "empty"}
	}

	dim := len(vectors[0])
	for i := range ids {
		if _, _, _, err := ParseID(ids[i]); err != nil {
			return 0, err
		}
		if len(vectors[i]) == 0 {
			return 0, &ValidationError{Field: "vector", Reason: fmt.Sprintf("%s has no values", ids[i])}
		}
		if len(vectors[i]) != dim {
			return 0, &ValidationError{
				Field:  "vector",
				Reason: fmt.Sprintf("%s has dimension %d, expected %d", ids[i], len(vectors[i]), dim),
			}
		}
	}
	return dim, nil
}

func validateQuery(vector []float32, topN int) error {
	if len(vector) == 0 {
		return &ValidationError{Field: "vector", Reason: "empty query vector"}
	}
	if topN <= 0 {
		return &ValidationError{Field: "top_n", Reason: "must be positive"}
	}
	return nil
}
