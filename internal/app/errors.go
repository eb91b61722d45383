package app

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrCompletionFailed = errors.New("completion failed")
	ErrSearchFailed     = errors.New("search failed")
)

// InputError is a client fault. Its message is safe to return to the caller.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

var (
	ErrNoModel            = &InputError{Message: "No model provided."}
	ErrModelUnavailable   = &InputError{Message: "Requested model is invalid or not available."}
	ErrNoMessage          = &InputError{Message: "No message provided."}
	ErrEmptyMessage       = &InputError{Message: "Message cannot be empty."}
	ErrInvalidSearchInput = &InputError{Message: "search_results must be the output of /api/search."}
	ErrInvalidTemperature = &InputError{Message: "temperature must be a float superior or equal to 0.0."}
	ErrInvalidMaxTokens   = &InputError{Message: "max_tokens must be an int superior to 0."}
	ErrInvalidHistory     = &InputError{Message: "past_messages must be an array of chat completion objects."}
	ErrInvalidTopN        = &InputError{Message: "top_n must be an int superior to 0."}

	ErrNoSearchStatement    = &InputError{Message: "No search statement provided."}
	ErrEmptySearchStatement = &InputError{Message: "Search statement cannot be empty."}
	ErrNoSearchTarget       = &InputError{Message: "No search target provided."}
	ErrEmptySearchTarget    = &InputError{Message: "Search target cannot be empty."}
)

// CompletionError hides the upstream failure behind a short message; the
// cause stays available through Unwrap for logging.
type CompletionError struct {
	Model string
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("Could not run completion against %s.", e.Model)
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool { return target == ErrCompletionFailed }
