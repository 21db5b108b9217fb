package domain

import "errors"

// ErrInvalidModelResponse signals that the model produced output the caller
// could not use: no completion at all, malformed JSON, or a value outside
// the expected set. It is distinct from transport failure, which the LLM
// gateway absorbs, and is the retryable signal for router and handler
// retry policies.
var ErrInvalidModelResponse = errors.New("domain: invalid model response")
