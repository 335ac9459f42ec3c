package grading

import "errors"

// ErrAgentUnavailable indicates an agent exhausted its retries and model fallbacks.
// It is the only failure that leaves a question's consensus computation.
var ErrAgentUnavailable = errors.New("agent unavailable")

// ErrArbiterUnavailable indicates the arbiter call failed; recovered with the average score.
var ErrArbiterUnavailable = errors.New("arbiter unavailable")

// ErrEmbeddingUnavailable indicates the embedding path failed; recovered with lexical similarity.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// ErrMalformedAgentResponse indicates a reply could not be parsed as structured output.
var ErrMalformedAgentResponse = errors.New("malformed agent response")

// ErrAnswerCountMismatch indicates the batch answers are not aligned with its questions.
var ErrAnswerCountMismatch = errors.New("answers do not align with questions")

// ErrEmptyBatch indicates a batch without questions.
var ErrEmptyBatch = errors.New("batch has no questions")
