package generation

import (
	"context"
	"errors"

	"github.com/p-n-ai/pai-elagen/internal/ai"
	"github.com/p-n-ai/pai-elagen/internal/curriculum"
	"github.com/p-n-ai/pai-elagen/internal/evaluation"
)

// ErrInvalidRequest marks a request that cannot be generated as given.
var ErrInvalidRequest = errors.New("invalid generation request")

// ErrInvalidOutput marks model output that parsed but failed validation.
var ErrInvalidOutput = errors.New("model output failed validation")

// FailureKind is the category a batch reports a failed item under.
type FailureKind string

const (
	FailureNone                  FailureKind = ""
	FailureStoreMissing          FailureKind = "store_missing"
	FailureIDNotFound            FailureKind = "id_not_found"
	FailureSectionMalformed      FailureKind = "section_malformed"
	FailureCompletionFailed      FailureKind = "completion_failed"
	FailureCompletionUnparseable FailureKind = "completion_unparseable"
	FailureEvaluationFailed      FailureKind = "evaluation_failed"
	FailureInvalidRequest        FailureKind = "invalid_request"
	FailureCanceled              FailureKind = "canceled"
	FailureInternal              FailureKind = "internal"
)

// FailureKinds lists every failure category in report order.
var FailureKinds = []FailureKind{
	FailureStoreMissing,
	FailureIDNotFound,
	FailureSectionMalformed,
	FailureCompletionFailed,
	FailureCompletionUnparseable,
	FailureEvaluationFailed,
	FailureInvalidRequest,
	FailureCanceled,
	FailureInternal,
}

// Classify maps an error onto a failure category.
func Classify(err error) FailureKind {
	var (
		sectionErr *curriculum.SectionError
		complErr   *ai.CompletionError
		evalErr    *evaluation.Error
	)
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, curriculum.ErrStoreMissing):
		return FailureStoreMissing
	case errors.Is(err, curriculum.ErrNotFound):
		return FailureIDNotFound
	case errors.As(err, &sectionErr):
		return FailureSectionMalformed
	case errors.Is(err, ErrInvalidRequest):
		return FailureInvalidRequest
	case errors.Is(err, ai.ErrUnparseable), errors.Is(err, ErrInvalidOutput):
		return FailureCompletionUnparseable
	case errors.As(err, &evalErr):
		return FailureEvaluationFailed
	case errors.As(err, &complErr):
		return FailureCompletionFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCanceled
	}
	return FailureInternal
}
