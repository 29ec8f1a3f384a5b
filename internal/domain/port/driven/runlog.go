package driven

import (
	"context"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

// RunLog keeps every review attempt for operators. It is not consulted when
// deciding what to review.
type RunLog interface {
	Insert(ctx context.Context, run model.ReviewRun) error
	List(ctx context.Context, filter model.RunFilter) ([]model.ReviewRun, error)
}
