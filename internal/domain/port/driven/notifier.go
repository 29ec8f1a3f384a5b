package driven

import (
	"context"

	"github.com/ericfisherdev/reviewbridge/internal/domain/model"
)

// Notifier announces published reviews.
type Notifier interface {
	Notify(ctx context.Context, notice model.ReviewNotice) error
}
