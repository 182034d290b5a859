package lurk

import (
	"context"
	"time"
)

// Checker translates a query and filter into products for one provider.
type Checker interface {
	Name() string
	Products(ctx context.Context, query string, filter ProductFilter) ([]Product, error)
}

// Notifier delivers in-stock products to a user-facing sink.
type Notifier interface {
	Notify(ctx context.Context, products []Product) error
}

// RunStore persists run reports.
type RunStore interface {
	SaveRun(ctx context.Context, report RunReport) error
	GetRun(ctx context.Context, id string) (RunReport, error)
	ListRuns(ctx context.Context, limit int) ([]RunReport, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
