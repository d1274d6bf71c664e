package enricher

import (
	"context"
	"time"
)

// EmailFetcher resolves an email for a username or profile URL.
// ok is false when nothing was found; that is not an error.
type EmailFetcher interface {
	FetchEmail(ctx context.Context, identifier string) (email string, ok bool, err error)
}

// Source loads the input table.
type Source interface {
	ReadRows(ctx context.Context) ([]Row, error)
}

// Sink persists results.
type Sink interface {
	// Persist is called right after rows[i] was resolved.
	Persist(ctx context.Context, rows []Row, i int) error
	// Flush is called once when the run stops, for whatever reason.
	Flush(ctx context.Context, rows []Row) error
}

// Table is a Source that is also its own Sink, such as a local file rewritten in place.
type Table interface {
	Source
	Sink
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
