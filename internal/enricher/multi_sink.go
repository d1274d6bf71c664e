package enricher

import (
	"context"
	"errors"
	"fmt"
)

// MultiSink fans every call out to a primary sink and any number of mirrors.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink. Nil mirrors are ignored.
func NewMultiSink(primary Sink, mirrors ...Sink) *MultiSink {
	sinks := []Sink{primary}
	for _, m := range mirrors {
		if m != nil {
			sinks = append(sinks, m)
		}
	}
	return &MultiSink{sinks: sinks}
}

// Persist forwards to every sink in order and stops at the first failure.
func (m *MultiSink) Persist(ctx context.Context, rows []Row, i int) error {
	for idx, s := range m.sinks {
		if err := s.Persist(ctx, rows, i); err != nil {
			return fmt.Errorf("sink %d: %w", idx, err)
		}
	}
	return nil
}

// Flush flushes every sink, even after a failure, and joins the errors.
func (m *MultiSink) Flush(ctx context.Context, rows []Row) error {
	var errs []error
	for idx, s := range m.sinks {
		if err := s.Flush(ctx, rows); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", idx, err))
		}
	}
	return errors.Join(errs...)
}
