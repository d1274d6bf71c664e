package enricher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/profile-email-enricher/internal/metrics"
)

// Config controls Runner behavior.
type Config struct {
	// MaxRuntime bounds the wall-clock duration of a run. Zero disables the budget.
	MaxRuntime time.Duration
	// RunID tags log lines and the summary.
	RunID string
}

// Runner executes the sequential enrichment loop.
type Runner struct {
	source  Source
	sink    Sink
	fetcher EmailFetcher
	clock   Clock
	cfg     Config
	logger  *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(
	source Source,
	sink Sink,
	fetcher EmailFetcher,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("email fetcher is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunID != "" {
		logger = logger.With(zap.String("run_id", cfg.RunID))
	}
	return &Runner{
		source:  source,
		sink:    sink,
		fetcher: fetcher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run processes every pending row until the input is exhausted, the budget
// expires or ctx is canceled. Only source and sink failures are returned.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	state := RunState{Start: r.clock.Now(), MaxRuntime: r.cfg.MaxRuntime}
	summary := Summary{RunID: r.cfg.RunID}
	r.logger.Info("starting run", zap.Duration("max_runtime", state.MaxRuntime))

	rows, err := r.source.ReadRows(ctx)
	if err != nil {
		return summary, fmt.Errorf("read rows: %w", err)
	}
	summary.Total = len(rows)
	if len(rows) == 0 {
		r.logger.Info("no rows found in input")
		summary.Elapsed = r.clock.Now().Sub(state.Start)
		return summary, nil
	}

	for i := range rows {
		if ctx.Err() != nil {
			summary.Canceled = true
			r.logger.Warn("run canceled; saving progress", zap.Error(ctx.Err()))
			break
		}
		if state.Expired(r.clock.Now()) {
			summary.BudgetExhausted = true
			r.logger.Info("maximum runtime reached; saving progress and exiting",
				zap.Int("row", i),
			)
			break
		}

		outcome, err := r.processRow(ctx, rows, i)
		metrics.ObserveRow(string(outcome))
		switch outcome {
		case OutcomeResolved:
			summary.Resolved++
		case OutcomeAlreadyDone:
			summary.AlreadyDone++
		default:
			summary.Skipped++
		}
		if err != nil {
			return r.finish(ctx, rows, summary, state, err)
		}
	}

	return r.finish(ctx, rows, summary, state, nil)
}

// processRow handles rows[i]. The returned error is a sink failure only.
func (r *Runner) processRow(ctx context.Context, rows []Row, i int) (Outcome, error) {
	row := &rows[i]
	if row.Done() {
		return OutcomeAlreadyDone, nil
	}

	log := r.logger.With(
		zap.Int("row", i),
		zap.String("username", row.Username),
		zap.String("profile_url", row.ProfileURL),
	)
	log.Info("processing row")

	email, ok, err := r.fetcher.FetchEmail(ctx, row.Identifier())
	if err != nil {
		log.Error("failed to process row", zap.Error(err))
		return OutcomeSkipped, nil
	}
	if !ok {
		log.Info("no email found")
		return OutcomeSkipped, nil
	}

	row.Email = email
	row.Status = StatusDone
	log.Info("resolved email", zap.String("email", email))

	if err := r.sink.Persist(ctx, rows, i); err != nil {
		log.Error("failed to persist row", zap.Error(err))
		return OutcomeResolved, fmt.Errorf("persist row %d: %w", i, err)
	}
	return OutcomeResolved, nil
}

func (r *Runner) finish(ctx context.Context, rows []Row, summary Summary, state RunState, runErr error) (Summary, error) {
	// Flush runs even after ctx is canceled.
	flushCtx := context.WithoutCancel(ctx)
	if err := r.sink.Flush(flushCtx, rows); err != nil {
		r.logger.Error("failed to flush results", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("flush: %w", err)
		}
	}
	summary.Elapsed = r.clock.Now().Sub(state.Start)
	r.logger.Info("run finished",
		zap.Int("total", summary.Total),
		zap.Int("resolved", summary.Resolved),
		zap.Int("skipped", summary.Skipped),
		zap.Int("already_done", summary.AlreadyDone),
		zap.Bool("budget_exhausted", summary.BudgetExhausted),
		zap.Bool("canceled", summary.Canceled),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, runErr
}
