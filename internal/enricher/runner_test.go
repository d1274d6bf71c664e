package enricher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryTable struct {
	mu        sync.Mutex
	rows      []Row
	readErr   error
	persistFn func(i int) error
	persisted []int
	flushes   int
	flushErr  error
}

func (m *memoryTable) ReadRows(context.Context) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return append([]Row(nil), m.rows...), nil
}

func (m *memoryTable) Persist(_ context.Context, rows []Row, i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistFn != nil {
		if err := m.persistFn(i); err != nil {
			return err
		}
	}
	m.persisted = append(m.persisted, i)
	m.rows = append([]Row(nil), rows...)
	return nil
}

func (m *memoryTable) Flush(_ context.Context, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	if m.flushErr != nil {
		return m.flushErr
	}
	m.rows = append([]Row(nil), rows...)
	return nil
}

type result struct {
	email string
	err   error
}

type fakeFetcher struct {
	results map[string]result
	calls   []string
}

func (f *fakeFetcher) FetchEmail(_ context.Context, identifier string) (string, bool, error) {
	f.calls = append(f.calls, identifier)
	res, ok := f.results[identifier]
	if !ok {
		return "", false, nil
	}
	if res.err != nil {
		return "", false, res.err
	}
	return res.email, res.email != "", nil
}

// steppingClock advances by step on every read.
type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func newRunner(t *testing.T, table *memoryTable, fetcher EmailFetcher, clock Clock, cfg Config) *Runner {
	t.Helper()
	r, err := NewRunner(table, table, fetcher, clock, cfg, zap.NewNop())
	require.NoError(t, err)
	return r
}

func sampleRows() []Row {
	return []Row{
		{Username: "alice", UserID: "1", ProfileURL: "https://github.com/alice", Status: StatusPending},
		{Username: "bob", UserID: "2", ProfileURL: "https://github.com/bob", Status: StatusDone, Email: "bob@example.com"},
		{Username: "carol", UserID: "3", ProfileURL: "https://github.com/carol"},
		{Username: "dave", UserID: "4", ProfileURL: ""},
		{Username: "erin", UserID: "5", ProfileURL: "https://github.com/erin"},
	}
}

func TestRunResolvesPendingRows(t *testing.T) {
	t.Parallel()

	table := &memoryTable{rows: sampleRows()}
	fetcher := &fakeFetcher{results: map[string]result{
		"https://github.com/alice": {email: "alice@example.com"},
		"https://github.com/carol": {err: errors.New("upstream down")},
		"dave":                     {email: "dave@example.com"},
	}}
	clock := &steppingClock{now: time.Unix(1700000000, 0), step: time.Second}

	summary, err := newRunner(t, table, fetcher, clock, Config{MaxRuntime: time.Hour, RunID: "run-1"}).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://github.com/alice",
		"https://github.com/carol",
		"dave",
		"https://github.com/erin",
	}, fetcher.calls)
	assert.Equal(t, Summary{
		RunID:       "run-1",
		Total:       5,
		Resolved:    2,
		Skipped:     2,
		AlreadyDone: 1,
		Elapsed:     summary.Elapsed,
	}, summary)
	assert.Positive(t, summary.Elapsed)

	assert.Equal(t, []int{0, 3}, table.persisted)
	assert.Equal(t, 1, table.flushes)
	assert.Equal(t, Row{
		Username: "alice", UserID: "1", ProfileURL: "https://github.com/alice",
		Status: StatusDone, Email: "alice@example.com",
	}, table.rows[0])
	assert.Equal(t, StatusPending, table.rows[2].Status, "failed rows stay pending")
	assert.Empty(t, table.rows[2].Email)
	assert.Equal(t, StatusDone, table.rows[3].Status)
	assert.False(t, table.rows[4].Done())
}

func TestRunIsIdempotentOnceAllRowsDone(t *testing.T) {
	t.Parallel()

	table := &memoryTable{rows: []Row{
		{Username: "alice", ProfileURL: "https://github.com/alice"},
		{Username: "bob", ProfileURL: "https://github.com/bob"},
	}}
	fetcher := &fakeFetcher{results: map[string]result{
		"https://github.com/alice": {email: "alice@example.com"},
		"https://github.com/bob":   {email: "bob@example.com"},
	}}
	clock := &steppingClock{now: time.Unix(1700000000, 0)}

	_, err := newRunner(t, table, fetcher, clock, Config{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 2)

	second := &fakeFetcher{}
	summary, err := newRunner(t, table, second, clock, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.calls)
	assert.Equal(t, 2, summary.AlreadyDone)
	assert.Zero(t, summary.Resolved)
}

func TestRunStopsWhenBudgetAlreadyElapsed(t *testing.T) {
	t.Parallel()

	table := &memoryTable{rows: sampleRows()}
	fetcher := &fakeFetcher{}
	clock := &steppingClock{now: time.Unix(1700000000, 0), step: 2 * time.Minute}

	summary, err := newRunner(t, table, fetcher, clock, Config{MaxRuntime: time.Minute}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.BudgetExhausted)
	assert.Empty(t, fetcher.calls)
	assert.Equal(t, 1, table.flushes, "progress is flushed before exiting")
	assert.Zero(t, summary.Resolved+summary.Skipped+summary.AlreadyDone)
}

func TestRunStopsMidwayWhenBudgetExpires(t *testing.T) {
	t.Parallel()

	table := &memoryTable{rows: []Row{
		{Username: "a"}, {Username: "b"}, {Username: "c"},
	}}
	fetcher := &fakeFetcher{results: map[string]result{"a": {email: "a@example.com"}}}
	// Now() is read at start, then once per row boundary.
	clock := &steppingClock{now: time.Unix(1700000000, 0), step: 40 * time.Second}

	summary, err := newRunner(t, table, fetcher, clock, Config{MaxRuntime: time.Minute}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.BudgetExhausted)
	assert.Equal(t, []string{"a"}, fetcher.calls)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, StatusDone, table.rows[0].Status)
}

func TestRunAbortsOnSinkFailure(t *testing.T) {
	t.Parallel()

	sinkErr := errors.New("disk full")
	table := &memoryTable{
		rows:      []Row{{Username: "a"}, {Username: "b"}},
		persistFn: func(int) error { return sinkErr },
	}
	fetcher := &fakeFetcher{results: map[string]result{
		"a": {email: "a@example.com"},
		"b": {email: "b@example.com"},
	}}

	summary, err := newRunner(t, table, fetcher, &steppingClock{}, Config{}).Run(context.Background())
	require.ErrorIs(t, err, sinkErr)
	assert.Equal(t, []string{"a"}, fetcher.calls, "run stops after the failed write")
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, 1, table.flushes)
}

func TestRunReturnsFlushFailure(t *testing.T) {
	t.Parallel()

	flushErr := errors.New("permission denied")
	table := &memoryTable{rows: []Row{{Username: "a"}}, flushErr: flushErr}

	_, err := newRunner(t, table, &fakeFetcher{}, &steppingClock{}, Config{}).Run(context.Background())
	require.ErrorIs(t, err, flushErr)
}

func TestRunSourceFailure(t *testing.T) {
	t.Parallel()

	readErr := errors.New("no such file")
	table := &memoryTable{readErr: readErr}

	_, err := newRunner(t, table, &fakeFetcher{}, &steppingClock{}, Config{}).Run(context.Background())
	require.ErrorIs(t, err, readErr)
	assert.Zero(t, table.flushes)
}

func TestRunEmptyInput(t *testing.T) {
	t.Parallel()

	table := &memoryTable{}
	fetcher := &fakeFetcher{}

	summary, err := newRunner(t, table, fetcher, &steppingClock{}, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Empty(t, fetcher.calls)
}

func TestRunCanceledContextFlushes(t *testing.T) {
	t.Parallel()

	table := &memoryTable{rows: []Row{{Username: "a"}}}
	fetcher := &fakeFetcher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newRunner(t, table, fetcher, &steppingClock{}, Config{}).Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Canceled)
	assert.Empty(t, fetcher.calls)
	assert.Equal(t, 1, table.flushes)
}

func TestNewRunnerValidates(t *testing.T) {
	t.Parallel()

	table := &memoryTable{}
	_, err := NewRunner(nil, table, &fakeFetcher{}, &steppingClock{}, Config{}, nil)
	require.Error(t, err)
	_, err = NewRunner(table, nil, &fakeFetcher{}, &steppingClock{}, Config{}, nil)
	require.Error(t, err)
	_, err = NewRunner(table, table, nil, &steppingClock{}, Config{}, nil)
	require.Error(t, err)
	_, err = NewRunner(table, table, &fakeFetcher{}, nil, Config{}, nil)
	require.Error(t, err)
}
