package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthmarkets/settled/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExpiredLister serves claims in batches, recording how many list calls
// were made.
type fakeExpiredLister struct {
	batches [][]domain.Claim
	calls   int
	err     error
}

func (f *fakeExpiredLister) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Claim, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

type fakeStarter struct {
	started []string
	errs    map[string]error
}

func (f *fakeStarter) BeginResolution(ctx context.Context, id string) (domain.Claim, error) {
	if err := f.errs[id]; err != nil {
		return domain.Claim{}, err
	}
	f.started = append(f.started, id)
	return domain.Claim{ID: id, Status: domain.ClaimStatusResolving}, nil
}

func expiredBatch(ids ...string) []domain.Claim {
	claims := make([]domain.Claim, len(ids))
	for i, id := range ids {
		claims[i] = domain.Claim{ID: id, Status: domain.ClaimStatusOpen}
	}
	return claims
}

func TestDeadlineWatcherDrainsBatches(t *testing.T) {
	lister := &fakeExpiredLister{batches: [][]domain.Claim{
		expiredBatch("a", "b"),
		expiredBatch("c"),
	}}
	starter := &fakeStarter{}
	w := NewDeadlineWatcher(lister, starter, nil, 2, testLogger())

	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, starter.started)
	// Two data batches; the second was short so no extra list call follows.
	assert.Equal(t, 2, lister.calls)
}

func TestDeadlineWatcherSkipsContestedClaims(t *testing.T) {
	lister := &fakeExpiredLister{batches: [][]domain.Claim{
		expiredBatch("a", "raced", "broken"),
	}}
	starter := &fakeStarter{errs: map[string]error{
		"raced":  domain.ErrInvalidStatus,
		"broken": errors.New("store down"),
	}}
	w := NewDeadlineWatcher(lister, starter, nil, 10, testLogger())

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, []string{"a"}, starter.started)
}

// A full batch where every claim fails to transition must end the sweep
// instead of re-listing the same claims until the context dies.
func TestDeadlineWatcherStopsWhenFullBatchStalls(t *testing.T) {
	lister := &fakeExpiredLister{batches: [][]domain.Claim{
		expiredBatch("a", "b"),
		expiredBatch("a", "b"),
		expiredBatch("a", "b"),
	}}
	starter := &fakeStarter{errs: map[string]error{
		"a": errors.New("store down"),
		"b": errors.New("store down"),
	}}
	w := NewDeadlineWatcher(lister, starter, nil, 2, testLogger())

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 1, lister.calls)
	assert.Empty(t, starter.started)
}

func TestDeadlineWatcherPropagatesListError(t *testing.T) {
	lister := &fakeExpiredLister{err: errors.New("connection reset")}
	w := NewDeadlineWatcher(lister, &fakeStarter{}, nil, 10, testLogger())

	err := w.Run(context.Background())
	assert.ErrorContains(t, err, "list expired")
}

func TestDeadlineWatcherStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lister := &fakeExpiredLister{batches: [][]domain.Claim{expiredBatch("a")}}
	starter := &fakeStarter{}
	w := NewDeadlineWatcher(lister, starter, nil, 10, testLogger())

	err := w.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, starter.started)
}

func TestDeadlineWatcherDefaultBatchSize(t *testing.T) {
	w := NewDeadlineWatcher(&fakeExpiredLister{}, &fakeStarter{}, nil, 0, testLogger())
	assert.Equal(t, 100, w.batchSize)
}

func TestParseCron(t *testing.T) {
	_, err := parseCron("0 3 1 *")
	assert.ErrorContains(t, err, "must have 5 fields")

	_, err = parseCron("0 3 1 * * *")
	assert.ErrorContains(t, err, "must have 5 fields")

	_, err = parseCron("0 3 x * *")
	assert.ErrorContains(t, err, "day-of-month")

	sched, err := parseCron("0 3 1,15 * *")
	require.NoError(t, err)
	assert.True(t, hits(sched.minute, 0))
	assert.False(t, hits(sched.minute, 30))
	assert.True(t, hits(sched.dom, 15))
	assert.False(t, hits(sched.dom, 2))
	assert.True(t, hits(sched.month, 7))

	_, err = parseCronField("70", 59)
	assert.ErrorContains(t, err, "out of range")
}

func TestCronNext(t *testing.T) {
	mustParse := func(expr string) cronSchedule {
		t.Helper()
		sched, err := parseCron(expr)
		require.NoError(t, err)
		return sched
	}

	// "0 3 1 * *" from mid-March resolves to April 1st 03:00.
	after := time.Date(2026, 3, 15, 10, 30, 45, 0, time.UTC)
	next, err := mustParse("0 3 1 * *").next(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC), next)

	// Every minute: the next minute boundary.
	next, err = mustParse("* * * * *").next(after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 10, 31, 0, 0, time.UTC), next)

	// A matching minute that already started is skipped.
	atBoundary := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	next, err = mustParse("30 10 * * *").next(atBoundary)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 10, 30, 0, 0, time.UTC), next)

	// Weekday field: next Sunday at midnight.
	next, err = mustParse("0 0 * * 0").next(after)
	require.NoError(t, err)
	assert.Equal(t, time.Weekday(0), next.Weekday())
	assert.Equal(t, 0, next.Hour())
}
