package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storeops/bulkops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeItems(n int) []*models.Item {
	items := make([]*models.Item, n)
	for i := range items {
		items[i] = &models.Item{
			ID:      fmt.Sprintf("v%d", i+1),
			SKU:     fmt.Sprintf("SKU-%d", i+1),
			Current: models.Values{models.FieldPrice: "10.00"},
			Target:  models.Values{models.FieldPrice: "12.00"},
		}
	}
	return items
}

func succeed(ctx context.Context, item *models.Item) (models.Values, error) {
	return nil, nil
}

func TestRun_NoItems(t *testing.T) {
	o := New(DefaultOptions(), slog.Default())
	_, err := o.Run(context.Background(), nil, succeed, nil)
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestRun_RateDiscipline(t *testing.T) {
	const delay = 40 * time.Millisecond
	o := New(Options{GroupSize: 2, WindowDelay: delay}, slog.Default())

	var mu sync.Mutex
	starts := make(map[string]time.Time)
	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		mu.Lock()
		starts[item.ID] = time.Now()
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}

	res, err := o.Run(context.Background(), makeItems(5), fn, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Groups) // ceil(5/2)

	groupStart := func(ids ...string) time.Time {
		var first time.Time
		for _, id := range ids {
			if first.IsZero() || starts[id].Before(first) {
				first = starts[id]
			}
		}
		return first
	}
	g1 := groupStart("v1", "v2")
	g2 := groupStart("v3", "v4")
	g3 := groupStart("v5")

	assert.GreaterOrEqual(t, g2.Sub(g1), delay)
	assert.GreaterOrEqual(t, g3.Sub(g2), delay)
}

func TestRun_GroupRunsConcurrentlyAndIsBounded(t *testing.T) {
	o := New(Options{GroupSize: 3, WindowDelay: 0}, slog.Default())

	var inFlight, maxInFlight int32
	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}

	_, err := o.Run(context.Background(), makeItems(7), fn, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&maxInFlight))
}

func TestRun_NoDelayAfterLastGroup(t *testing.T) {
	o := New(Options{GroupSize: 2, WindowDelay: time.Hour}, slog.Default())
	var sleeps []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	res, err := o.Run(context.Background(), makeItems(6), succeed, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Groups)
	assert.Equal(t, []time.Duration{time.Hour, time.Hour}, sleeps)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	o := New(Options{GroupSize: 2, WindowDelay: 0}, slog.Default())
	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		if item.ID == "v3" {
			return nil, errors.New("remote error (422): price invalid")
		}
		return nil, nil
	}

	res, err := o.Run(context.Background(), makeItems(5), fn, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 4, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 5)

	failed := res.Items[2]
	assert.Equal(t, "v3", failed.Item.ID)
	assert.Equal(t, models.ItemFailed, failed.Status)
	assert.Contains(t, failed.Error, "price invalid")
	assert.True(t, failed.Dispatched)
	assert.Equal(t, []*models.Item{failed.Item}, res.FailedItems())
}

func TestRun_PanicIsIsolated(t *testing.T) {
	o := New(Options{GroupSize: 2, WindowDelay: 0}, slog.Default())
	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		if item.ID == "v1" {
			panic("boom")
		}
		return nil, nil
	}

	res, err := o.Run(context.Background(), makeItems(2), fn, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Items[0].Error, "boom")
}

func TestRun_RecordsValues(t *testing.T) {
	o := New(Options{GroupSize: 2, WindowDelay: 0}, slog.Default())
	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		if item.ID == "v2" {
			return models.Values{models.FieldPrice: "12.00", models.FieldImageID: "img-9"}, nil
		}
		return nil, nil
	}

	res, err := o.Run(context.Background(), makeItems(2), fn, nil)
	require.NoError(t, err)

	assert.Equal(t, models.Values{models.FieldPrice: "10.00"}, res.Items[0].OldValues)
	assert.Equal(t, models.Values{models.FieldPrice: "12.00"}, res.Items[0].NewValues)
	assert.Equal(t, "img-9", res.Items[1].NewValues[models.FieldImageID])
}

func TestRun_RecordsLiveValues(t *testing.T) {
	o := New(Options{GroupSize: 2, WindowDelay: 0}, slog.Default())
	items := []*models.Item{{ID: "v1"}, {ID: "v2"}}
	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		item.Current = models.Values{models.FieldPrice: "30.00"}
		item.Target = models.Values{models.FieldPrice: "27.00"}
		if item.ID == "v2" {
			return nil, errors.New("update rejected")
		}
		return nil, nil
	}

	res, err := o.Run(context.Background(), items, fn, nil)
	require.NoError(t, err)

	for _, r := range res.Items {
		assert.Equal(t, models.Values{models.FieldPrice: "30.00"}, r.OldValues)
		assert.Equal(t, models.Values{models.FieldPrice: "27.00"}, r.NewValues)
	}
	assert.False(t, res.Items[1].Succeeded())
}

func TestRun_ProgressAndGroupObserver(t *testing.T) {
	o := New(Options{GroupSize: 2, WindowDelay: 0}, slog.Default())
	fn := func(ctx context.Context, item *models.Item) (models.Values, error) {
		if item.ID == "v2" {
			return nil, errors.New("nope")
		}
		return nil, nil
	}

	var progress []Progress
	var messages []string
	obs := &Observer{
		OnProgress: func(p Progress) { progress = append(progress, p) },
		OnGroup: func(index, groups int, message string) {
			messages = append(messages, message)
		},
	}

	_, err := o.Run(context.Background(), makeItems(3), fn, obs)
	require.NoError(t, err)

	require.Len(t, progress, 3)
	last := progress[len(progress)-1]
	assert.Equal(t, Progress{Total: 3, Completed: 3, Successful: 2, Failed: 1, CurrentLabel: last.CurrentLabel}, last)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Completed)
	}
	assert.Equal(t, []string{"Completed group 1 of 2", "Completed group 2 of 2"}, messages)
}

func TestRun_CancelStopsSchedulingButFinishesInFlight(t *testing.T) {
	o := New(Options{GroupSize: 2, WindowDelay: 10 * time.Millisecond}, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	var sawCancelled atomic.Bool
	fn := func(callCtx context.Context, item *models.Item) (models.Values, error) {
		atomic.AddInt32(&calls, 1)
		if item.ID == "v1" {
			cancel()
			time.Sleep(10 * time.Millisecond)
			if callCtx.Err() != nil {
				sawCancelled.Store(true)
			}
		}
		return nil, nil
	}

	res, err := o.Run(ctx, makeItems(6), fn, nil)
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.False(t, sawCancelled.Load(), "in-flight calls must not observe cancellation")
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 4, res.Failed)
	assert.Equal(t, res.Total, res.Successful+res.Failed)
	for _, r := range res.Items[2:] {
		assert.False(t, r.Dispatched)
		assert.Equal(t, models.ItemFailed, r.Status)
	}
}

func TestSplit(t *testing.T) {
	groups := split(makeItems(5), 2)
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 2)
	assert.Len(t, groups[2], 1)
}

func TestNew_Defaults(t *testing.T) {
	o := New(Options{}, nil)
	assert.Equal(t, DefaultGroupSize, o.Options().GroupSize)
}

func TestSleep_ContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, 10*time.Second), context.Canceled)
}
