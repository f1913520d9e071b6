// Package batch drives an item-level mutation across many items under an
// external rate limit. Items are dispatched in fixed-size groups; every item
// of a group runs concurrently, the whole group is joined, and the
// orchestrator then waits a fixed window delay before starting the next group.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storeops/bulkops/internal/models"
	"golang.org/x/sync/errgroup"
)

// ErrNoItems is returned when Run is called with an empty selection.
var ErrNoItems = errors.New("no items selected")

// errNotDispatched is recorded for items skipped by cancellation.
var errNotDispatched = errors.New("batch cancelled before item was dispatched")

// Default rate window, sized for a remote store sustaining ~2 requests/second.
const (
	DefaultGroupSize   = 2
	DefaultWindowDelay = 1100 * time.Millisecond
)

// Options configures the rate window.
type Options struct {
	GroupSize   int
	WindowDelay time.Duration
}

// DefaultOptions returns the standard rate window.
func DefaultOptions() Options {
	return Options{GroupSize: DefaultGroupSize, WindowDelay: DefaultWindowDelay}
}

// Progress is the running tally emitted after each item completes.
type Progress struct {
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
	Successful   int    `json:"successful"`
	Failed       int    `json:"failed"`
	CurrentLabel string `json:"current_label"`
}

// Observer receives incremental progress. Callbacks are invoked serially and
// must not block for long; nil callbacks are skipped.
type Observer struct {
	OnProgress func(Progress)
	OnGroup    func(index, groups int, message string)
}

// ItemFunc performs one item's mutation. On success it returns the values
// actually applied, or nil to record the item's target values. An ItemFunc
// may refresh item.Current and item.Target with live values it read from
// the remote store; the result records them as of the function's return.
type ItemFunc func(ctx context.Context, item *models.Item) (models.Values, error)

// Orchestrator runs batches. It holds no per-batch state and is safe for
// concurrent use.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// New creates an Orchestrator. Non-positive options fall back to defaults.
func New(opts Options, logger *slog.Logger) *Orchestrator {
	if opts.GroupSize <= 0 {
		opts.GroupSize = DefaultGroupSize
	}
	if opts.WindowDelay < 0 {
		opts.WindowDelay = DefaultWindowDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{opts: opts, logger: logger, sleep: sleep, now: time.Now}
}

// Options returns the orchestrator's rate window.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run applies fn to every item. Item failures are isolated and recorded in
// the result. Cancelling ctx stops further groups from being scheduled; calls
// already in flight run to completion and items never dispatched are
// recorded as failed so they remain retryable.
func (o *Orchestrator) Run(ctx context.Context, items []*models.Item, fn ItemFunc, obs *Observer) (*models.BatchResult, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if obs == nil {
		obs = &Observer{}
	}

	groups := split(items, o.opts.GroupSize)
	res := &models.BatchResult{
		Total:     len(items),
		Items:     make([]*models.ItemResult, len(items)),
		StartedAt: o.now(),
	}
	t := &tally{progress: Progress{Total: len(items)}, observer: obs}

	// In-flight remote calls are never recalled.
	callCtx := context.WithoutCancel(ctx)

	offset := 0
	for gi, group := range groups {
		if gi > 0 {
			if err := o.sleep(ctx, o.opts.WindowDelay); err != nil {
				res.Cancelled = true
				break
			}
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		var g errgroup.Group
		for j, item := range group {
			idx := offset + j
			g.Go(func() error {
				r := o.runItem(callCtx, item, fn)
				res.Items[idx] = r
				t.record(r)
				return nil
			})
		}
		// Item failures live on the result, never on the group, so Wait
		// only joins the goroutines.
		_ = g.Wait()
		offset += len(group)

		res.Groups++
		msg := fmt.Sprintf("Completed group %d of %d", gi+1, len(groups))
		o.logger.Debug("batch group complete", "group", gi+1, "groups", len(groups))
		if obs.OnGroup != nil {
			obs.OnGroup(gi+1, len(groups), msg)
		}
	}

	for i, r := range res.Items {
		if r == nil {
			res.Items[i] = &models.ItemResult{
				Item:      items[i],
				Status:    models.ItemFailed,
				OldValues: items[i].Current.Clone(),
				NewValues: items[i].Target.Clone(),
				Error:     errNotDispatched.Error(),
			}
		}
	}

	for _, r := range res.Items {
		if r.Succeeded() {
			res.Successful++
		} else {
			res.Failed++
		}
	}
	res.FinishedAt = o.now()
	return res, nil
}

// runItem executes one item, converting errors and panics into a result.
func (o *Orchestrator) runItem(ctx context.Context, item *models.Item, fn ItemFunc) (r *models.ItemResult) {
	start := o.now()
	r = &models.ItemResult{Item: item, Dispatched: true}

	defer func() {
		if rec := recover(); rec != nil {
			r.Status = models.ItemFailed
			r.Error = fmt.Sprintf("panic: %v", rec)
			o.logger.Error("item operation panicked", "item", item.ID, "panic", rec)
		}
		r.OldValues = item.Current.Clone()
		if r.NewValues == nil {
			r.NewValues = item.Target.Clone()
		}
		r.Duration = o.now().Sub(start)
	}()

	applied, err := fn(ctx, item)
	if err != nil {
		r.Status = models.ItemFailed
		r.Error = err.Error()
		o.logger.Warn("item operation failed", "item", item.ID, "error", err)
		return r
	}

	r.Status = models.ItemSucceeded
	r.NewValues = applied.Clone()
	return r
}

// tally accumulates progress from concurrently completing items.
type tally struct {
	mu       sync.Mutex
	progress Progress
	observer *Observer
}

func (t *tally) record(r *models.ItemResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progress.Completed++
	if r.Succeeded() {
		t.progress.Successful++
	} else {
		t.progress.Failed++
	}
	t.progress.CurrentLabel = r.Item.Label()
	if t.observer.OnProgress != nil {
		t.observer.OnProgress(t.progress)
	}
}

// split partitions items into consecutive groups of at most size.
func split(items []*models.Item, size int) [][]*models.Item {
	groups := make([][]*models.Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		groups = append(groups, items[start:end])
	}
	return groups
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
