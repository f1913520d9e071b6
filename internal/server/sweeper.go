package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/storeops/bulkops/internal/core"
)

// expirer is the part of the service the sweeper drives.
type expirer interface {
	ExpireDiscounts(ctx context.Context, now time.Time) (*core.ExpireResult, error)
}

// SweepExpiredDiscounts runs one discount expiry pass and logs the outcome.
func SweepExpiredDiscounts(ctx context.Context, svc expirer, now time.Time, logger *slog.Logger) (*core.ExpireResult, error) {
	res, err := svc.ExpireDiscounts(ctx, now)
	if err != nil {
		logger.Error("expiry sweep failed", "error", err)
		return nil, err
	}
	for _, e := range res.Errors {
		logger.Warn("expiry sweep: rollback refused", "error", e)
	}

	failed := 0
	for _, rb := range res.RolledBack {
		if !rb.Success {
			failed++
		}
	}
	if res.Checked > 0 {
		logger.Info("expiry sweep complete",
			"expired", res.Checked,
			"rolled_back", len(res.RolledBack)-failed,
			"partial", failed,
		)
	}
	return res, nil
}

// StartExpirySweeper runs SweepExpiredDiscounts every interval until the
// returned stop function is called. stop waits for a running pass to finish.
func StartExpirySweeper(svc expirer, interval time.Duration, logger *slog.Logger) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				SweepExpiredDiscounts(ctx, svc, time.Now(), logger)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
