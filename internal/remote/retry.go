package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/storeops/bulkops/internal/models"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a StoreClient with automatic retry on transient errors.
// Retries happen inside a single item call; the batch orchestrator itself
// never re-runs items.
type RetryClient struct {
	inner  StoreClient
	config *RetryConfig
}

// NewRetryClient creates a RetryClient that wraps the given StoreClient.
func NewRetryClient(inner StoreClient, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrInvalidID) {
		return false
	}
	return true // network errors are transient
}

// isThrottled reports whether the store rejected the call before running it.
func isThrottled(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == http.StatusTooManyRequests
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// delay is the backoff for attempt, stretched to any Retry-After the store sent.
func (rc *RetryClient) delay(attempt int, err error) time.Duration {
	d := rc.backoff(attempt)
	var re *RemoteError
	if errors.As(err, &re) && re.RetryAfter > d {
		d = re.RetryAfter
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	return rc.retryIf(ctx, operation, isTransient, fn)
}

func (rc *RetryClient) retryIf(ctx context.Context, operation string, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			if err := sleep(ctx, rc.delay(attempt, lastErr)); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

// --- Delegate all StoreClient methods through retry logic ---

func (rc *RetryClient) GetVariant(ctx context.Context, variantID string) (v *Variant, err error) {
	err = rc.retry(ctx, "get variant", func() error {
		v, err = rc.inner.GetVariant(ctx, variantID)
		return err
	})
	return
}

func (rc *RetryClient) UpdateVariant(ctx context.Context, variantID string, fields models.Values) (v *Variant, err error) {
	err = rc.retry(ctx, "update variant", func() error {
		v, err = rc.inner.UpdateVariant(ctx, variantID, fields)
		return err
	})
	return
}

func (rc *RetryClient) GetProduct(ctx context.Context, productID string) (p *Product, err error) {
	err = rc.retry(ctx, "get product", func() error {
		p, err = rc.inner.GetProduct(ctx, productID)
		return err
	})
	return
}

func (rc *RetryClient) UpdateProduct(ctx context.Context, productID string, fields models.Values) (p *Product, err error) {
	err = rc.retry(ctx, "update product", func() error {
		p, err = rc.inner.UpdateProduct(ctx, productID, fields)
		return err
	})
	return
}

func (rc *RetryClient) CreateProductImage(ctx context.Context, productID string, src *ImageSource) (img *Image, err error) {
	// Image creation is not idempotent: a 5xx may still have created the
	// media, so only throttled calls are retried.
	err = rc.retryIf(ctx, "create product image", isThrottled, func() error {
		img, err = rc.inner.CreateProductImage(ctx, productID, src)
		return err
	})
	return
}
