package scanning

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// LimitedDetector caps the number of OCR calls in flight at once.
// Callers over the cap wait for a slot until their context expires.
type LimitedDetector struct {
	next TextDetector
	sem  *semaphore.Weighted
}

// NewLimitedDetector wraps next so that at most n calls run concurrently
func NewLimitedDetector(next TextDetector, n int) *LimitedDetector {
	if n < 1 {
		n = 1
	}
	return &LimitedDetector{
		next: next,
		sem:  semaphore.NewWeighted(int64(n)),
	}
}

// DetectText waits for a free slot and delegates to the wrapped detector
func (l *LimitedDetector) DetectText(ctx context.Context, imageData []byte) (*RawOCRResult, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, serviceError("limiter", fmt.Errorf("waiting for a free OCR slot: %w", err))
	}
	defer l.sem.Release(1)

	return l.next.DetectText(ctx, imageData)
}

// Close closes the wrapped detector
func (l *LimitedDetector) Close() error {
	return l.next.Close()
}
