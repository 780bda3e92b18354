package coupon

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// CodeIndex is a probabilistic set of issued codes. A negative answer is
// exact, so the issuer can skip the existence query for most candidates.
type CodeIndex struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewCodeIndex sizes the filter for capacity codes at false positive rate fpr.
func NewCodeIndex(capacity uint, fpr float64) *CodeIndex {
	return &CodeIndex{filter: bloom.NewWithEstimates(capacity, fpr)}
}

// Warm loads every code the repository already holds.
func (x *CodeIndex) Warm(ctx context.Context, repo Repository) (int, error) {
	var n int
	err := repo.Codes(ctx, func(code string) error {
		x.Add(code)
		n++
		return nil
	})
	if err != nil {
		return n, errors.Wrap(err, "stream codes")
	}
	return n, nil
}

// Add records code as issued.
func (x *CodeIndex) Add(code string) {
	x.mu.Lock()
	x.filter.AddString(code)
	x.mu.Unlock()
}

// MaybeContains reports false only when code was never added.
func (x *CodeIndex) MaybeContains(code string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.filter.TestString(code)
}
