// Package velocity counts recent transactions per customer for rule
// evaluation.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Service calculates transaction velocity for customers.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates a velocity service. When cache is non-nil and ttl is
// positive, counts are cached for ttl.
func NewService(repo domain.Repository, cache domain.Cache, ttl time.Duration) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// CustomerCount returns how many transactions the customer made within
// window before now. This is the Getter the rule engine expects.
func (s *Service) CustomerCount(ctx context.Context, customerID string, window time.Duration) (int64, error) {
	if customerID == "" || window <= 0 {
		return 0, fmt.Errorf("%w: customer id and positive window are required", domain.ErrInvalidInput)
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	key := fmt.Sprintf("velocity:%s:%d", customerID, int64(window.Seconds()))
	if s.cached() {
		if data, err := s.cache.Get(ctx, key); err == nil && data != nil {
			if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
				return n, nil
			}
		}
	}

	count, err := s.repo.CountCustomerTransactions(ctx, customerID, time.Now().Add(-window))
	if err != nil {
		return 0, err
	}

	if s.cached() {
		_ = s.cache.Set(ctx, key, []byte(strconv.FormatInt(count, 10)), s.ttl)
	}
	return count, nil
}

func (s *Service) cached() bool {
	return s.cache != nil && s.ttl > 0
}
