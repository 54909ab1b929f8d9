package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/account-api/pkg/jobs"
)

type tokenPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// TokenJanitor periodically deletes expired refresh tokens. Validation never
// depends on it; it only keeps the table small.
type TokenJanitor struct {
	ledger   tokenPruner
	metrics  *MetricsService
	interval time.Duration
	logger   *zap.Logger
}

// NewTokenJanitor constructs a TokenJanitor.
func NewTokenJanitor(ledger tokenPruner, metrics *MetricsService, interval time.Duration, logger *zap.Logger) *TokenJanitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenJanitor{ledger: ledger, metrics: metrics, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled. A non-positive interval returns at once.
func (j *TokenJanitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	j.logger.Info("token janitor started", zap.Duration("interval", j.interval))
	jobs.Every(ctx, "prune_refresh_tokens", j.interval, j.logger, j.Sweep)
}

// Sweep prunes once.
func (j *TokenJanitor) Sweep(ctx context.Context) error {
	n, err := j.ledger.PruneExpired(ctx)
	if err != nil {
		return err
	}
	j.metrics.AddPrunedTokens(n)
	return nil
}
