package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
)

const defaultAwaitPollInterval = 100 * time.Millisecond

// Awaiter blocks until every job of a transaction has reached a terminal
// state. Intended for synchronous callers such as tests and admin tooling;
// the delivery path never waits on it.
type Awaiter struct {
	jobs     repository.JobRepository
	interval time.Duration
	now      func() time.Time
}

func NewAwaiter(jobs repository.JobRepository, interval time.Duration) (*Awaiter, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if interval <= 0 {
		interval = defaultAwaitPollInterval
	}
	return &Awaiter{jobs: jobs, interval: interval, now: time.Now}, nil
}

// AwaitTransaction polls until no non-terminal job remains for the
// transaction or the timeout elapses.
func (a *Awaiter) AwaitTransaction(ctx context.Context, transactionID string, timeout time.Duration) error {
	if strings.TrimSpace(transactionID) == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrValidation)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	deadline := a.now().Add(timeout)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		remaining, err := a.jobs.CountNonTerminal(ctx, transactionID)
		if err != nil {
			return fmt.Errorf("failed to count running jobs: %w", err)
		}
		if remaining == 0 {
			return nil
		}
		if a.now().After(deadline) {
			return fmt.Errorf("timed out waiting for transaction %s: %d jobs still running", transactionID, remaining)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
