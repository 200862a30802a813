package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/restopos/internal/bank"
	jobmetrics "github.com/odyssey-erp/restopos/internal/jobs"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// BankLedger is the slice of the bank service the replay job drives.
type BankLedger interface {
	ListAccounts(ctx context.Context) ([]bank.Account, error)
	Replay(ctx context.Context, accountID int64) (bank.ReplayReport, error)
}

// AccountLocker serialises replays with live postings on the same account.
type AccountLocker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// BankReplayJob recomputes every account's running balances.
type BankReplayJob struct {
	Ledger      BankLedger
	Locker      AccountLocker
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewBankReplayJob initialises the replay handler.
func NewBankReplayJob(ledger BankLedger, locker AccountLocker, logger *slog.Logger, metrics *jobmetrics.Metrics) *BankReplayJob {
	return &BankReplayJob{Ledger: ledger, Locker: locker, Logger: logger, Metrics: metrics, Concurrency: 4}
}

// Handle executes the replay for the requested accounts.
func (j *BankReplayJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("bank replay: handler not configured")
	}
	var payload BankReplayPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	_, err := j.Run(ctx, payload.AccountIDs)
	return err
}

// Run replays the given accounts, or every account when ids is empty.
func (j *BankReplayJob) Run(ctx context.Context, ids []int64) (reports []bank.ReplayReport, resultErr error) {
	tracker := j.Metrics.Track(TaskBankReplay)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if len(ids) == 0 {
		accounts, err := j.Ledger.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("bank replay: list accounts: %w", err)
		}
		for _, acc := range accounts {
			ids = append(ids, acc.ID)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.limit())
	for _, id := range ids {
		g.Go(func() error {
			report, err := j.replayOne(gctx, id)
			if err != nil {
				return fmt.Errorf("bank replay: account %d: %w", id, err)
			}
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		j.logger().Error("bank replay failed", slog.Any("error", err))
		return reports, err
	}

	corrected := 0
	for _, r := range reports {
		corrected += r.Corrected
	}
	j.Metrics.AddCorrections("bank", corrected)
	j.logger().Info("bank replay complete", slog.Int("accounts", len(reports)), slog.Int("corrected", corrected))
	return reports, nil
}

func (j *BankReplayJob) replayOne(ctx context.Context, id int64) (bank.ReplayReport, error) {
	if j.Locker != nil {
		release, err := j.Locker.Acquire(ctx, shared.AccountLockKey(id))
		if err != nil {
			return bank.ReplayReport{}, err
		}
		defer release()
	}
	report, err := j.Ledger.Replay(ctx, id)
	if err != nil {
		return report, err
	}
	if report.Corrected > 0 {
		j.logger().Warn("bank balances corrected",
			slog.Int64("account_id", id),
			slog.String("balance_before", report.BalanceBefore.StringFixed(2)),
			slog.String("balance_after", report.BalanceAfter.StringFixed(2)),
			slog.Int("corrected", report.Corrected),
		)
	}
	return report, nil
}

func (j *BankReplayJob) limit() int {
	if j.Concurrency <= 0 {
		return 1
	}
	return j.Concurrency
}

func (j *BankReplayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBankReplay))
	}
	return slog.Default()
}
