package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/restopos/internal/jobs"
	"github.com/odyssey-erp/restopos/internal/stock"
)

// StockLedger is the slice of the stock service the reconcile job drives.
type StockLedger interface {
	ItemIDs(ctx context.Context) ([]int64, error)
	Reconcile(ctx context.Context, itemID int64) (stock.ReconcileReport, error)
}

// StockReconcileJob walks each item's stock history and reports broken chains.
type StockReconcileJob struct {
	Ledger  StockLedger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockReconcileJob initialises the reconcile handler.
func NewStockReconcileJob(ledger StockLedger, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockReconcileJob {
	return &StockReconcileJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle executes the reconcile for the requested items.
func (j *StockReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("stock reconcile: handler not configured")
	}
	var payload StockReconcilePayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	_, err := j.Run(ctx, payload.ItemIDs)
	return err
}

// Run reconciles the given items, or every item when ids is empty. Broken
// chains are reported, not repaired.
func (j *StockReconcileJob) Run(ctx context.Context, ids []int64) (reports []stock.ReconcileReport, resultErr error) {
	tracker := j.Metrics.Track(TaskStockReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	if len(ids) == 0 {
		all, err := j.Ledger.ItemIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("stock reconcile: list items: %w", err)
		}
		ids = all
	}

	broken := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := j.Ledger.Reconcile(ctx, id)
		if err != nil {
			logger.Error("reconcile item", slog.Int64("item_id", id), slog.Any("error", err))
			return reports, fmt.Errorf("stock reconcile: item %d: %w", id, err)
		}
		if !report.Consistent {
			broken += len(report.Broken)
			logger.Warn("stock chain inconsistent",
				slog.Int64("item_id", id),
				slog.Float64("stock", report.Stock),
				slog.Float64("last_new_stock", report.LastStock),
				slog.Any("broken_entries", report.Broken),
			)
		}
		reports = append(reports, report)
	}
	j.Metrics.AddCorrections("stock", broken)
	logger.Info("stock reconcile complete", slog.Int("items", len(reports)), slog.Int("broken", broken))
	return reports, nil
}

func (j *StockReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockReconcile))
	}
	return slog.Default()
}
