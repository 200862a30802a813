package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBankReplay recomputes bank running balances from entry history.
	TaskBankReplay = "bank:replay"
	// TaskStockReconcile verifies the stock snapshot chain of every item.
	TaskStockReconcile = "stock:reconcile"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// BankReplayPayload scopes a replay run. Empty AccountIDs means every account.
type BankReplayPayload struct {
	AccountIDs []int64 `json:"account_ids,omitempty"`
}

// StockReconcilePayload scopes a reconcile run. Empty ItemIDs means every item.
type StockReconcilePayload struct {
	ItemIDs []int64 `json:"item_ids,omitempty"`
}

// IdempotencyCleanupPayload configures the retention window in hours.
type IdempotencyCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewBankReplayTask constructs an Asynq task.
func NewBankReplayTask(payload BankReplayPayload) (*asynq.Task, error) {
	return newTask(TaskBankReplay, payload)
}

// NewStockReconcileTask constructs an Asynq task.
func NewStockReconcileTask(payload StockReconcilePayload) (*asynq.Task, error) {
	return newTask(TaskStockReconcile, payload)
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, payload)
}

func newTask(typename string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, data, asynq.Queue(QueueDefault)), nil
}

func decodePayload(t *asynq.Task, dst any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return asynq.SkipRetry
	}
	return nil
}
