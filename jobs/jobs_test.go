package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/restopos/internal/bank"
	jobmetrics "github.com/odyssey-erp/restopos/internal/jobs"
	"github.com/odyssey-erp/restopos/internal/shared"
	"github.com/odyssey-erp/restopos/internal/stock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBank struct {
	mu       sync.Mutex
	accounts []bank.Account
	replayed []int64
	failOn   int64
}

func (f *fakeBank) ListAccounts(context.Context) ([]bank.Account, error) {
	return f.accounts, nil
}

func (f *fakeBank) Replay(_ context.Context, id int64) (bank.ReplayReport, error) {
	if id == f.failOn {
		return bank.ReplayReport{}, bank.ErrAccountNotFound
	}
	f.mu.Lock()
	f.replayed = append(f.replayed, id)
	f.mu.Unlock()
	corrected := 0
	if id == 2 {
		corrected = 3
	}
	return bank.ReplayReport{
		AccountID:     id,
		BalanceBefore: decimal.NewFromInt(10),
		BalanceAfter:  decimal.NewFromInt(10),
		Entries:       5,
		Corrected:     corrected,
	}, nil
}

func TestBankReplayCoversEveryAccount(t *testing.T) {
	ledger := &fakeBank{accounts: []bank.Account{{ID: 1}, {ID: 2}, {ID: 3}}}
	job := NewBankReplayJob(ledger, nil, testLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	reports, err := job.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	require.ElementsMatch(t, []int64{1, 2, 3}, ledger.replayed)
}

func TestBankReplayHonoursPayloadAndLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewLocker(client, time.Second, testLogger())

	ledger := &fakeBank{accounts: []bank.Account{{ID: 1}, {ID: 2}}}
	job := NewBankReplayJob(ledger, locker, testLogger(), nil)

	task, err := NewBankReplayTask(BankReplayPayload{AccountIDs: []int64{2}})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{2}, ledger.replayed)
	require.False(t, mr.Exists(shared.AccountLockKey(2)))
}

func TestBankReplayPropagatesFailure(t *testing.T) {
	ledger := &fakeBank{accounts: []bank.Account{{ID: 1}, {ID: 9}}, failOn: 9}
	job := NewBankReplayJob(ledger, nil, testLogger(), nil)

	_, err := job.Run(context.Background(), nil)
	require.ErrorIs(t, err, bank.ErrAccountNotFound)
}

func TestBankReplayRejectsMalformedPayload(t *testing.T) {
	job := NewBankReplayJob(&fakeBank{}, nil, testLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskBankReplay, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeStock struct {
	reports map[int64]stock.ReconcileReport
}

func (f *fakeStock) ItemIDs(context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(f.reports))
	for id := int64(1); id <= int64(len(f.reports)); id++ {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStock) Reconcile(_ context.Context, id int64) (stock.ReconcileReport, error) {
	report, ok := f.reports[id]
	if !ok {
		return stock.ReconcileReport{}, stock.ErrItemNotFound
	}
	return report, nil
}

func TestStockReconcileReportsBrokenChains(t *testing.T) {
	ledger := &fakeStock{reports: map[int64]stock.ReconcileReport{
		1: {ItemID: 1, Entries: 2, Stock: 8, LastStock: 8, Consistent: true},
		2: {ItemID: 2, Entries: 3, Stock: 5, LastStock: 4, Broken: []int64{7}, Consistent: false},
	}}
	job := NewStockReconcileJob(ledger, testLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	reports, err := job.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.False(t, reports[1].Consistent)
}

func TestStockReconcileStopsOnError(t *testing.T) {
	job := NewStockReconcileJob(&fakeStock{reports: map[int64]stock.ReconcileReport{}}, testLogger(), nil)
	task, err := NewStockReconcileTask(StockReconcilePayload{ItemIDs: []int64{42}})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), stock.ErrItemNotFound)
}

type fakePruner struct {
	olderThan time.Duration
	err       error
}

func (f *fakePruner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 4, f.err
}

func TestIdempotencyCleanupDefaultsWindow(t *testing.T) {
	pruner := &fakePruner{}
	job := NewIdempotencyCleanupJob(pruner, testLogger(), nil)
	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, pruner.olderThan)

	pruner.err = errors.New("db down")
	task, err = NewIdempotencyCleanupTask(IdempotencyCleanupPayload{OlderThanHours: 1})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, pruner.olderThan)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: QueueDefault}, nil
}

func TestHandlerTriggersJobs(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewHandler(nil, &Client{client: enq}, testLogger())
	r := chi.NewRouter()
	h.MountRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/bank-replay", strings.NewReader(`{"account_ids":[1]}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), TaskBankReplay)

	req = httptest.NewRequest(http.MethodPost, "/stock-reconcile", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.tasks, 2)
	require.Equal(t, TaskStockReconcile, enq.tasks[1].Type())

	enq.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stock-reconcile", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"queue":"default"`)
}

func TestNewMuxSkipsIncompleteHandlers(t *testing.T) {
	called := false
	mux := NewMux([]TaskHandler{
		{Type: TaskIdempotencyCleanup, Handler: func(context.Context, *asynq.Task) error {
			called = true
			return nil
		}},
		{Type: "", Handler: nil},
	})
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.True(t, called)
}
