package shared

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMoneyTolerance(t *testing.T) {
	require.True(t, AmountsMatch(dec("100.00"), dec("100.01")))
	require.False(t, AmountsMatch(dec("100.00"), dec("100.02")))
	require.True(t, Covers(dec("99.99"), dec("100.00")))
	require.False(t, Covers(dec("99.98"), dec("100.00")))
	require.True(t, MaxZero(dec("-5")).IsZero())
	require.Equal(t, "1,234.50", FormatAmount(dec("1234.5")))
}

func TestParseBusinessDate(t *testing.T) {
	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-09", "09-03-2024", "2024-03-09T00:00:00Z"} {
		got, err := ParseBusinessDate(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), in)
	}
	zero, err := ParseBusinessDate("  ")
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	_, err = ParseBusinessDate("9 March")
	require.ErrorIs(t, err, ErrValidation)
}

func TestWarningsAdd(t *testing.T) {
	var ws Warnings
	ws.Add(WarningStockFailed, "bill", "B000001", errors.New("item missing"))
	ws.Add(WarningKitchenCleanup, "table", "T1", nil)
	require.Len(t, ws, 2)
	require.Equal(t, "STOCK_FAILED bill/B000001: item missing", ws[0].String())
	require.Empty(t, ws[1].Message)
}

func TestLockerSerialisesKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewLocker(client, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	locker.retry = 1

	release, err := locker.Acquire(context.Background(), TableLockKey("T1"))
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), TableLockKey("T1"))
	require.ErrorIs(t, err, ErrEntityLocked)

	other, err := locker.Acquire(context.Background(), TableLockKey("T2"))
	require.NoError(t, err)
	other()

	release()
	again, err := locker.Acquire(context.Background(), TableLockKey("T1"))
	require.NoError(t, err)
	again()
}

func TestNilLockerIsNoop(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), BillLockKey("B1"))
	require.NoError(t, err)
	release()
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	require.False(t, ok)
	ctx := ContextWithActor(context.Background(), Actor{EmployeeID: 4, ShopID: 1})
	actor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.False(t, actor.IsSystem())
	require.True(t, System.IsSystem())
}
