package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/restopos/internal/app"
	_ "github.com/odyssey-erp/restopos/internal/testing/guard"
	"github.com/odyssey-erp/restopos/jobs"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	cfg := &app.Config{JWTSecret: "s3cret"}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), cfg, []string{"token", "-employee", "5", "-shop", "2"}, &out))

	actor, err := app.NewTokenVerifier("s3cret").Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, int64(5), actor.EmployeeID)
	require.Equal(t, int64(2), actor.ShopID)
}

func TestRunRejectsBadUsage(t *testing.T) {
	cfg := &app.Config{JWTSecret: "s3cret"}
	var out bytes.Buffer
	require.ErrorIs(t, Run(context.Background(), cfg, nil, &out), ErrUsage)
	require.ErrorIs(t, Run(context.Background(), cfg, []string{"nope"}, &out), ErrUsage)
	require.ErrorIs(t, Run(context.Background(), cfg, []string{"token"}, &out), ErrUsage)
	require.Error(t, Run(context.Background(), cfg, []string{"jobs", "trigger", "mail:send"}, &out))
}

func TestTaskForKnownJobs(t *testing.T) {
	for _, name := range []string{jobs.TaskBankReplay, jobs.TaskStockReconcile, jobs.TaskIdempotencyCleanup} {
		task, err := TaskFor(name)
		require.NoError(t, err)
		require.Equal(t, name, task.Type())
	}
}
