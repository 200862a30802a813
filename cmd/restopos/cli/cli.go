// Package cli implements the operator subcommands of the restopos binary.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/odyssey-erp/restopos/internal/app"
	"github.com/odyssey-erp/restopos/internal/shared"
)

// ErrUsage is returned for unknown or malformed subcommands.
var ErrUsage = errors.New("usage: restopos [token -employee N -shop N [-ttl D] | jobs trigger NAME | jobs stats]")

// Run dispatches a subcommand.
func Run(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "token":
		return issueToken(cfg, args[1:], out)
	case "jobs":
		return runJobs(ctx, cfg, args[1:], out)
	default:
		return ErrUsage
	}
}

func issueToken(cfg *app.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	employee := fs.Int64("employee", 0, "employee id")
	shop := fs.Int64("shop", 0, "shop id")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *employee <= 0 {
		return fmt.Errorf("%w: employee must be positive", ErrUsage)
	}
	token, err := app.NewTokenVerifier(cfg.JWTSecret).Sign(shared.Actor{EmployeeID: *employee, ShopID: *shop}, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	if args[0] == "trigger" && len(args) == 2 {
		if _, err := TaskFor(args[1]); err != nil {
			return err
		}
	}
	c, err := NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	switch {
	case args[0] == "trigger" && len(args) == 2:
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s\n", info.Type, info.ID)
		return err
	case args[0] == "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return err
	default:
		return ErrUsage
	}
}
