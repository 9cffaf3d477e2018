// Command ledgerctl runs maintenance jobs against the event ledger store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/and161185/event-ledger/internal/app"
	"github.com/and161185/event-ledger/internal/auth"
	"github.com/and161185/event-ledger/internal/config"
	"github.com/and161185/event-ledger/internal/convert"
	"github.com/and161185/event-ledger/internal/migrate"
	"github.com/and161185/event-ledger/internal/model"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// buildApp is replaced in tests.
var buildApp = app.Build

var errUsage = errors.New("usage")

const usageText = `ledgerctl
Usage:
  ledgerctl [-config file] [-dsn DSN] [-dev] ... <cmd> [args]

Commands:
  version
  migrate        [-status]                       (apply schema migrations)
  sweep          [-now RFC3339]                  (hard delete due pages, purge expired memories)
  purge-expired  [-today YYYY-MM-DD]
  assign-owner   -uid <uid> [-dry-run]           (legacy pages with no owner)
  audit          -slug <slug>
  mint-token     -uid <uid> [-ttl 1h]
`

// cli carries the process-wide state of one invocation.
type cli struct {
	cfg *config.Config
	log *zap.Logger
	out io.Writer
	now func() time.Time
}

func (c *cli) printJSON(v any) {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (c *cli) withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := buildApp(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// run dispatches one subcommand. It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, rest, err := config.Load("ledgerctl", args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if len(rest) < 1 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	log := zap.NewNop()
	if cfg.Dev {
		log, _ = zap.NewDevelopment()
	}
	c := &cli{cfg: cfg, log: log, out: stdout, now: time.Now}

	err = c.dispatch(ctx, rest[0], rest[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, err)
		fmt.Fprint(stderr, usageText)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {

	case "version":
		fmt.Fprintf(c.out, "ledgerctl %s (%s)\n", version, buildDate)
		return nil

	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
		status := fs.Bool("status", false, "print the applied version only")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if c.cfg.Dev {
			return errors.New("migrate needs a database; drop -dev")
		}
		if !*status {
			if err := migrate.Up(ctx, c.cfg.DatabaseDSN); err != nil {
				return err
			}
		}
		v, err := migrate.Version(ctx, c.cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		c.printJSON(map[string]int64{"version": v})
		return nil

	case "sweep":
		fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
		nowStr := fs.String("now", "", "override the current time (RFC3339)")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		now := c.now()
		if *nowStr != "" {
			t, err := time.Parse(time.RFC3339, *nowStr)
			if err != nil {
				return fmt.Errorf("%w: bad -now: %v", errUsage, err)
			}
			now = t
		}
		return c.withApp(ctx, func(a *app.App) error {
			rep, err := a.SweepOnce(ctx, now)
			c.printJSON(map[string]any{"deleted": nonNil(rep.Deleted), "purged": rep.Purged})
			return err
		})

	case "purge-expired":
		fs := flag.NewFlagSet("purge-expired", flag.ContinueOnError)
		todayStr := fs.String("today", "", "override today (YYYY-MM-DD)")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		today := civil.DateOf(c.now().UTC())
		if *todayStr != "" {
			d, err := civil.ParseDate(*todayStr)
			if err != nil {
				return fmt.Errorf("%w: bad -today: %v", errUsage, err)
			}
			today = d
		}
		return c.withApp(ctx, func(a *app.App) error {
			n, err := a.Lifecycle.PurgeExpiredMemories(ctx, today)
			c.printJSON(map[string]int{"purged": n})
			return err
		})

	case "assign-owner":
		fs := flag.NewFlagSet("assign-owner", flag.ContinueOnError)
		uid := fs.String("uid", "", "uid to become the sole owner")
		dryRun := fs.Bool("dry-run", false, "list pages without changing them")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if *uid == "" {
			return fmt.Errorf("%w: need -uid", errUsage)
		}
		return c.withApp(ctx, func(a *app.App) error {
			return c.assignOwner(ctx, a, *uid, *dryRun)
		})

	case "audit":
		fs := flag.NewFlagSet("audit", flag.ContinueOnError)
		slug := fs.String("slug", "", "page slug")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if *slug == "" {
			return fmt.Errorf("%w: need -slug", errUsage)
		}
		return c.withApp(ctx, func(a *app.App) error {
			entries, err := a.Stores.Audit.ListForPage(ctx, *slug)
			if err != nil {
				return err
			}
			c.printJSON(convert.ToAuditEntries(entries))
			return nil
		})

	case "mint-token":
		fs := flag.NewFlagSet("mint-token", flag.ContinueOnError)
		uid := fs.String("uid", "", "token subject")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		if err := fs.Parse(args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if *uid == "" {
			return fmt.Errorf("%w: need -uid", errUsage)
		}
		if err := c.cfg.RequireJWTKey(); err != nil {
			return err
		}
		tok, exp, err := auth.Mint([]byte(c.cfg.JWTKey), c.cfg.JWTIssuer, *uid, *ttl, c.now())
		if err != nil {
			return err
		}
		c.printJSON(map[string]string{"token": tok, "expires_at": exp.UTC().Format(time.RFC3339)})
		return nil

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// assignOwner makes uid the sole owner of every legacy page without owners.
func (c *cli) assignOwner(ctx context.Context, a *app.App, uid string, dryRun bool) error {
	slugs, err := a.Stores.Pages.ListOwnerless(ctx)
	if err != nil {
		return err
	}
	assigned := []string{}
	var failed []error
	for _, slug := range slugs {
		if dryRun {
			assigned = append(assigned, slug)
			continue
		}
		if err := a.Stores.Pages.AssignOwnerIfOwnerless(ctx, slug, uid); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", slug, err))
			continue
		}
		assigned = append(assigned, slug)
		a.Audit.Record(ctx, slug, model.ActionOwnerAssigned, model.SystemActor, uid,
			map[string]string{"via": "assign-owner"})
	}
	c.printJSON(map[string]any{"dry_run": dryRun, "pages": assigned})
	return errors.Join(failed...)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
