// Command marketctl runs operator tasks against the market database:
// listing securities, inspecting portfolios, enforcing margin and running
// season transitions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fsm/market-engine/internal/config"
	"github.com/fsm/market-engine/internal/engine"
	"github.com/fsm/market-engine/internal/store"
)

const usage = `usage: marketctl [-config path] <command> [args]

commands:
  securities                 list securities with spot and fundamental prices
  portfolio <account-id>     show an account's risk snapshot
  enforce-margin <account-id>
  close-season <season>
  reset-season <season>
`

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "marketctl:", err)
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid arguments")

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	if cfg.Storage.DatabaseURL == "" {
		return errors.New("database_url is not configured")
	}
	params, err := cfg.MarketParams()
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	eng, err := engine.New(store.NewPostgresStore(pool), params)
	if err != nil {
		return err
	}
	return dispatch(ctx, eng, args, out)
}

// dispatch runs one command against eng.
func dispatch(ctx context.Context, eng *engine.Engine, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "securities":
		views, err := eng.ListSecurities(ctx, "")
		if err != nil {
			return err
		}
		renderSecurities(out, views)

	case "portfolio":
		if len(rest) != 1 {
			return errUsage
		}
		snap, err := eng.Portfolio(ctx, rest[0])
		if err != nil {
			return err
		}
		renderPortfolio(out, snap)

	case "enforce-margin":
		if len(rest) != 1 {
			return errUsage
		}
		report, err := eng.EnforceMargin(ctx, rest[0])
		if err != nil {
			return err
		}
		renderMargin(out, report)

	case "close-season", "reset-season":
		if len(rest) != 1 {
			return errUsage
		}
		season, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("season %q: %w", rest[0], errUsage)
		}
		if cmd == "close-season" {
			res, err := eng.CloseSeason(ctx, season)
			if err != nil {
				return err
			}
			renderClose(out, *res)
			return nil
		}
		res, err := eng.ResetSeason(ctx, season)
		if err != nil {
			return err
		}
		renderReset(out, *res)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
	return nil
}
