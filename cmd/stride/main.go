// Command stride is the operational CLI: inspect jobs and their
// execution state, and manage the dead letter queue.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/stride/store"
	"github.com/xraph/stride/store/postgres"
	"github.com/xraph/stride/store/redis"
	"github.com/xraph/stride/store/sqlite"
)

var (
	flagDriver string
	flagAddr   string
	flagDSN    string
	flagPath   string
)

func main() {
	root := &cobra.Command{
		Use:           "stride",
		Short:         "Inspect and operate a stride job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagDriver, "driver", "sqlite", "store driver: sqlite, postgres, redis")
	root.PersistentFlags().StringVar(&flagAddr, "addr", "localhost:6379", "redis address")
	root.PersistentFlags().StringVar(&flagDSN, "dsn", "", "postgres connection string")
	root.PersistentFlags().StringVar(&flagPath, "path", "stride.db", "sqlite database path")

	root.AddCommand(jobsCommand(), dlqCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openStore builds the store selected by the persistent flags.
func openStore(ctx context.Context) (store.Store, error) {
	switch flagDriver {
	case "sqlite":
		return sqlite.Open(flagPath)
	case "postgres":
		if flagDSN == "" {
			return nil, fmt.Errorf("--dsn is required for the postgres driver")
		}

		return postgres.New(ctx, flagDSN)
	case "redis":
		return redis.Open(flagAddr), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", flagDriver)
	}
}
