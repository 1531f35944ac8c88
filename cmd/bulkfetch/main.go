// Command bulkfetch fetches many records from a web source concurrently,
// either as a one-shot CLI run or as an HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/bulkfetch/pkg/logging"
)

const defaultUserAgent = "bulkfetch/0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	var (
		logLevel  string
		logPretty bool
	)

	root := &cobra.Command{
		Use:           "bulkfetch",
		Short:         "Fetch many records from a web source concurrently",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logging.Setup(logging.Config{
				Level:  level,
				Pretty: logPretty,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", getEnv("BULKFETCH_LOG_LEVEL", "info"), "log level (debug, info, warn, error, disabled)")
	root.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "human-readable log output")

	root.AddCommand(newRunCmd(), newServeCmd())
	return root
}

// newRedis connects to redisURL, which is either a redis:// URL or a
// host:port address. An empty URL returns nil.
func newRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return client, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
