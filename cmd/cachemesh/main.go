// Command cachemesh is a smoke-test harness for the cache optimizer. It
// wires up whichever tiers are reachable, runs a small read/write loop,
// and prints the resulting metrics. Useful for verifying a deployment's
// Redis and Postgres connectivity before an application takes traffic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/viper"

	"github.com/cachemesh/cachemesh/pkg/cache"
	"github.com/cachemesh/cachemesh/pkg/observability"
)

var (
	configPath  = flag.String("config", "", "Path to config file (optional)")
	redisAddr   = flag.String("redis", "", "Redis address for the L2 tier, e.g. localhost:6379")
	postgresDSN = flag.String("postgres", "", "Postgres DSN for the L3 tier")
	keys        = flag.Int("keys", 100, "Number of keys to exercise")
	runFor      = flag.Duration("run-for", 10*time.Second, "How long to run the read loop")
)

func main() {
	flag.Parse()

	logger := observability.NewLogger("cachemesh")
	if err := run(logger); err != nil {
		log.Fatalf("cachemesh: %v", err)
	}
}

func run(logger observability.Logger) error {
	if *configPath != "" {
		viper.SetConfigFile(*configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	viper.SetEnvPrefix("CACHEMESH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg, err := cache.LoadConfigFromViper()
	if err != nil {
		return err
	}

	opts := []cache.Option[string]{cache.WithLogger[string](logger)}

	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: *redisAddr})
		tier, err := cache.NewRedisTier(client, cache.RedisTierConfig{Timeout: cfg.TierTimeout}, logger)
		if err != nil {
			return err
		}
		opts = append(opts, cache.WithL2[string](tier))
		logger.Info("l2 tier wired", map[string]interface{}{"addr": *redisAddr})
	}

	if *postgresDSN != "" {
		db, err := sqlx.Connect("postgres", *postgresDSN)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if _, err := db.Exec(cache.PostgresSchema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		tier, err := cache.NewPostgresTier(db, cache.PostgresTierConfig{Timeout: cfg.TierTimeout}, logger)
		if err != nil {
			return err
		}
		opts = append(opts, cache.WithL3[string](tier))
		logger.Info("l3 tier wired", nil)
	}

	c, err := cache.New[string](cfg, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := c.Stop(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", map[string]interface{}{"error": err.Error()})
		}
		_ = c.Close()
	}()

	if err := exercise(ctx, c); err != nil {
		return err
	}

	return report(c)
}

// exercise writes a keyspace once, then reads it with a skewed
// distribution so some keys go hot and others stay cold.
func exercise(ctx context.Context, c *cache.Cache[string]) error {
	for i := 0; i < *keys; i++ {
		key := fmt.Sprintf("item_%d", i)
		if err := c.Set(ctx, "smoke", key, strings.Repeat(key+" ", 64), 5*time.Minute); err != nil {
			return err
		}
	}

	deadline := time.After(*runFor)
	i := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		default:
		}

		// Quadratic skew concentrates reads on the low keys
		key := fmt.Sprintf("item_%d", (i*i)%*keys)
		_, _, err := c.Get(ctx, "smoke", key, func(context.Context) (string, error) {
			return "recomputed " + key, nil
		}, 5*time.Minute)
		if err != nil {
			return err
		}
		i++
		time.Sleep(10 * time.Millisecond)
	}
}

func report(c *cache.Cache[string]) error {
	snapshot := c.Metrics()
	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
