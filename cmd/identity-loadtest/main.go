// Command identity-loadtest measures ValidateAccessToken and Refresh
// throughput against a Redis-backed engine over the in-memory store.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand/v2"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/config"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/store"
	"github.com/MrEthical07/goIdentity/store/memory"
)

type loggedIn struct {
	access  string
	refresh string
}

type options struct {
	users, perUser, concurrency, ops int
	redisAddr                        string
}

func main() {
	var o options
	flag.IntVar(&o.users, "users", 200, "number of users to seed")
	flag.IntVar(&o.perUser, "sessions-per-user", 5, "sessions opened per user")
	flag.IntVar(&o.concurrency, "concurrency", 64, "number of concurrent workers")
	flag.IntVar(&o.ops, "ops", 50000, "operations per phase (validate + refresh)")
	flag.StringVar(&o.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; miniredis when empty")
	flag.Parse()

	if err := run(context.Background(), o); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() { _ = client.Close(); mr.Close() }, nil
}

func run(ctx context.Context, o options) error {
	if o.users <= 0 || o.perUser <= 0 || o.concurrency <= 0 || o.ops <= 0 {
		return errors.New("users, sessions-per-user, concurrency and ops must be positive")
	}

	client, closeRedis, err := openRedis(o.redisAddr)
	if err != nil {
		return err
	}
	defer closeRedis()

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = make([]byte, 32)
	if _, err := rand.Read(cfg.JWT.PrivateKey); err != nil {
		return fmt.Errorf("secret: %w", err)
	}

	db := memory.New()
	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithStore(db).
		WithRedis(client).
		WithConfigProvider(config.NewStatic(map[string]string{
			config.KeySingleSessionEnforced: "false",
		})).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users x %d sessions...\n", o.users, o.perUser)
	began := time.Now()
	states, err := seed(ctx, engine, db, cfg.Password, o.users, o.perUser)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Printf("seeded in %s\n", time.Since(began).Round(time.Millisecond))

	validate := runPhase(len(states), o.ops, o.concurrency, func(i int) error {
		_, err := engine.ValidateAccessToken(ctx, states[i].access)
		return err
	})
	refresh := runPhase(len(states), o.ops, o.concurrency, func(i int) error {
		_, err := engine.Refresh(ctx, states[i].refresh)
		return err
	})

	fmt.Println("---- results ----")
	validate.print("validate")
	refresh.print("refresh")
	fmt.Printf("validate_failures_metric=%d\n", engine.MetricsSnapshot().Counters[goIdentity.MetricSessionValidateFailure])
	return nil
}

func seed(ctx context.Context, engine *goIdentity.Engine, db *memory.Store, pc goIdentity.PasswordConfig, users, perUser int) ([]loggedIn, error) {
	hasher, err := password.NewArgon2(password.Config{
		Memory:      pc.Memory,
		Time:        pc.Time,
		Parallelism: pc.Parallelism,
		SaltLength:  pc.SaltLength,
		KeyLength:   pc.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	const secret = "Load-test-pass1!"
	hash, err := hasher.Hash(secret)
	if err != nil {
		return nil, err
	}

	out := make([]loggedIn, 0, users*perUser)
	for u := 0; u < users; u++ {
		id := "user-" + strconv.Itoa(u)
		if err := db.CreateUser(ctx, &store.User{
			ID:           id,
			Username:     id,
			Email:        id + "@example.com",
			PasswordHash: hash,
		}); err != nil {
			return nil, err
		}
		for s := 0; s < perUser; s++ {
			res, err := engine.Login(ctx, goIdentity.LoginRequest{Identifier: id, Password: secret})
			if err != nil {
				return nil, err
			}
			out = append(out, loggedIn{access: res.AccessToken, refresh: res.RefreshToken})
		}
	}
	return out, nil
}

// runPhase feeds ops random state indexes to concurrency workers. Each
// worker keeps its own samples; they are merged once all finish.
func runPhase(n, ops, concurrency int, op func(i int) error) phaseStats {
	work := make(chan int, concurrency)
	results := make([]phaseStats, concurrency)

	var wg sync.WaitGroup
	began := time.Now()
	for w := range results {
		wg.Add(1)
		go func(r *phaseStats) {
			defer wg.Done()
			for i := range work {
				t0 := time.Now()
				if err := op(i); err != nil {
					r.failures++
				}
				r.samples = append(r.samples, time.Since(t0))
			}
		}(&results[w])
	}
	for k := 0; k < ops; k++ {
		work <- mrand.IntN(n)
	}
	close(work)
	wg.Wait()

	total := phaseStats{elapsed: time.Since(began), samples: make([]time.Duration, 0, ops)}
	for _, r := range results {
		total.failures += r.failures
		total.samples = append(total.samples, r.samples...)
	}
	slices.Sort(total.samples)
	return total
}

type phaseStats struct {
	elapsed  time.Duration
	failures int
	samples  []time.Duration
}

// quantile expects sorted samples.
func (s phaseStats) quantile(q float64) time.Duration {
	if len(s.samples) == 0 {
		return 0
	}
	return s.samples[int(q*float64(len(s.samples)-1))]
}

func (s phaseStats) print(name string) {
	var rate float64
	if s.elapsed > 0 {
		rate = float64(len(s.samples)) / s.elapsed.Seconds()
	}
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name, len(s.samples), s.failures, s.elapsed.Round(time.Millisecond), rate,
		s.quantile(0.50).Round(time.Microsecond),
		s.quantile(0.95).Round(time.Microsecond),
		s.quantile(0.99).Round(time.Microsecond))
}
