package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/directory/redisdir"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type identityState struct {
	email   string
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		identities  = flag.Int("identities", 200, "number of identities to register")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		contenders  = flag.Int("contenders", 8, "goroutines racing on each refresh token in the contention phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "agload", "identity key prefix")
		memoryKB    = flag.Uint("argon2-memory", 8192, "argon2id memory in KiB")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 || *contenders <= 0 {
		fmt.Fprintln(os.Stderr, "identities, concurrency, ops and contenders must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	dir := redisdir.New(client, *prefix)
	defer dir.Close()

	cfg := authgate.DefaultConfig()
	cfg.JWT.Secret = []byte("authgate-loadtest-secret-0123456")
	cfg.Password.Memory = uint32(*memoryKB)
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MaxConcurrent = int64(*concurrency)

	engine, err := authgate.New().WithConfig(cfg).WithDirectory(dir).Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("registering %d identities...\n", *identities)
	startSeed := time.Now()
	states, err := seed(ctx, engine, *identities, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runVerifyPhase(engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)
	contention := runContentionPhase(ctx, engine, states, *contenders)

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("refresh", refreshStats)
	fmt.Printf("contention: rounds=%d winners=%d cas_conflicts=%d other_failures=%d\n",
		contention.rounds, contention.winners, contention.conflicts, contention.failures)

	snap := engine.MetricsSnapshot()
	fmt.Printf("engine: refresh_success=%d refresh_mismatch=%d gate_rejected=%d\n",
		snap.Counters[authgate.MetricRefreshSuccess],
		snap.Counters[authgate.MetricRefreshMismatch],
		snap.Counters[authgate.MetricGateRejected],
	)
}

func seed(ctx context.Context, engine *authgate.Engine, n int, prefix string) ([]*identityState, error) {
	states := make([]*identityState, n)
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("%s-%d@load.test", prefix, i)
		if _, err := engine.Register(ctx, fmt.Sprintf("user%d", i), email, "load-password"); err != nil && !errors.Is(err, authgate.ErrEmailExists) {
			return nil, err
		}
		pair, err := engine.Login(ctx, email, "load-password")
		if err != nil {
			return nil, err
		}
		states[i] = &identityState{email: email, access: pair.AccessToken, refresh: pair.RefreshToken}
	}
	return states, nil
}

func runVerifyPhase(engine *authgate.Engine, states []*identityState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]
				state.mu.Lock()
				token := state.access
				state.mu.Unlock()

				t0 := time.Now()
				_, err := engine.VerifyAccess(token)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runRefreshPhase rotates tokens with one holder per identity, so every
// failure here is a real error rather than a lost race.
func runRefreshPhase(ctx context.Context, engine *authgate.Engine, states []*identityState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]

				state.mu.Lock()
				t0 := time.Now()
				pair, err := engine.Refresh(ctx, state.refresh)
				d := time.Since(t0)
				if err == nil {
					state.access, state.refresh = pair.AccessToken, pair.RefreshToken
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type contentionStats struct {
	rounds    int
	winners   int64
	conflicts int64
	failures  int64
}

// runContentionPhase presents each identity's refresh token from several
// goroutines at once. Exactly one per round should win.
func runContentionPhase(ctx context.Context, engine *authgate.Engine, states []*identityState, contenders int) contentionStats {
	var stats contentionStats
	for _, state := range states {
		stats.rounds++
		token := state.refresh

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			winner authgate.TokenPair
		)
		for c := 0; c < contenders; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				pair, err := engine.Refresh(ctx, token)
				switch {
				case err == nil:
					atomic.AddInt64(&stats.winners, 1)
					mu.Lock()
					winner = pair
					mu.Unlock()
				case errors.Is(err, authgate.ErrRefreshMismatch):
					atomic.AddInt64(&stats.conflicts, 1)
				default:
					atomic.AddInt64(&stats.failures, 1)
				}
			}()
		}
		wg.Wait()
		if winner.RefreshToken != "" {
			state.access, state.refresh = winner.AccessToken, winner.RefreshToken
		}
	}
	return stats
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
