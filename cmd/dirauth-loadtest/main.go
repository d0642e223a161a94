// Command dirauth-loadtest drives the auth flows against an in-process
// engine and reports throughput and latency per phase.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/FebinAugustine/dirauth"
	"github.com/FebinAugustine/dirauth/internal/directory/memory"
	"github.com/FebinAugustine/dirauth/internal/mail"
	"github.com/FebinAugustine/dirauth/password"
)

var (
	confirmRE = regexp.MustCompile(`/confirm/([A-Za-z0-9_-]+)`)
	codeRE    = regexp.MustCompile(`login code is ([0-9]+)`)
)

// inbox keeps the latest message per recipient and kind.
type inbox struct {
	mu   sync.Mutex
	last map[string]string
}

func (b *inbox) Send(_ context.Context, msg mail.Message) error {
	b.mu.Lock()
	b.last[msg.Kind+"|"+msg.To] = msg.Body
	b.mu.Unlock()
	return nil
}

func (b *inbox) extract(kind, to string, re *regexp.Regexp) (string, error) {
	b.mu.Lock()
	body := b.last[kind+"|"+to]
	b.mu.Unlock()
	m := re.FindStringSubmatch(body)
	if len(m) != 2 {
		return "", fmt.Errorf("no %s mail for %s", kind, to)
	}
	return m[1], nil
}

type account struct {
	email   string
	mu      sync.Mutex
	access  string
	refresh string
}

const accountPassword = "load-test-password"

func main() {
	var (
		accounts    = flag.Int("accounts", 1000, "number of identities to register")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per authenticate/refresh phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		argonMemKB  = flag.Uint("argon-memory", 8*1024, "argon2id memory in KiB")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := dirauth.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("load-test-signing-key-0123456789abcdef")
	cfg.Password = password.Config{
		Memory:      uint32(*argonMemKB),
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Audit.Enabled = false

	box := &inbox{last: make(map[string]string)}
	engine, err := dirauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithDirectory(memory.New()).
		WithMailer(box).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]*account, *accounts)
	for i := range states {
		states[i] = &account{email: fmt.Sprintf("user%d@load.test", i)}
	}

	signup := runPhase(len(states), *concurrency, func(i, _ int, _ *rand.Rand) error {
		return signupAndLogin(engine, box, states[i], i)
	})
	validate := runPhase(*ops, *concurrency, func(_, _ int, r *rand.Rand) error {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		token := st.access
		st.mu.Unlock()
		_, err := engine.Authenticate(context.Background(), token)
		return err
	})
	refresh := runPhase(*ops, *concurrency, func(_, _ int, r *rand.Rand) error {
		st := states[r.Intn(len(states))]
		st.mu.Lock()
		token := st.refresh
		st.mu.Unlock()
		res, err := engine.Refresh(context.Background(), token)
		if err != nil {
			return err
		}
		st.mu.Lock()
		st.access = res.Access.Value
		st.mu.Unlock()
		return nil
	})

	fmt.Println("---- results ----")
	printStats("signup+login", signup)
	printStats("authenticate", validate)
	printStats("refresh", refresh)
}

// signupAndLogin runs register, confirm, login and verify for one account.
// Each account gets its own client address so the cool-down keys never collide.
func signupAndLogin(engine *dirauth.Engine, box *inbox, st *account, i int) error {
	ctx := dirauth.WithClientIP(context.Background(), fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff))

	if _, err := engine.Register(ctx, dirauth.RegisterRequest{Name: "Load", Email: st.email, Password: accountPassword}); err != nil {
		return err
	}
	token, err := box.extract(mail.KindConfirmation, st.email, confirmRE)
	if err != nil {
		return err
	}
	if _, err := engine.Confirm(ctx, token); err != nil {
		return err
	}
	if _, err := engine.Login(ctx, dirauth.LoginRequest{Email: st.email, Password: accountPassword}); err != nil {
		return err
	}
	code, err := box.extract(mail.KindLoginCode, st.email, codeRE)
	if err != nil {
		return err
	}
	grant, err := engine.VerifyOTP(ctx, dirauth.OTPRequest{Email: st.email, Code: code})
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.access = grant.Access.Value
	st.refresh = grant.Refresh.Value
	st.mu.Unlock()
	return nil
}

func runPhase(ops, concurrency int, op func(i, worker int, r *rand.Rand) error) phaseStats {
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
				t0 := time.Now()
				err := op(i, worker, r)
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
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	success := 100.0
	if s.ops > 0 {
		success = 100 * float64(int64(s.ops)-s.failures) / float64(s.ops)
	}
	fmt.Printf("%s: ops=%d failures=%d success=%.2f%% total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		success,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
