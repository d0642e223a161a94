package dirauth

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/FebinAugustine/dirauth/internal/directory/memory"
)

// cmdCounter is a go-redis hook counting commands, with pipelines counted
// per command.
type cmdCounter struct {
	commands atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func newCountedEnv(t *testing.T) (*testEnv, *cmdCounter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	counter := &cmdCounter{}
	rdb.AddHook(counter)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}

	env := &testEnv{mr: mr, dir: memory.New(), mailer: &recordingMailer{}}
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithDirectory(env.dir).
		WithMailer(env.mailer).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine
	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env, counter
}

func TestAuthenticateTouchesNoStore(t *testing.T) {
	env, counter := newCountedEnv(t)
	env.signup(t, testEmail, testPassword)
	grant := env.login(t, "10.9.0.1", testEmail, testPassword)

	counter.commands.Store(0)
	if _, err := env.engine.Authenticate(context.Background(), grant.Access.Value); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if n := counter.commands.Load(); n != 0 {
		t.Fatalf("Authenticate used %d redis commands, want 0", n)
	}
}

func TestRefreshRedisBudget(t *testing.T) {
	env, counter := newCountedEnv(t)
	env.signup(t, testEmail, testPassword)
	grant := env.login(t, "10.9.0.2", testEmail, testPassword)

	// first call may load scripts
	if _, err := env.engine.Refresh(context.Background(), grant.Refresh.Value); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	counter.commands.Store(0)
	if _, err := env.engine.Refresh(context.Background(), grant.Refresh.Value); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	n := counter.commands.Load()
	if n > 6 {
		t.Fatalf("Refresh used %d redis commands; budget is 6", n)
	}
	t.Logf("Refresh: %d commands", n)
}
