package dirauth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/FebinAugustine/dirauth/internal/directory/memory"
	"github.com/FebinAugustine/dirauth/internal/mail"
	"github.com/FebinAugustine/dirauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "a@x.com"
	testPassword = "correct-horse-battery"
)

var (
	confirmLinkRE = regexp.MustCompile(`/confirm/([A-Za-z0-9_-]+)`)
	resetLinkRE   = regexp.MustCompile(`/password/reset/([A-Za-z0-9_-]+)`)
	loginCodeRE   = regexp.MustCompile(`login code is ([0-9]+)`)
)

// recordingMailer keeps every message it is asked to send.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	fail error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) setFailure(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) last(t testing.TB, kind string) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i]
		}
	}
	t.Fatalf("no %s message sent", kind)
	return mail.Message{}
}

func extract(t testing.TB, re *regexp.Regexp, body string) string {
	t.Helper()
	match := re.FindStringSubmatch(body)
	if len(match) != 2 {
		t.Fatalf("pattern %q not found in %q", re, body)
	}
	return match[1]
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	dir    *memory.Directory
	mailer *recordingMailer
}

func fastPasswordConfig() password.Config {
	return password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = fastPasswordConfig()
	cfg.Audit.Enabled = false
	return cfg
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig(), nil)
}

func newTestEnvWithConfig(t testing.TB, cfg Config, sink AuditSink) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	env := &testEnv{
		mr:     mr,
		dir:    memory.New(),
		mailer: &recordingMailer{},
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(env.dir).
		WithMailer(env.mailer)
	if sink != nil {
		b = b.WithAuditSink(sink)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func ipContext(ip string) context.Context {
	return WithClientIP(context.Background(), ip)
}

// signup registers and confirms an identity.
func (env *testEnv) signup(t testing.TB, email, pw string) Confirmation {
	t.Helper()
	ctx := ipContext("10.0.0.1")

	if _, err := env.engine.Register(ctx, RegisterRequest{Name: "Ann", Email: email, Password: pw}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token := extract(t, confirmLinkRE, env.mailer.last(t, mail.KindConfirmation).Body)

	conf, err := env.engine.Confirm(ctx, token)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	return conf
}

// login runs both factors from ip and returns the session grant.
func (env *testEnv) login(t testing.TB, ip, email, pw string) SessionGrant {
	t.Helper()
	ctx := ipContext(ip)

	if _, err := env.engine.Login(ctx, LoginRequest{Email: email, Password: pw}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	code := extract(t, loginCodeRE, env.mailer.last(t, mail.KindLoginCode).Body)

	grant, err := env.engine.VerifyOTP(ctx, OTPRequest{Email: email, Code: code})
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}
	return grant
}

func requireKind(t testing.TB, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if e.Kind != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, e.Kind, err)
	}
}
