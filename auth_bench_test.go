package dirauth

import (
	"testing"
)

func BenchmarkAuthenticate(b *testing.B) {
	env := newTestEnv(b)
	env.signup(b, testEmail, testPassword)
	grant := env.login(b, "10.0.0.2", testEmail, testPassword)
	ctx := ipContext("10.0.0.2")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.Authenticate(ctx, grant.Access.Value); err != nil {
			b.Fatalf("Authenticate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	env := newTestEnv(b)
	env.signup(b, testEmail, testPassword)
	grant := env.login(b, "10.0.0.2", testEmail, testPassword)
	ctx := ipContext("10.0.0.2")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.Refresh(ctx, grant.Refresh.Value); err != nil {
			b.Fatalf("Refresh failed: %v", err)
		}
	}
}
