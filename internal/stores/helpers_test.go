package stores

import (
	"testing"

	"github.com/FebinAugustine/dirauth/internal"
	"github.com/FebinAugustine/dirauth/internal/ephemeral"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*ephemeral.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return ephemeral.New(rdb), mr
}

func codeDigestForTest(code string) string {
	return internal.CodeDigest(code)
}
