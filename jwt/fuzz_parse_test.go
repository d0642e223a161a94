package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// FuzzValidate exercises the parser with arbitrary token strings.
// Goal: no panics; invalid inputs must be rejected with errors.
func FuzzValidate(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	mgr, err := NewManager(Config{
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "fuzz-test",
		Leeway:        30 * time.Second,
		MaxFutureIAT:  10 * time.Minute,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub},
	})
	if err != nil {
		f.Fatal(err)
	}

	validToken, err := mgr.MintRefresh("uid1", "sid1")
	if err != nil {
		f.Fatal(err)
	}

	f.Add(validToken.Value)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJFZERTQSJ9.eyJ1aWQiOiJ0ZXN0In0.invalid")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ0ZXN0In0.")

	f.Fuzz(func(t *testing.T, input string) {
		for _, typ := range []TokenType{TypeAccess, TypeRefresh} {
			claims, err := mgr.Validate(input, typ)
			if err != nil {
				continue
			}
			if claims == nil || claims.Type != typ {
				t.Fatalf("Validate accepted %q with claims %+v", input, claims)
			}
		}
	})
}
