package keycloak

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
)

func jwk(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kid": kid,
		"kty": "RSA",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

func TestKeyfunc_VerifiesRealmTokens(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realms/fleet/protocol/openid-connect/certs" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []any{jwk("k1", &priv.PublicKey)}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "fleet", zaptest.NewLogger(t))

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"organization": "acme",
		"exp":          time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	for i := 0; i < 2; i++ {
		parsed, err := jwt.Parse(signed, c.Keyfunc)
		if err != nil || !parsed.Valid {
			t.Fatalf("Parse: %v", err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("jwks fetched %d times", n)
	}

	// an unknown kid right after a fetch does not hammer the realm
	other := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{})
	other.Header["kid"] = "k2"
	otherSigned, _ := other.SignedString(priv)
	if _, err := jwt.Parse(otherSigned, c.Keyfunc); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("err=%v", err)
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("jwks fetched %d times", n)
	}

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{})
	hsSigned, _ := hs.SignedString([]byte("secret"))
	if _, err := jwt.Parse(hsSigned, c.Keyfunc); err == nil {
		t.Fatal("expected HMAC token to be rejected")
	}
}
