package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// minRefresh bounds how often an unknown kid can trigger a JWKS fetch.
const minRefresh = time.Minute

var ErrUnknownKey = errors.New("keycloak: no signing key for token")

// Client resolves realm signing keys for RS256 access tokens issued by
// Keycloak. Keys are cached by kid and refetched when a token names a kid the
// cache does not know, e.g. after a key rotation.
type Client struct {
	certsURL string
	http     *http.Client
	logger   *zap.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewClient(baseURL, realm string, logger *zap.Logger) *Client {
	return &Client{
		certsURL: fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", baseURL, realm),
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(zap.String("component", "keycloak")),
		keys:     map[string]*rsa.PublicKey{},
	}
}

// Keyfunc is a jwt.Keyfunc for RSA signed tokens.
func (c *Client) Keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)

	if key := c.lookup(kid); key != nil {
		return key, nil
	}

	c.mu.RLock()
	recent := time.Since(c.fetchedAt) < minRefresh
	c.mu.RUnlock()
	if recent {
		return nil, ErrUnknownKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.fetchKeys(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch public keys: %w", err)
	}

	if key := c.lookup(kid); key != nil {
		return key, nil
	}
	return nil, ErrUnknownKey
}

// lookup returns the key for kid. A token without kid matches when the realm
// publishes exactly one key.
func (c *Client) lookup(kid string) *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if kid != "" {
		return c.keys[kid]
	}
	if len(c.keys) == 1 {
		for _, k := range c.keys {
			return k
		}
	}
	return nil
}

func (c *Client) fetchKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.certsURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode jwks: %w", err)
	}

	keys := map[string]*rsa.PublicKey{}
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		publicKey, err := parseJWK(key.N, key.E)
		if err != nil {
			c.logger.Warn("Skipping malformed signing key", zap.String("kid", key.Kid), zap.Error(err))
			continue
		}
		keys[key.Kid] = publicKey
	}

	c.mu.Lock()
	c.fetchedAt = time.Now()
	if len(keys) > 0 {
		c.keys = keys
	}
	c.mu.Unlock()

	if len(keys) == 0 {
		return errors.New("no suitable RSA signing key found")
	}
	c.logger.Info("Loaded realm signing keys", zap.Int("keys", len(keys)))
	return nil
}

func parseJWK(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}

	eBig := new(big.Int).SetBytes(eBytes)
	if !eBig.IsInt64() || eBig.Int64() < 3 {
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(eBig.Int64()),
	}, nil
}
