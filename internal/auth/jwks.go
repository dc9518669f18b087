package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blocklist-app/blocklist-server/internal/metrics"
	"github.com/blocklist-app/blocklist-server/pkg/logger"
)

const (
	localSupabaseURL = "http://127.0.0.1:54321"
	maxJWKSBody      = 1 << 20
)

// CandidateURLs lists the JWKS endpoints to probe, in order: the explicit URL,
// the well-known layouts under the provider base URL, then the local
// development defaults. Duplicates are removed.
func CandidateURLs(jwksURL, baseURL string) []string {
	var candidates []string
	if jwksURL != "" {
		candidates = append(candidates, jwksURL)
	}
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		candidates = append(candidates,
			base+"/auth/v1/keys",
			base+"/auth/v1/.well-known/jwks.json",
			base+"/auth/v1/jwks",
			base+"/keys",
			base+"/.well-known/jwks.json",
		)
	}
	candidates = append(candidates,
		localSupabaseURL+"/auth/v1/keys",
		localSupabaseURL+"/auth/v1/.well-known/jwks.json",
		localSupabaseURL+"/keys",
		localSupabaseURL+"/.well-known/jwks.json",
	)

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

type jwk struct {
	Kid string   `json:"kid"`
	Kty string   `json:"kty"`
	Alg string   `json:"alg"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	X5c []string `json:"x5c"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// KeySet caches the RSA public keys published by the identity provider. The
// cache is refreshed at most once per TTL; concurrent refreshes are serialized.
type KeySet struct {
	candidates   []string
	ttl          time.Duration
	fetchTimeout time.Duration
	client       *http.Client
	nowFunc      func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	source    string
}

// KeySetOption configures a KeySet.
type KeySetOption func(*KeySet)

// WithHTTPClient replaces the HTTP client used for fetching.
func WithHTTPClient(c *http.Client) KeySetOption {
	return func(k *KeySet) { k.client = c }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) KeySetOption {
	return func(k *KeySet) { k.nowFunc = now }
}

// NewKeySet creates a KeySet probing candidates in order.
func NewKeySet(candidates []string, ttl, fetchTimeout time.Duration, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		candidates:   candidates,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		client:       http.DefaultClient,
		nowFunc:      time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Key returns the public key for kid. An empty kid matches a single-key set.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	keys, err := k.current(ctx)
	if err != nil {
		return nil, err
	}
	if kid == "" && len(keys) == 1 {
		for _, key := range keys {
			return key, nil
		}
	}
	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
	}
	return key, nil
}

// Source returns the URL the cached keys were fetched from.
func (k *KeySet) Source() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.source
}

func (k *KeySet) current(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.nowFunc()
	if k.keys != nil && now.Sub(k.fetchedAt) < k.ttl {
		return k.keys, nil
	}

	for _, url := range k.candidates {
		keys, err := k.fetch(ctx, url)
		if err != nil {
			logger.Log.Debug("JWKS probe failed", zap.String("url", url), zap.Error(err))
			continue
		}
		if len(keys) == 0 {
			logger.Log.Debug("JWKS probe returned no keys", zap.String("url", url))
			continue
		}
		k.keys = keys
		k.fetchedAt = now
		k.source = url
		metrics.JWKSRefreshes.WithLabelValues("success").Inc()
		logger.Log.Info("JWKS fetched", zap.String("url", url), zap.Int("keys", len(keys)))
		return keys, nil
	}

	metrics.JWKSRefreshes.WithLabelValues("failure").Inc()
	logger.Log.Error("No reachable JWKS endpoint among candidates", zap.Int("candidates", len(k.candidates)))
	return nil, ErrNoKeys
}

func (k *KeySet) fetch(ctx context.Context, url string) (map[string]*rsa.PublicKey, error) {
	ctx, cancel := context.WithTimeout(ctx, k.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return ParseJWKS(body)
}

// ParseJWKS decodes a JWKS document, or a bare array of keys, into RSA public
// keys indexed by kid. Keys that are not usable RSA keys are skipped.
func ParseJWKS(body []byte) (map[string]*rsa.PublicKey, error) {
	var list []jwk
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode jwks: %w", err)
		}
	} else {
		var doc jwksDocument
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode jwks: %w", err)
		}
		list = doc.Keys
	}

	keys := make(map[string]*rsa.PublicKey, len(list))
	for _, key := range list {
		pub, err := key.publicKey()
		if err != nil {
			logger.Log.Debug("Skipping unusable JWK", zap.String("kid", key.Kid), zap.Error(err))
			continue
		}
		keys[key.Kid] = pub
	}
	return keys, nil
}

func (j jwk) publicKey() (*rsa.PublicKey, error) {
	if len(j.X5c) > 0 {
		der, err := base64.StdEncoding.DecodeString(j.X5c[0])
		if err != nil {
			return nil, fmt.Errorf("decode x5c: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse x5c: %w", err)
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("x5c certificate is not RSA")
		}
		return pub, nil
	}

	if j.Kty != "RSA" || j.N == "" || j.E == "" {
		return nil, fmt.Errorf("unsupported key type %q", j.Kty)
	}
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
