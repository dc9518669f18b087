package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocklist-app/blocklist-server/internal/db"
	"github.com/blocklist-app/blocklist-server/internal/models"
	"github.com/blocklist-app/blocklist-server/internal/repository"
	"github.com/blocklist-app/blocklist-server/internal/repository/memstore"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func jwkFor(kid string, pub *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func jwksServer(t *testing.T, doc interface{}, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestCandidateURLs(t *testing.T) {
	got := CandidateURLs("https://idp.example/jwks", "https://idp.example/")

	assert.Equal(t, []string{
		"https://idp.example/jwks",
		"https://idp.example/auth/v1/keys",
		"https://idp.example/auth/v1/.well-known/jwks.json",
		"https://idp.example/auth/v1/jwks",
		"https://idp.example/keys",
		"https://idp.example/.well-known/jwks.json",
		"http://127.0.0.1:54321/auth/v1/keys",
		"http://127.0.0.1:54321/auth/v1/.well-known/jwks.json",
		"http://127.0.0.1:54321/keys",
		"http://127.0.0.1:54321/.well-known/jwks.json",
	}, got)

	local := CandidateURLs("", "http://127.0.0.1:54321")
	assert.Len(t, local, 5, "local defaults must be deduplicated")
}

func TestKeySet_CachesForTTL(t *testing.T) {
	key := generateKey(t)
	var hits int32
	srv := jwksServer(t, map[string]interface{}{"keys": []interface{}{jwkFor("k1", &key.PublicKey)}}, &hits)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ks := NewKeySet([]string{srv.URL}, time.Hour, time.Second, WithClock(func() time.Time { return now }))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		pub, err := ks.Key(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey.N, pub.N)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	now = now.Add(59 * time.Minute)
	_, err := ks.Key(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	now = now.Add(2 * time.Minute)
	_, err = ks.Key(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "expired cache refetches")
}

func TestKeySet_ProbesCandidatesInOrder(t *testing.T) {
	key := generateKey(t)

	notFound := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(notFound.Close)
	empty := jwksServer(t, map[string]interface{}{"keys": []interface{}{}}, nil)
	good := jwksServer(t, []interface{}{jwkFor("k1", &key.PublicKey)}, nil)

	ks := NewKeySet([]string{notFound.URL, empty.URL, good.URL}, time.Hour, time.Second)

	_, err := ks.Key(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, good.URL, ks.Source())
}

func TestKeySet_NoReachableEndpoint(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(notFound.Close)

	ks := NewKeySet([]string{notFound.URL}, time.Hour, time.Second)
	_, err := ks.Key(context.Background(), "k1")
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestKeySet_UnknownKid(t *testing.T) {
	key := generateKey(t)
	srv := jwksServer(t, map[string]interface{}{"keys": []interface{}{jwkFor("k1", &key.PublicKey)}}, nil)

	ks := NewKeySet([]string{srv.URL}, time.Hour, time.Second)
	_, err := ks.Key(context.Background(), "other")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestParseJWKS_X5C(t *testing.T) {
	key := generateKey(t)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	doc, err := json.Marshal(map[string]interface{}{
		"keys": []interface{}{
			map[string]interface{}{"kid": "cert", "kty": "RSA", "x5c": []string{base64.StdEncoding.EncodeToString(der)}},
			map[string]interface{}{"kid": "ec", "kty": "EC"},
		},
	})
	require.NoError(t, err)

	keys, err := ParseJWKS(doc)
	require.NoError(t, err)
	require.Contains(t, keys, "cert")
	assert.NotContains(t, keys, "ec")
	assert.Equal(t, key.PublicKey.N, keys["cert"].N)
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	token, expiresAt, err := issuer.Generate(models.Identity{ID: "7", Username: "alice", Email: "a@x.io", Role: models.RoleUser})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	identity, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "7", identity.ID)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, models.RoleUser, identity.Role)

	_, err = NewIssuer("other", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuer_Expired(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	issuer.nowFunc = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := issuer.Generate(models.Identity{ID: "1", Role: models.RoleUser})
	require.NoError(t, err)

	issuer.nowFunc = time.Now
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Bearer   abc ", "abc"},
		{"Basic abc", ""},
		{"abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BearerToken(tt.header), "header %q", tt.header)
	}
}

// failingIdentities reports every lookup as a connectivity failure.
type failingIdentities struct{}

func (failingIdentities) Lookup(context.Context, repository.IdentityTable, repository.IdentityField, string) (*repository.IdentityRecord, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func (failingIdentities) Ping(context.Context) error { return errors.New("connection refused") }

type authFixture struct {
	key   *rsa.PrivateKey
	local *memstore.Store
	auth  *Authenticator
}

func newAuthFixture(t *testing.T, external repository.IdentityRepository, local *memstore.Store) *authFixture {
	t.Helper()
	key := generateKey(t)
	srv := jwksServer(t, map[string]interface{}{"keys": []interface{}{jwkFor("k1", &key.PublicKey)}}, nil)
	ks := NewKeySet([]string{srv.URL}, time.Hour, time.Second)
	return &authFixture{
		key:   key,
		local: local,
		auth:  NewAuthenticator(ks, NewIssuer("secret", time.Hour), NewDirectory(external, local.Repositories().Identities)),
	}
}

func externalClaims(email, username string) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub":   "ext-123",
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	if username != "" {
		claims["user_metadata"] = map[string]interface{}{"username": username}
	}
	return claims
}

func TestAuthenticate_Errors(t *testing.T) {
	f := newAuthFixture(t, nil, memstore.New())
	ctx := context.Background()

	_, err := f.auth.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.auth.Authenticate(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.MapClaims{"sub": "x"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = f.auth.Authenticate(ctx, hs384)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	other := generateKey(t)
	forged := signRS256(t, other, "k1", externalClaims("a@x.io", "alice"))
	_, err = f.auth.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expiredClaims := externalClaims("a@x.io", "alice")
	expiredClaims["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = f.auth.Authenticate(ctx, signRS256(t, f.key, "k1", expiredClaims))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_LocalHS256(t *testing.T) {
	f := newAuthFixture(t, nil, memstore.New())
	token, _, err := NewIssuer("secret", time.Hour).Generate(models.Identity{ID: "9", Username: "root", Role: models.RoleAdmin})
	require.NoError(t, err)

	identity, err := f.auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, identity.Role)
	assert.Equal(t, "root", identity.Username)
}

func TestAuthenticate_ExternalStore(t *testing.T) {
	external := memstore.New()
	external.AddAdmin("a-1", "boss", "boss@x.io", "admin")
	require.NoError(t, external.Repositories().Users.Create(context.Background(),
		&models.User{Username: "alice", Email: "alice@x.io"}))

	f := newAuthFixture(t, external.Repositories().Identities, memstore.New())
	ctx := context.Background()

	t.Run("user by email", func(t *testing.T) {
		identity, err := f.auth.Authenticate(ctx, signRS256(t, f.key, "k1", externalClaims("alice@x.io", "")))
		require.NoError(t, err)
		assert.Equal(t, models.RoleUser, identity.Role)
		assert.Equal(t, "alice", identity.Username)
	})

	t.Run("admin by username", func(t *testing.T) {
		identity, err := f.auth.Authenticate(ctx, signRS256(t, f.key, "k1", externalClaims("other@x.io", "boss")))
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, identity.Role)
		assert.Equal(t, "a-1", identity.ID)
	})

	t.Run("unknown subject is not registered", func(t *testing.T) {
		_, err := f.auth.Authenticate(ctx, signRS256(t, f.key, "k1", externalClaims("ghost@x.io", "ghost")))
		assert.ErrorIs(t, err, ErrNotRegistered)
	})
}

func TestAuthenticate_ExternalUnreachableFallsBackToLocal(t *testing.T) {
	local := memstore.New()
	local.AddAdmin("l-1", "boss", "boss@x.io", "admin")

	f := newAuthFixture(t, failingIdentities{}, local)
	ctx := context.Background()

	identity, err := f.auth.Authenticate(ctx, signRS256(t, f.key, "k1", externalClaims("boss@x.io", "")))
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, identity.Role)

	identity, err = f.auth.Authenticate(ctx, signRS256(t, f.key, "k1", externalClaims("newbie@x.io", "")))
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, identity.Role, "unknown subjects never become admin")
	assert.Equal(t, "newbie", identity.Username)
	assert.Equal(t, "ext-123", identity.ID)
}

func TestAuthenticate_LocalStoreDown(t *testing.T) {
	local := memstore.New()
	local.Fail = errors.New("connection reset")

	f := newAuthFixture(t, nil, local)
	_, err := f.auth.Authenticate(context.Background(), signRS256(t, f.key, "k1", externalClaims("a@x.io", "")))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDirectory_LookupSkipsEmptyClaims(t *testing.T) {
	local := memstore.New()
	local.AddAdmin("1", "boss", "", "moderator")

	d := NewDirectory(nil, local.Repositories().Identities)
	res := d.Lookup(context.Background(), local.Repositories().Identities, Subject{Username: "boss"})

	require.Equal(t, OutcomeFound, res.Outcome)
	assert.Equal(t, models.Role("moderator"), res.Identity.Role)

	res = d.Lookup(context.Background(), local.Repositories().Identities, Subject{})
	assert.Equal(t, OutcomeNotFound, res.Outcome)

	_, err := failingIdentities{}.Lookup(context.Background(), repository.TableUsers, repository.FieldEmail, "x")
	assert.False(t, db.IsNotFound(err))
}
