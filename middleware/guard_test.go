package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/directory/redisdir"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// managerVerifier enforces the access kind the way the engine does.
type managerVerifier struct {
	m *jwt.Manager
}

func (v managerVerifier) Verify(token string) (*jwt.Claims, error) { return v.m.Verify(token) }

func (v managerVerifier) VerifyAccess(token string) (*jwt.Claims, error) {
	claims, err := v.m.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != jwt.KindAccess {
		return nil, authgate.ErrWrongKind
	}
	return claims, nil
}

func newVerifier(t *testing.T) managerVerifier {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{Secret: []byte("middleware-test-secret-32-bytes!")})
	require.NoError(t, err)
	return managerVerifier{m: m}
}

func issue(t *testing.T, v managerVerifier, ttl time.Duration, kind jwt.Kind) string {
	t.Helper()
	token, err := v.m.Issue("alice@x", ttl, kind)
	require.NoError(t, err)
	return token
}

// recorder records whether it ran and echoes the subject it saw.
type recorder struct {
	called bool
	claims *jwt.Claims
}

func (p *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.called = true
	p.claims, _ = ClaimsFromContext(r.Context())
	w.Header().Set("X-Handler", "recorder")
	w.WriteHeader(http.StatusTeapot)
	_, _ = w.Write([]byte("downstream body"))
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected/profile", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardPassesValidAccessToken(t *testing.T) {
	v := newVerifier(t)
	p := &recorder{}

	rec := serve(Guard(v)(p), "Bearer "+issue(t, v, time.Minute, jwt.KindAccess))

	require.True(t, p.called)
	require.NotNil(t, p.claims)
	assert.Equal(t, "alice@x", p.claims.Subject)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "recorder", rec.Header().Get("X-Handler"))
	assert.Equal(t, "downstream body", rec.Body.String())
}

func TestGuardRejects(t *testing.T) {
	v := newVerifier(t)
	valid := issue(t, v, time.Minute, jwt.KindAccess)

	cases := map[string]string{
		"missing header":   "",
		"wrong scheme":     "Basic " + valid,
		"lowercase bearer": "bearer " + valid,
		"empty token":      "Bearer ",
		"garbage":          "Bearer not-a-token",
		"expired":          "Bearer " + issue(t, v, -time.Second, jwt.KindAccess),
		"tampered":         "Bearer " + valid[:len(valid)-4] + "AAAA",
		"refresh kind":     "Bearer " + issue(t, v, time.Minute, jwt.KindRefresh),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			p := &recorder{}
			rec := serve(Guard(v)(p), header)

			assert.False(t, p.called, "downstream handler must not run")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
		})
	}
}

func TestGuardAnyKindAcceptsRefresh(t *testing.T) {
	v := newVerifier(t)
	p := &recorder{}

	serve(Guard(v, WithAnyKind())(p), "Bearer "+issue(t, v, time.Minute, jwt.KindRefresh))

	require.True(t, p.called)
	assert.Equal(t, jwt.KindRefresh, p.claims.Kind)
}

func TestGuardNilVerifier(t *testing.T) {
	p := &recorder{}
	rec := serve(Guard(nil)(p), "Bearer x")
	assert.False(t, p.called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClaimsFromContextEmpty(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)
}

func TestRequireAuthWithEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := redisdir.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "mw")
	t.Cleanup(func() { _ = dir.Close() })

	cfg := authgate.DefaultConfig()
	cfg.JWT.Secret = []byte("middleware-engine-secret-32-byte")
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	engine, err := authgate.New().WithConfig(cfg).WithDirectory(dir).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ctx := context.Background()
	_, err = engine.Register(ctx, "alice", "alice@x", "pw1")
	require.NoError(t, err)
	pair, err := engine.Login(ctx, "alice@x", "pw1")
	require.NoError(t, err)

	p := &recorder{}
	rec := serve(RequireAuth(engine)(p), "Bearer "+pair.AccessToken)
	require.True(t, p.called)
	assert.Equal(t, http.StatusTeapot, rec.Code)

	p = &recorder{}
	rec = serve(RequireAuth(engine)(p), "Bearer "+pair.RefreshToken)
	assert.False(t, p.called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	p = &recorder{}
	serve(RequireAnyKind(engine)(p), "Bearer "+pair.RefreshToken)
	assert.True(t, p.called)

	p = &recorder{}
	rec = serve(RequireAuth(nil)(p), "Bearer "+pair.AccessToken)
	assert.False(t, p.called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
