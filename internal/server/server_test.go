package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memopipe/internal/builtins"
	"memopipe/internal/core"
	"memopipe/internal/history"
	"memopipe/internal/pipeline"
	"memopipe/internal/store"
)

type fixture struct {
	handler http.Handler
	p       *pipeline.Pipeline
	hist    *history.Store
}

func newFixture(t *testing.T, auth AuthConfig) *fixture {
	t.Helper()
	reg := core.NewRegistry()
	a, err := builtins.Task("a", "const", core.Param("value", 3))
	require.NoError(t, err)
	b, err := builtins.Task("b", "mul", core.Ref("a"), core.Param("k", 2))
	require.NoError(t, err)
	require.NoError(t, reg.Register(a))
	require.NoError(t, reg.Register(b))

	hist, err := history.NewStore(t.TempDir())
	require.NoError(t, err)
	p, err := pipeline.New(reg.Snapshot(), store.NewMemoryStore(), pipeline.WithHistory(hist, 0))
	require.NoError(t, err)

	h, err := New(Config{Pipeline: p, History: hist, Auth: auth})
	require.NoError(t, err)
	return &fixture{handler: h, p: p, hist: hist}
}

func (f *fixture) get(t *testing.T, path string, headers map[string]string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func TestHealthAndGraph(t *testing.T) {
	f := newFixture(t, AuthConfig{})

	code, body := f.get(t, "/v1/health", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", decode[map[string]string](t, body)["status"])

	code, body = f.get(t, "/v1/graph", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	g := decode[graphBody](t, body)
	assert.Equal(t, []string{"a", "b"}, g.Tasks)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "a", g.Edges[0].From)
	assert.Equal(t, f.p.Graph().Hash().String(), g.GraphHash)

	code, body = f.get(t, "/v1/manifest", nil)
	require.Equal(t, http.StatusOK, code)
	m := decode[map[string]pipeline.ManifestEntry](t, body)
	assert.Equal(t, "mul@v1", m["b"].Identity)
}

func TestMetadataPlanAndRuns(t *testing.T) {
	f := newFixture(t, AuthConfig{})

	code, body := f.get(t, "/v1/plan", nil)
	require.Equal(t, http.StatusOK, code)
	plan := decode[[]pipeline.PlanEntry](t, body)
	require.Len(t, plan, 2)
	assert.Equal(t, pipeline.ActionRun, plan[0].Action)

	for i := 0; i < 2; i++ {
		_, err := f.p.RunPipeline(context.Background())
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	code, body = f.get(t, "/v1/metadata", nil)
	require.Equal(t, http.StatusOK, code)
	md := decode[map[string]store.RecordInfo](t, body)
	require.Len(t, md, 2)
	assert.Equal(t, int64(1), md["b"].Size)

	code, body = f.get(t, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, code)
	runs := decode[[]history.Run](t, body)
	require.Len(t, runs, 2)

	code, body = f.get(t, "/v1/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	limited := decode[[]history.Run](t, body)
	require.Len(t, limited, 1)
	assert.Equal(t, runs[0].ID, limited[0].ID)

	code, body = f.get(t, "/v1/runs/"+runs[1].ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, runs[1].ID, decode[history.Run](t, body).ID)

	code, _ = f.get(t, "/v1/runs/00000000-0000-7000-8000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.get(t, "/v1/runs/nope", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuth(t *testing.T) {
	const secret = "s3cret"
	f := newFixture(t, AuthConfig{JWTSecret: secret})

	code, _ := f.get(t, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.get(t, "/v1/graph", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.get(t, "/v1/graph", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, code)

	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte("other"))
	require.NoError(t, err)
	code, _ = f.get(t, "/v1/graph", map[string]string{"Authorization": "Bearer " + wrong})
	assert.Equal(t, http.StatusUnauthorized, code)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte(secret))
	require.NoError(t, err)
	code, _ = f.get(t, "/v1/graph", map[string]string{"Authorization": "Bearer " + noSub})
	assert.Equal(t, http.StatusUnauthorized, code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte(secret))
	require.NoError(t, err)
	code, body := f.get(t, "/v1/graph", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, code, string(body))
}

func TestAuth_ChallengeAndExpiry(t *testing.T) {
	const secret = "s3cret"
	f := newFixture(t, AuthConfig{JWTSecret: secret})

	req := httptest.NewRequest(http.MethodGet, "/v1/plan", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	assert.Contains(t, rec.Body.String(), "authentication required")

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	code, body := f.get(t, "/v1/plan", map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, string(body), "invalid credentials")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "ops"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	code, _ = f.get(t, "/v1/plan", map[string]string{"Authorization": "Bearer " + none})
	assert.Equal(t, http.StatusUnauthorized, code)

	fresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	code, body = f.get(t, "/v1/plan", map[string]string{"Authorization": "bearer " + fresh})
	assert.Equal(t, http.StatusOK, code, string(body))
}

func TestVerifier_Subject(t *testing.T) {
	assert.Nil(t, newVerifier(AuthConfig{JWTSecret: "  "}))

	v := newVerifier(AuthConfig{JWTSecret: "k"})
	require.NotNil(t, v)
	for _, header := range []string{"", "Bearer", "Bearer ", "Basic abc", "token"} {
		_, err := v.subject(header)
		assert.ErrorIs(t, err, errNoToken, "%q", header)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ci"}).SignedString([]byte("k"))
	require.NoError(t, err)
	sub, err := v.subject("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "ci", sub)
}

func TestNew_RequiresPipeline(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
