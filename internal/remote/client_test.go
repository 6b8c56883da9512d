package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"petri/pkg/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/api/"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestLoginSendsCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ada", body["username"])
		assert.Equal(t, "pw", body["password"])
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","user_id":5,"username":"ada"}`))
	})
	resp, err := c.Login(context.Background(), "ada", "pw")
	require.NoError(t, err)
	assert.Equal(t, domain.LoginResponse{AccessToken: "tok", TokenType: "bearer", UserID: 5, Username: "ada"}, resp)
}

func TestRegisterFallsBackToID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/register", r.URL.Path)
		_, _ = w.Write([]byte(`{"access_token":"tok","id":9,"username":"bo"}`))
	})
	resp, err := c.Register(context.Background(), "bo@example.com", "pw", "bo")
	require.NoError(t, err)
	assert.EqualValues(t, 9, resp.UserID)
}

func TestListTreesShapes(t *testing.T) {
	bodies := map[string]string{
		"array":   `[{"id":1,"user_id":2,"species":"oak","health_score":80,"planting_date":"2024-03-01T10:00:00","created_at":"2024-03-01T10:00:00.123456","updated_at":"2024-03-02T10:00:00Z"}]`,
		"wrapped": `{"trees":[{"id":1,"user_id":2,"species":"oak","health_score":80,"planting_date":"2024-03-01","created_at":null}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(body))
			})
			trees, err := c.ListTrees(context.Background(), "tok")
			require.NoError(t, err)
			require.Len(t, trees, 1)
			assert.Equal(t, domain.TreeID(1), trees[0].ID)
			assert.EqualValues(t, 2, trees[0].OwnerID)
			assert.Equal(t, domain.SpeciesOak, trees[0].Species)
			assert.Equal(t, 2024, trees[0].PlantingDate.Year())
		})
	}
}

func TestUnauthorizedMapsToUnauthenticated(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	})
	_, err := c.ListTrees(context.Background(), "stale")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))
	assert.False(t, errors.Is(err, domain.ErrRemoteFailure))
	assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))
}

func TestErrorDetailSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/trees" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":[{"msg":"species invalid"},{"msg":"latitude required"}]}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"mint backend down"}`))
	})
	_, err := c.CreateTree(context.Background(), "tok", domain.PlantRequest{Species: domain.SpeciesOak})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRemoteFailure))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Equal(t, "species invalid; latitude required", se.Detail)

	_, err = c.MintToken(context.Background(), "tok", 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mint backend down")
	assert.Equal(t, domain.KindRemoteFailure, domain.KindOf(err))
}

func TestCreateTreeRejectsNonPositiveID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":0,"species":"oak"}`))
	})
	_, err := c.CreateTree(context.Background(), "tok", domain.PlantRequest{Species: domain.SpeciesOak})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRemoteFailure))
}

func TestMintToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/trees/42/mint", r.URL.Path)
		_, _ = w.Write([]byte(`{"token_id":"TT-42","image_uri":"ipfs://img42","metadata_uri":"ipfs://meta42","message":"ok"}`))
	})
	res, err := c.MintToken(context.Background(), "tok", 42)
	require.NoError(t, err)
	assert.Equal(t, domain.TreeID(42), res.TreeID)
	assert.Equal(t, "ipfs://img42", res.ImageURI)
}

func TestNetworkFailureIsRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := New(Config{BaseURL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)
	_, err = c.ListTrees(context.Background(), "tok")
	require.Error(t, err)
	assert.Equal(t, domain.KindRemoteFailure, domain.KindOf(err))
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListTrees(ctx, "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRateLimiterWaits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, RateLimit: 1}, nil)
	require.NoError(t, err)

	_, err = c.ListTrees(context.Background(), "tok")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListTrees(ctx, "tok")
	require.Error(t, err, "second call within the same second must wait past the deadline")
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New(Config{BaseURL: "/api"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}
