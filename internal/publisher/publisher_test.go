package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"postline/internal/entity"
	"postline/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(url string, timeout time.Duration) Publisher {
	return NewPlatformPublisher(&config.Config{
		PlatformAPIURL:   url,
		PlatformAPIToken: "test-token",
		PublishTimeout:   timeout,
	})
}

func testPost() *entity.Post {
	return &entity.Post{
		ID:       "post-1",
		Platform: "x",
		Content:  "hello world",
		Status:   entity.StatusPublishing,
	}
}

func TestPublish_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req publishRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "x", req.Platform)
		assert.Equal(t, "hello world", req.Content)

		json.NewEncoder(w).Encode(map[string]string{"id": "ext-1"})
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 5*time.Second)

	externalID, err := p.Publish(context.Background(), testPost())
	require.NoError(t, err)
	assert.Equal(t, "ext-1", externalID)
}

func TestPublish_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 5*time.Second)

	_, err := p.Publish(context.Background(), testPost())
	require.Error(t, err)

	pubErr, ok := err.(*PublishError)
	require.True(t, ok)
	assert.Equal(t, KindAuth, pubErr.Kind)
}

func TestPublish_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 5*time.Second)

	_, err := p.Publish(context.Background(), testPost())
	require.Error(t, err)

	pubErr, ok := err.(*PublishError)
	require.True(t, ok)
	assert.Equal(t, KindRateLimited, pubErr.Kind)
}

func TestPublish_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 5*time.Second)

	_, err := p.Publish(context.Background(), testPost())
	require.Error(t, err)

	pubErr, ok := err.(*PublishError)
	require.True(t, ok)
	assert.Equal(t, KindGeneric, pubErr.Kind)
}

func TestPublish_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]string{"id": "ext-1"})
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 20*time.Millisecond)

	_, err := p.Publish(context.Background(), testPost())
	require.Error(t, err)

	pubErr, ok := err.(*PublishError)
	require.True(t, ok, "timeout must surface as PublishError")
	assert.Equal(t, KindGeneric, pubErr.Kind)
}

func TestPublish_MissingExternalID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	p := newTestPublisher(server.URL, 5*time.Second)

	_, err := p.Publish(context.Background(), testPost())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no post id")
}
