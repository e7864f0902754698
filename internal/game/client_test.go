package game

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/macomeau/Artifacts-sub001/internal/cooldown"
)

func TestCharacter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/characters/alice", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"name":"alice","cooldown":2.5,"x":1,"y":4,"hp":100}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok", zaptest.NewLogger(t))
	snap, err := client.Character(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Name)
	assert.Equal(t, 2.5, snap.CooldownSeconds)
	assert.Equal(t, 1, snap.X)
}

func TestActionCooldown(t *testing.T) {
	exp := time.Now().Add(5 * time.Second).UTC().Format(time.RFC3339Nano)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/my/alice/action/gathering", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"data":{"cooldown":{"total_seconds":5,"expiration":"` + exp + `"}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", zaptest.NewLogger(t))
	result, err := client.Action(context.Background(), "alice", "gathering", nil)
	require.NoError(t, err)
	require.NotNil(t, result.Cooldown)
	assert.Equal(t, 5.0, result.Cooldown.TotalSeconds)
	require.NotNil(t, result.Cooldown.Expiration)
}

func TestActionErrorSurfacesServerText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":499,"message":"Character in cooldown: 4.5 seconds left"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", zaptest.NewLogger(t))
	_, err := client.Action(context.Background(), "alice", "fight", nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, cooldown.IsCooldownError(apiErr.Message))
	assert.InDelta(t, 4.5, cooldown.ParseError(apiErr.Message), 1e-3)
}
