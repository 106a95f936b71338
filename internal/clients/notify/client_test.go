package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_PollUpdates_DedupesAndFilters(t *testing.T) {
	var call int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if call == 1 {
			require.Equal(t, "/updates?since=0", r.URL.RequestURI())
			_ = json.NewEncoder(w).Encode(updatesResponse{Updates: []Update{
				{UpdateID: 1, ChatID: "chat-1", Text: "status"},
				{UpdateID: 2, ChatID: "other-chat", Text: "ignored"},
			}})
			return
		}
		require.Equal(t, "/updates?since=2", r.URL.RequestURI())
		_ = json.NewEncoder(w).Encode(updatesResponse{Updates: nil})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", "chat-1", 3*time.Second, zap.NewNop())

	updates, err := c.PollUpdates(context.Background())
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, "status", updates[0].Text)

	_, err = c.PollUpdates(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, call)
}

func TestClient_Send_LogsOnFailureWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", "chat-1", 3*time.Second, zap.NewNop())
	c.Send(context.Background(), "hello")
}
