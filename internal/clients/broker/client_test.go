package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_GetSignal_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/signal", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Signal{Direction: "LONG", Confidence: decimal.NewFromFloat(0.72)})
	}))
	defer srv.Close()

	c := New(srv.URL, 3*time.Second, 1, zap.NewNop())
	sig, err := c.GetSignal(context.Background())
	require.NoError(t, err)
	require.Equal(t, "LONG", sig.Direction)
	require.True(t, c.Connected())
}

// TestClient_RetriesThenFlipsDisconnected uses maxRetries=1, so the
// single retry sleeps for the first backoff step (2s) before the call
// gives up and flips the connection-state flag. The server sees three
// requests: two /signal attempts and the one /reconnect that follows.
func TestClient_RetriesThenFlipsDisconnected(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, 200*time.Millisecond, 1, zap.NewNop())
	_, err := c.GetSignal(context.Background())
	require.Error(t, err)
	require.False(t, c.Connected())
	require.Equal(t, 3, calls)
}

func TestClient_PlaceOrder_EchoesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(OrderEcho{Valid: true, Order: body, OrderID: "ord-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, 3*time.Second, 1, zap.NewNop())
	echo, err := c.PlaceOrder(context.Background(), map[string]any{"symbol": "2330.TW", "quantity": float64(1)})
	require.NoError(t, err)
	require.True(t, echo.Valid)
	require.Equal(t, "ord-1", echo.OrderID)
}
