package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

const hubWallet = "0x00000000000000000000000000000000000000A1"

func dialHub(t *testing.T, srv *httptest.Server, address string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?address=" + address
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversWalletEvents(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	mine := dialHub(t, srv, hubWallet)
	other := dialHub(t, srv, "0x00000000000000000000000000000000000000b2")
	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	hub.PublishWalletEvent(domain.WalletEvent{
		Type:     "wallet_updated",
		Address:  strings.ToLower(hubWallet),
		IntentID: "01HX",
		Kind:     string(domain.IntentRepayment),
	})

	mine.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := mine.ReadMessage()
	require.NoError(t, err)
	var got domain.WalletEvent
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "01HX", got.IntentID)
	assert.Equal(t, "wallet_updated", got.Type)

	other.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err)
}

func TestHubRequiresAddress(t *testing.T) {
	hub := NewHub(zap.NewNop())
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHubCloseDisconnects(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv, hubWallet)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Zero(t, hub.Subscribers())
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
