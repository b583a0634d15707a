package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"bloodbooth/internal/database"
	"bloodbooth/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebsocketFeed_DeliversLifecycleEvents(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	db, err := database.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	s, err := NewServerWithDeps(cfg, repository.NewDonationRequestRepository(db), rdb)
	require.NoError(t, err)
	require.NotNil(t, s.hub)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.hub.StartWiring(ctx, s.notifier))

	app := s.newApp()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		_ = s.hub.Shutdown(context.Background())
		_ = app.Shutdown()
	})

	url := "ws://" + ln.Addr().String() + "/api/ws?token=" + signToken(t, "bob")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return s.hub.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)

	created := doJSON(t, app, http.MethodPost, "/api/donation-requests", createBody("alice", "bob"), "")
	require.Equal(t, http.StatusCreated, created.Status)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "donation_request.created", event.Type)
	assert.Equal(t, created.request(t)["id"], event.Payload["id"])
	assert.Equal(t, "bob", event.Payload["donorId"])
}

func TestWebsocketFeed_RequiresToken(t *testing.T) {
	_, app := newTestServer(t, testConfig())

	resp := doJSON(t, app, http.MethodGet, "/api/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Status)

	// a valid token without an upgrade is refused
	resp = doJSON(t, app, http.MethodGet, "/api/ws", "", signToken(t, "bob"))
	assert.Equal(t, http.StatusUpgradeRequired, resp.Status)
}
