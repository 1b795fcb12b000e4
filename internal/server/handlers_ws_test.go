package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fleetpulse/fleetpulse/internal/auth"
	"github.com/fleetpulse/fleetpulse/internal/config"
	"github.com/fleetpulse/fleetpulse/internal/domain"
	"github.com/fleetpulse/fleetpulse/internal/gateway"
)

func testWSServer(t *testing.T, cfg *config.Config) (*gateway.Hub, string) {
	t.Helper()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	hub := gateway.NewHub(verifier, clockwork.NewRealClock(), cfg.HeartbeatInterval)
	t.Cleanup(func() { hub.Stop() })

	srv := NewServer(cfg, hub, nil, nil, nil)
	ts := httptest.NewServer(srv.echo)
	t.Cleanup(ts.Close)

	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Handshake frame carries the resumable connection id
	frame := readWSFrame(t, conn)
	require.Equal(t, domain.EventConnected, frame.Event)
	return conn
}

func readWSFrame(t *testing.T, conn *ws.Conn) domain.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame domain.Frame
	require.NoError(t, json.Unmarshal(msg, &frame))
	return frame
}

func sendWSFrame(t *testing.T, conn *ws.Conn, event string, payload any) {
	t.Helper()
	frame, err := domain.NewFrame(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))
}

func validToken(t *testing.T, secret, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func waitForRoom(hub *gateway.Hub, room string, expected int) bool {
	for range 100 {
		if hub.RoomMembers(room) == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestWebSocket_AuthenticateAndTrack(t *testing.T) {
	cfg := testConfig()
	hub, url := testWSServer(t, cfg)
	conn := dialWS(t, url)

	sendWSFrame(t, conn, domain.EventAuthenticate, validToken(t, cfg.JWTSecret, "driver-7"))

	frame := readWSFrame(t, conn)
	require.Equal(t, domain.EventAuthenticated, frame.Event)
	var result domain.AuthResult
	require.NoError(t, json.Unmarshal(frame.Data, &result))
	require.True(t, result.Success)
	require.True(t, waitForRoom(hub, "user:driver-7", 1))

	sendWSFrame(t, conn, domain.EventTrackVehicle, "v1")
	require.True(t, waitForRoom(hub, "vehicle:v1", 1))

	require.NoError(t, hub.BroadcastToRoom(context.Background(), "vehicle:v1", domain.EventLocationUpdate, map[string]string{"entityId": "v1"}))
	frame = readWSFrame(t, conn)
	assert.Equal(t, domain.EventLocationUpdate, frame.Event)

	sendWSFrame(t, conn, domain.EventUntrackVehicle, "v1")
	assert.True(t, waitForRoom(hub, "vehicle:v1", 0))
}

func TestWebSocket_InvalidTokenDisconnects(t *testing.T) {
	cfg := testConfig()
	_, url := testWSServer(t, cfg)
	conn := dialWS(t, url)

	sendWSFrame(t, conn, domain.EventAuthenticate, "not-a-jwt")

	frame := readWSFrame(t, conn)
	require.Equal(t, domain.EventAuthenticated, frame.Event)
	var result domain.AuthResult
	require.NoError(t, json.Unmarshal(frame.Data, &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "connection must be closed after a failed authentication")
}

func TestWebSocket_TrackBeforeAuthenticate(t *testing.T) {
	cfg := testConfig()
	hub, url := testWSServer(t, cfg)
	conn := dialWS(t, url)

	sendWSFrame(t, conn, domain.EventTrackVehicle, "v1")

	frame := readWSFrame(t, conn)
	require.Equal(t, domain.EventError, frame.Event)
	var msg string
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Equal(t, "Not authenticated", msg)
	assert.Equal(t, 0, hub.RoomMembers("vehicle:v1"))
}

func TestWebSocket_UnknownEvent(t *testing.T) {
	cfg := testConfig()
	_, url := testWSServer(t, cfg)
	conn := dialWS(t, url)

	sendWSFrame(t, conn, "teleport", "v1")

	frame := readWSFrame(t, conn)
	require.Equal(t, domain.EventError, frame.Event)
	var msg string
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Contains(t, msg, "Unknown event")
}

func TestWebSocket_MalformedMessage(t *testing.T) {
	cfg := testConfig()
	_, url := testWSServer(t, cfg)
	conn := dialWS(t, url)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("{not json")))

	frame := readWSFrame(t, conn)
	require.Equal(t, domain.EventError, frame.Event)
}

func TestWebSocket_InvalidResumeIDRejected(t *testing.T) {
	cfg := testConfig()
	_, url := testWSServer(t, cfg)

	_, resp, err := ws.DefaultDialer.Dial(url+"?connectionId=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_OriginEnforcement(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigin = "https://app.fleetpulse.example"
	_, url := testWSServer(t, cfg)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, _, err := ws.DefaultDialer.Dial(url, header)
	assert.Error(t, err, "handshake must fail for a disallowed origin")

	header = http.Header{"Origin": []string{"https://app.fleetpulse.example"}}
	conn, _, err := ws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
