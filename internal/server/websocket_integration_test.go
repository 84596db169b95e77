package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTopic(t *testing.T, env *testEnv, token, topic string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(env.server.URL, "http", "ws", 1) + "/ws/" + topic + "?access_token=" + token
	socket, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", topic, err)
	}
	t.Cleanup(func() {
		_ = socket.Close()
	})
	return socket
}

func readEnvelope(t *testing.T, socket *websocket.Conn) map[string]any {
	t.Helper()
	_ = socket.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := socket.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("failed to decode envelope %s: %v", payload, err)
	}
	return decoded
}

func TestWebsocketPingPong(t *testing.T) {
	env := newTestEnv(t)
	token := env.bearerToken(t)
	socket := dialTopic(t, env, token, "studies")

	if err := socket.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}
	envelope := readEnvelope(t, socket)
	if envelope["type"] != "pong" {
		t.Fatalf("expected pong, got %v", envelope)
	}
}

func TestWebsocketReceivesChangeEvents(t *testing.T) {
	env := newTestEnv(t)
	token := env.bearerToken(t)
	socket := dialTopic(t, env, token, "studies")

	// Let the upgrade settle before mutating; registration happens inside
	// the websocket handler.
	waitForSubscribers(t, env, "studies", 1)

	env.createEntity(t, token, "studies", `{"study_label":"ABC-123"}`)

	envelope := readEnvelope(t, socket)
	if envelope["type"] != "study_created" {
		t.Fatalf("expected study_created, got %v", envelope)
	}
	data, ok := envelope["data"].(map[string]any)
	if !ok || data["study_label"] != "ABC-123" {
		t.Fatalf("unexpected event payload %v", envelope)
	}
}

func TestWebsocketTopicFiltering(t *testing.T) {
	env := newTestEnv(t)
	token := env.bearerToken(t)
	trackerSocket := dialTopic(t, env, token, "trackers")
	waitForSubscribers(t, env, "trackers", 1)

	// The item create lands on reporting_effort_items; the auto-provisioned
	// tracker lands on trackers. The trackers subscriber must only see the
	// latter.
	env.seedTrackerChain(t, token)

	envelope := readEnvelope(t, trackerSocket)
	if envelope["type"] != "tracker_created" {
		t.Fatalf("expected tracker_created, got %v", envelope)
	}
	data, ok := envelope["data"].(map[string]any)
	if !ok || data["production_status"] != "not_started" {
		t.Fatalf("unexpected tracker payload %v", envelope)
	}
}

func TestWebsocketUnknownTopicRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.bearerToken(t)

	url := strings.Replace(env.server.URL, "http", "ws", 1) + "/ws/widgets?access_token=" + token
	_, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown topic")
	}
	if response == nil || response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %v", response)
	}
}

func TestWebsocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	url := strings.Replace(env.server.URL, "http", "ws", 1) + "/ws/studies"
	_, response, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if response == nil || response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %v", response)
	}
}

func TestWebsocketClientCloseUnregisters(t *testing.T) {
	env := newTestEnv(t)
	token := env.bearerToken(t)
	socket := dialTopic(t, env, token, "studies")
	waitForSubscribers(t, env, "studies", 1)

	if err := socket.Close(); err != nil {
		t.Fatalf("failed to close socket: %v", err)
	}
	waitForSubscribers(t, env, "studies", 0)
}

// waitForSubscribers polls the hub registry; websocket registration runs
// on the server goroutine.
func waitForSubscribers(t *testing.T, env *testEnv, topic string, expected int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if env.hub.RegisteredCount(topic) == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers on %s, have %d", expected, topic, env.hub.RegisteredCount(topic))
}
