package api_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStream(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestStreamSendsConnectedFrame(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialStream(t, ts.URL)

	ev := readEvent(t, conn)
	assert.Equal(t, "connected", ev["event"])
}

func TestStreamDeliversLifecycleEvents(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialStream(t, ts.URL)
	_ = readEvent(t, conn) // connected

	doc := decode(t, postJSON(t, ts.URL+"/test/start", simulatedConfig(10)))
	id := doc["testId"].(string)

	var names []string
	for {
		ev := readEvent(t, conn)
		names = append(names, ev["event"].(string))
		if ev["event"] == "test_completed" {
			payload := ev["data"].(map[string]any)
			assert.Equal(t, id, payload["test_id"])
			results := payload["results"].(map[string]any)
			assert.EqualValues(t, 10, results["totalRequests"])
			break
		}
		require.Less(t, len(names), 100, "terminal event never arrived")
	}
}

func TestStreamJoinTestMonitorFilters(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialStream(t, ts.URL)
	_ = readEvent(t, conn) // connected

	// Join another id, then start a test: its events must not arrive.
	join, err := json.Marshal(map[string]string{
		"type":    "join_test_monitor",
		"test_id": "some-other-test",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))

	// Give the reader goroutine time to apply the filter before publishing.
	time.Sleep(100 * time.Millisecond)

	_ = decode(t, postJSON(t, ts.URL+"/test/start", simulatedConfig(5)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(1*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "filtered subscriber should receive nothing")
}

func TestStreamStoppedEvent(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialStream(t, ts.URL)
	_ = readEvent(t, conn) // connected

	doc := decode(t, postJSON(t, ts.URL+"/test/start", map[string]any{
		"url":      "http://target.local/api",
		"users":    2,
		"duration": 60,
		"backend":  "simulated",
	}))
	id := doc["testId"].(string)

	time.Sleep(300 * time.Millisecond)
	resp := postJSON(t, ts.URL+"/test/"+id+"/stop", nil)
	resp.Body.Close()

	for {
		ev := readEvent(t, conn)
		if ev["event"] == "test_stopped" {
			payload := ev["data"].(map[string]any)
			assert.Equal(t, id, payload["test_id"])
			assert.NotNil(t, payload["results"], "stopped event carries the partial summary")
			return
		}
	}
}
