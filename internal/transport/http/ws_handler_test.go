package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meetrelay/internal/auth"
	"github.com/vovakirdan/meetrelay/internal/config"
	"github.com/vovakirdan/meetrelay/internal/core"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func startTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *core.Relay) {
	t.Helper()

	disabledLogger := zerolog.New(nil)
	relay := core.NewRelay(&disabledLogger)

	server, err := NewServer(relay, &cfg, &disabledLogger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, relay
}

func dialMeet(ctx context.Context, t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + MeetPath + query
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()

	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	var msg map[string]any
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func join(ctx context.Context, t *testing.T, conn *websocket.Conn, classroomID, userID int64) []int64 {
	t.Helper()

	send(ctx, t, conn, fmt.Sprintf(`{"type":"join","classroomId":%d,"fromUserId":%d}`, classroomID, userID))
	reply := readMessage(ctx, t, conn)
	if reply["type"] != "existing-participants" || reply["classroomId"] != float64(classroomID) {
		t.Fatalf("unexpected join reply: %v", reply)
	}

	raw, _ := reply["participants"].([]any)
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		ids = append(ids, int64(v.(float64)))
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startTestServer(t, testConfig())

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestMeetingSignalingScenario(t *testing.T) {
	ts, relay := startTestServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1 := dialMeet(ctx, t, ts, "")
	c2 := dialMeet(ctx, t, ts, "")

	// Scenario A: second joiner sees the first.
	if ids := join(ctx, t, c1, 7, 100); len(ids) != 0 {
		t.Fatalf("expected empty room, got %v", ids)
	}
	if ids := join(ctx, t, c2, 7, 200); !slices.Equal(ids, []int64{100}) {
		t.Fatalf("expected [100], got %v", ids)
	}

	// Scenario B: offers are relayed verbatim.
	offer := `{"type":"offer","classroomId":7,"toUserId":200,"fromUserId":100,"sdp":"v=0\r\n..."}`
	send(ctx, t, c1, offer)
	_, data, err := c2.Read(ctx)
	if err != nil {
		t.Fatalf("read offer: %v", err)
	}
	if string(data) != offer {
		t.Fatalf("offer changed in transit: %s", data)
	}

	// Scenario C: c1 disconnects, c2 is told.
	c1.Close(websocket.StatusNormalClosure, "bye")
	left := readMessage(ctx, t, c2)
	if left["type"] != "participant-left" || left["classroomId"] != float64(7) || left["userId"] != float64(100) {
		t.Fatalf("unexpected participant-left: %v", left)
	}
	room, ok := relay.Rooms().Get(7)
	if !ok || room.Len() != 1 {
		t.Fatalf("room 7 should retain only c2")
	}

	// Scenario D: last one out removes the room.
	c2.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, "room removal", func() bool {
		_, ok := relay.Rooms().Get(7)
		return !ok
	})
	waitFor(t, "session cleanup", func() bool { return relay.Sessions().Len() == 0 })
}

func TestLeaveMessageKeepsSocketOpen(t *testing.T) {
	ts, relay := startTestServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1 := dialMeet(ctx, t, ts, "")
	c2 := dialMeet(ctx, t, ts, "")
	join(ctx, t, c1, 3, 1)
	join(ctx, t, c2, 3, 2)

	send(ctx, t, c1, `{"type":"leave","classroomId":3,"fromUserId":1}`)
	if left := readMessage(ctx, t, c2); left["type"] != "participant-left" || left["userId"] != float64(1) {
		t.Fatalf("unexpected message: %v", left)
	}

	// The same socket can join again after leaving.
	if ids := join(ctx, t, c1, 3, 1); !slices.Equal(ids, []int64{2}) {
		t.Fatalf("expected [2], got %v", ids)
	}
	if got := relay.Stats().Leaves; got != 1 {
		t.Fatalf("expected one leave, got %d", got)
	}
}

func TestMalformedAndUnknownMessagesAreIgnored(t *testing.T) {
	ts, relay := startTestServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialMeet(ctx, t, ts, "")
	send(ctx, t, c, `not json`)
	send(ctx, t, c, `{"classroomId":1}`)
	send(ctx, t, c, `{"type":"dance","classroomId":1}`)

	// The connection survives and still works.
	if ids := join(ctx, t, c, 1, 10); len(ids) != 0 {
		t.Fatalf("unexpected participants: %v", ids)
	}
	s := relay.Stats()
	if s.Malformed != 2 || s.Unknown != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestRaiseHandBroadcastStaysInRoom(t *testing.T) {
	ts, _ := startTestServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1 := dialMeet(ctx, t, ts, "")
	c2 := dialMeet(ctx, t, ts, "")
	other := dialMeet(ctx, t, ts, "")
	join(ctx, t, c1, 7, 100)
	join(ctx, t, c2, 7, 200)
	join(ctx, t, other, 8, 300)

	hand := `{"type":"raise-hand","classroomId":"7","fromUserId":"100","payload":{"raised":true}}`
	send(ctx, t, c1, hand)
	for _, c := range []*websocket.Conn{c1, c2} {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) != hand {
			t.Fatalf("payload changed: %s", data)
		}
	}

	// A marker sent to room 8 must be the first thing the outsider sees.
	marker := `{"type":"raise-hand","classroomId":8}`
	send(ctx, t, other, marker)
	if _, data, err := other.Read(ctx); err != nil || string(data) != marker {
		t.Fatalf("outsider received unexpected data %s (%v)", data, err)
	}
}

func TestBinaryMessageClosesConnection(t *testing.T) {
	ts, relay := startTestServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialMeet(ctx, t, ts, "")
	join(ctx, t, c, 1, 1)

	if err := c.Write(ctx, websocket.MessageBinary, []byte{0x01}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusUnsupportedData {
		t.Fatalf("expected unsupported data close, got %v", err)
	}
	waitFor(t, "cleanup after close", func() bool { return relay.Rooms().Len() == 0 })
}

func TestRoomsEndpoint(t *testing.T) {
	ts, _ := startTestServer(t, testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1 := dialMeet(ctx, t, ts, "")
	c2 := dialMeet(ctx, t, ts, "")
	join(ctx, t, c1, 9, 1)
	join(ctx, t, c2, 4, 2)

	resp, err := ts.Client().Get(ts.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	defer resp.Body.Close()

	var rooms []RoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 2 || rooms[0].ClassroomID != 4 || rooms[1].ClassroomID != 9 {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
	if rooms[1].Participants[0].UserID != 1 || rooms[1].Participants[0].ConnectionID == "" {
		t.Fatalf("unexpected participants: %+v", rooms[1].Participants)
	}

	for path, want := range map[string]int{
		"/api/rooms/9":    http.StatusOK,
		"/api/rooms/5":    http.StatusNotFound,
		"/api/rooms/nine": http.StatusBadRequest,
	} {
		resp, err := ts.Client().Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("get %s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestICEServersEndpoint(t *testing.T) {
	ts, _ := startTestServer(t, testConfig())

	resp, err := ts.Client().Get(ts.URL + "/api/ice-servers")
	if err != nil {
		t.Fatalf("ice servers: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestNewServerRejectsInvalidICEServers(t *testing.T) {
	cfg := testConfig()
	cfg.ICEServers = []config.ICEServer{{URLs: []string{"turn:turn.example.com"}}}

	logger := zerolog.Nop()
	if _, err := NewServer(core.NewRelay(&logger), &cfg, &logger); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWebSocketRequiresTokenWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "testsecret"
	cfg.JWTIssuer = "classroom"
	ts, _ := startTestServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + MeetPath
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	token, err := auth.GenerateToken(&auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
		TTL:    time.Minute,
	}, 100)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	conn := dialMeet(ctx, t, ts, "?token="+token)
	if ids := join(ctx, t, conn, 1, 100); len(ids) != 0 {
		t.Fatalf("unexpected participants: %v", ids)
	}

	resp2, err := ts.Client().Get(ts.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected rooms endpoint to require auth, got %d", resp2.StatusCode)
	}
}

func TestCloseStatus(t *testing.T) {
	if status, _, err := closeStatus(nil); status != websocket.StatusNormalClosure || err != nil {
		t.Fatalf("nil error: %v %v", status, err)
	}
	if status, _, err := closeStatus(context.Canceled); status != websocket.StatusNormalClosure || err != nil {
		t.Fatalf("canceled: %v %v", status, err)
	}
	if status, _, err := closeStatus(errBinaryMessage); status != websocket.StatusUnsupportedData || err != nil {
		t.Fatalf("binary: %v %v", status, err)
	}
	boom := fmt.Errorf("boom")
	if status, _, err := closeStatus(boom); status != websocket.StatusInternalError || err != boom {
		t.Fatalf("unexpected: %v %v", status, err)
	}
}

func TestClosedSocketsNeverStayRegistered(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 3 * time.Millisecond
	cfg.PingTimeout = time.Nanosecond
	cfg.RateLimitPerSecond = 0
	ts, relay := startTestServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const sockets = 50
	var wg sync.WaitGroup
	for i := range sockets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			wsURL := strings.Replace(ts.URL, "http", "ws", 1) + MeetPath
			conn, _, err := websocket.Dial(ctx, wsURL, nil)
			if err != nil {
				return
			}
			defer conn.CloseNow()

			// Keep joining while the server tears the socket down underneath.
			msg := []byte(fmt.Sprintf(`{"type":"join","classroomId":7,"fromUserId":%d}`, i))
			deadline := time.Now().Add(10 * time.Millisecond)
			for time.Now().Before(deadline) {
				if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	waitFor(t, "registries to drain", func() bool {
		return relay.Rooms().Len() == 0 && relay.Sessions().Len() == 0
	})
}

func TestKeepaliveEvictsUnresponsivePeer(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond
	ts, relay := startTestServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	observer := dialMeet(ctx, t, ts, "")
	silent := dialMeet(ctx, t, ts, "")
	join(ctx, t, observer, 7, 100)
	join(ctx, t, silent, 7, 200)

	// silent never reads again, so it never answers a ping. The observer
	// keeps reading and stays connected.
	left := readMessage(ctx, t, observer)
	if left["type"] != "participant-left" || left["userId"] != float64(200) {
		t.Fatalf("unexpected message: %v", left)
	}
	room, ok := relay.Rooms().Get(7)
	if !ok || room.Len() != 1 {
		t.Fatalf("room 7 should retain only the observer")
	}
}

func TestOversizeMessageClosesSocketAndCleansUp(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageBytes = 256
	ts, relay := startTestServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialMeet(ctx, t, ts, "")
	join(ctx, t, c, 7, 100)

	big := fmt.Sprintf(`{"type":"raise-hand","classroomId":7,"pad":%q}`, strings.Repeat("x", 1024))
	if err := c.Write(ctx, websocket.MessageText, []byte(big)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusMessageTooBig {
		t.Fatalf("expected message too big close, got %v", err)
	}
	waitFor(t, "room removal", func() bool {
		_, ok := relay.Rooms().Get(7)
		return !ok && relay.Sessions().Len() == 0
	})
}

func TestRateLimitedMessagesAreDroppedSocketStaysOpen(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerSecond = 1
	cfg.RateLimitBurst = 2
	ts, _ := startTestServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dialMeet(ctx, t, ts, "")
	join(ctx, t, c, 7, 100)

	// The join spent one token; only the first of these fits the burst.
	for n := 1; n <= 5; n++ {
		send(ctx, t, c, fmt.Sprintf(`{"type":"raise-hand","classroomId":7,"n":%d}`, n))
	}
	if got := readMessage(ctx, t, c); got["n"] != float64(1) {
		t.Fatalf("expected the first raise-hand, got %v", got)
	}

	time.Sleep(1100 * time.Millisecond)
	send(ctx, t, c, `{"type":"raise-hand","classroomId":7,"n":99}`)
	if got := readMessage(ctx, t, c); got["n"] != float64(99) {
		t.Fatalf("expected messages 2-5 dropped and the socket open, got %v", got)
	}
}
