package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockServer is an in-process exchange stream endpoint for tests. It
// acknowledges SUBSCRIBE/UNSUBSCRIBE control frames the way the venue does
// (a null result correlated by id), records every frame it receives, and
// can be told to reject handshakes or drop live connections to exercise
// the reconnect path.
type MockServer struct {
	server *httptest.Server
	url    string

	mu          sync.Mutex
	connections map[*websocket.Conn]bool
	frames      []controlFrame

	rejectConnection bool
	rejectSubscribe  bool
	ackDelay         time.Duration
}

// NewMockServer starts the server. Callers must Close it.
func NewMockServer() *MockServer {
	m := &MockServer{
		connections: make(map[*websocket.Conn]bool),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// endpoint of the server.
func (m *MockServer) URL() string {
	return m.url
}

// Close shuts the server down and drops all connections.
func (m *MockServer) Close() {
	m.server.Close()
}

// SetRejectConnection makes subsequent handshakes fail with 403.
func (m *MockServer) SetRejectConnection(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectConnection = reject
}

// SetRejectSubscribe makes the server answer SUBSCRIBE frames with an
// exchange error instead of a null result.
func (m *MockServer) SetRejectSubscribe(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectSubscribe = reject
}

// SetAckDelay delays control-frame acknowledgments, holding the client in
// the Connected state.
func (m *MockServer) SetAckDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ackDelay = d
}

// DropConnections closes every live connection without a close frame,
// simulating a network cut.
func (m *MockServer) DropConnections() {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.connections = make(map[*websocket.Conn]bool)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// Broadcast sends one text message to every live connection.
func (m *MockServer) Broadcast(message []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conn := range m.connections {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			delete(m.connections, conn)
			conn.Close()
		}
	}
}

// ConnectionCount returns the number of live connections.
func (m *MockServer) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// Frames returns a copy of every control frame received so far, across all
// connections, in arrival order.
func (m *MockServer) Frames() []controlFrame {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]controlFrame, len(m.frames))
	copy(out, m.frames)
	return out
}

// SubscribedStreams returns the streams named by SUBSCRIBE frames since
// after, a frame index from a previous Frames call (use 0 for all).
func (m *MockServer) SubscribedStreams(after int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var streams []string
	for i, f := range m.frames {
		if i >= after && f.Method == "SUBSCRIBE" {
			streams = append(streams, f.Params...)
		}
	}
	return streams
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reject := m.rejectConnection
	m.mu.Unlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections[conn] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.connections, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	var writeMu sync.Mutex
	conn.SetPingHandler(func(appData string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData),
			time.Now().Add(time.Second))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(message, &frame); err != nil || frame.Method == "" {
			continue
		}

		m.mu.Lock()
		m.frames = append(m.frames, frame)
		rejectSub := m.rejectSubscribe
		delay := m.ackDelay
		m.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		ack := map[string]interface{}{"result": nil, "id": frame.ID}
		if rejectSub && frame.Method == "SUBSCRIBE" {
			ack = map[string]interface{}{
				"id": frame.ID,
				"error": map[string]interface{}{
					"code": 2,
					"msg":  "invalid request",
				},
			}
		}

		writeMu.Lock()
		err = conn.WriteJSON(ack)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}
