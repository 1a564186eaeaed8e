package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ziziccc/embedded-prj3/internal/httputil"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var m Message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsCaptures(t *testing.T) {
	st := newStation(t, false)
	srv := httptest.NewServer(st.handler)
	defer srv.Close()

	conn := dialHub(t, srv)
	hello := readMessage(t, conn)
	if hello.Type != "hello" || hello.Rows != 3 || hello.Cols != 4 || len(hello.Classes) != 3 {
		t.Fatalf("hello = %+v", hello)
	}
	waitForClients(t, st.hub, 1)

	if _, err := st.session.Capture(); err != nil {
		t.Fatal(err)
	}
	m := readMessage(t, conn)
	if m.Type != "capture" || m.Capture == nil || m.Capture.ID != "cap-1" || len(m.Capture.Tiles) != 8 {
		t.Fatalf("capture message = %+v", m)
	}

	if err := conn.WriteJSON(map[string]string{"type": "snapshot_request"}); err != nil {
		t.Fatal(err)
	}
	snap := readMessage(t, conn)
	if snap.Type != "snapshot" || snap.Capture == nil || snap.Capture.ID != "cap-1" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestHub_DropsClosedClients(t *testing.T) {
	st := newStation(t, false)
	srv := httptest.NewServer(st.handler)
	defer srv.Close()

	conn := dialHub(t, srv)
	readMessage(t, conn)
	waitForClients(t, st.hub, 1)

	conn.Close()
	waitForClients(t, st.hub, 0)

	// broadcasting with nobody listening is fine
	if _, err := st.session.Capture(); err != nil {
		t.Fatal(err)
	}

	c2 := dialHub(t, srv)
	readMessage(t, c2)
	waitForClients(t, st.hub, 1)
	if err := st.hub.Close(); err != nil {
		t.Fatal(err)
	}
	if st.hub.ClientCount() != 0 {
		t.Error("Close left clients connected")
	}
}

func TestClient_Capture(t *testing.T) {
	st := newStation(t, false)
	srv := httptest.NewServer(st.handler)
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	v, err := c.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if v.ID != "cap-1" || v.Included != 8 {
		t.Errorf("view = %+v", v)
	}

	st.port.Respond = nil
	_, err = c.Capture()
	rerr, ok := err.(*RemoteError)
	if !ok {
		t.Fatalf("error %T %v, want *RemoteError", err, err)
	}
	if rerr.Status != http.StatusGatewayTimeout || !rerr.Retryable() {
		t.Errorf("remote error = %+v", rerr)
	}
}

func TestClient_MockTransport(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusConflict, `{"error":"capture already in progress","retryable":true}`).
		AddResponse(http.StatusInternalServerError, `not json`)
	c := NewClient("http://station:8080", mock)

	_, err := c.Capture()
	if rerr, ok := err.(*RemoteError); !ok || rerr.Status != http.StatusConflict || rerr.Body.Error != "capture already in progress" {
		t.Errorf("first error = %v", err)
	}
	_, err = c.Capture()
	if rerr, ok := err.(*RemoteError); !ok || rerr.Body.Error != "Internal Server Error" {
		t.Errorf("second error = %v", err)
	}
	if mock.RequestCount() != 2 || mock.Requests[0].URL.String() != "http://station:8080/api/capture" || mock.Requests[0].Method != http.MethodPost {
		t.Errorf("requests = %v", mock.Requests)
	}
}
