package appointment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func dialSlots(t *testing.T, h *Handler, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/patient/slots/ws" + query
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, ws *websocket.Conn) wsFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWatchPatientSlots_SwitchesDate(t *testing.T) {
	h, store, _ := newTestHandler(t)
	wednesday := tuesday.AddDays(1)
	seedBooking(t, store, FlowPatient, wednesday, "09:30", "9000000001")

	ws, _, err := dialSlots(t, h, "?date="+tuesday.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	first := readFrame(t, ws)
	if first.Type != "slots" || first.Snapshot == nil || first.Snapshot.Date != tuesday || first.Snapshot.Generation != 1 {
		t.Fatalf("unexpected first frame %+v", first)
	}
	if len(first.Snapshot.Slots) != 22 {
		t.Errorf("expected 22 slots, got %d", len(first.Snapshot.Slots))
	}

	if err := ws.WriteJSON(watchMessage{Action: "watch", Date: wednesday.String()}); err != nil {
		t.Fatalf("write: %v", err)
	}
	next := readFrame(t, ws)
	if next.Snapshot == nil || next.Snapshot.Date != wednesday || next.Snapshot.Generation != 2 {
		t.Fatalf("expected wednesday generation 2, got %+v", next)
	}
	if s := slotAt(t, next.Snapshot.Slots, "09:30"); s.CurrentBookings != 1 {
		t.Errorf("expected wednesday's booking counted, got %+v", s)
	}
}

func TestWatchPatientSlots_InvalidMessages(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ws, _, err := dialSlots(t, h, "?date="+tuesday.String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	readFrame(t, ws)

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"not json", `hello`, "expected"},
		{"unknown action", `{"action":"subscribe","date":"2024-01-17"}`, "expected"},
		{"bad date", `{"action":"watch","date":"17/01/2024"}`, "invalid date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.msg)); err != nil {
				t.Fatalf("write: %v", err)
			}
			f := readFrame(t, ws)
			if f.Type != "invalid" || !strings.Contains(f.Message, tt.want) {
				t.Errorf("expected invalid frame containing %q, got %+v", tt.want, f)
			}
		})
	}
}

func TestWatchPatientSlots_Origins(t *testing.T) {
	h, _, _ := newTestHandler(t)
	h.AllowOrigins("https://clinic.example")

	_, resp, err := dialSlots(t, h, "", http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake to fail for a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}

	ws, _, err := dialSlots(t, h, "", http.Header{"Origin": {"https://clinic.example"}})
	if err != nil {
		t.Fatalf("expected allowed origin to connect, got %v", err)
	}
	ws.Close()
}

func TestWatchPatientSlots_BadDate(t *testing.T) {
	h, _, _ := newTestHandler(t)
	_, resp, err := dialSlots(t, h, "?date=tomorrow", nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %+v", resp)
	}
}
