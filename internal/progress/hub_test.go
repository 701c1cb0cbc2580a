package progress

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"remix-studio/internal/logging"
)

func TestHubStreamsRunEvents(t *testing.T) {
	hub := NewHub(logging.NewWriter(io.Discard))
	hub.Publish(Event{RunID: "r1", Stage: "acquire", State: "SourceReady"})

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?run=r1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Stage != "acquire" {
		t.Errorf("replayed event = %+v", first)
	}

	hub.Publish(Event{RunID: "other", Stage: "render"})
	hub.Publish(Event{RunID: "r1", Stage: "render", Percent: 50})

	var next Event
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatal(err)
	}
	if next.RunID != "r1" || next.Percent != 50 {
		t.Errorf("got %+v, want r1 render 50%%", next)
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(logging.NewWriter(io.Discard))
	c := hub.subscribe("")
	for i := 0; i < clientBuffer+5; i++ {
		hub.Publish(Event{RunID: "r", Percent: float64(i)})
	}
	n := 0
	for range c.send {
		n++
	}
	if n != clientBuffer {
		t.Errorf("received %d buffered events, want %d", n, clientBuffer)
	}
	hub.unsubscribe(c)

	if e, ok := hub.Last("r"); !ok || e.Percent != clientBuffer+4 {
		t.Errorf("last = %+v", e)
	}
	hub.Forget("r")
	if _, ok := hub.Last("r"); ok {
		t.Error("Forget kept the run")
	}
}

func TestHubForgetsClosedAndStaleRuns(t *testing.T) {
	hub := NewHub(logging.NewWriter(io.Discard))
	c := hub.subscribe("r1")
	now := time.Now()

	hub.Publish(Event{RunID: "r1", Stage: "render", Percent: 100, At: now})
	hub.Publish(Event{RunID: "r1", State: StateClosed, At: now})
	if _, ok := hub.Last("r1"); ok {
		t.Error("closed run still stored")
	}
	if e := <-c.send; e.Percent != 100 {
		t.Errorf("first event = %+v", e)
	}
	if e := <-c.send; e.State != StateClosed {
		t.Errorf("subscriber missed the close event: %+v", e)
	}

	hub.Publish(Event{RunID: "idle", Stage: "acquire", At: now})
	hub.Publish(Event{RunID: "busy", Stage: "render", At: now.Add(retain + pruneEvery + time.Second)})
	if _, ok := hub.Last("idle"); ok {
		t.Error("stale run not pruned")
	}
	if _, ok := hub.Last("busy"); !ok {
		t.Error("live run pruned")
	}
}
