package progress

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"remix-studio/internal/logging"
)

// Event is one pipeline status update.
type Event struct {
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage"`
	State   string    `json:"state"`
	Percent float64   `json:"percent"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// StateClosed marks the last event of a run. The hub forgets the run once
// it has been delivered.
const StateClosed = "closed"

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

const (
	clientBuffer = 32
	// runs that never report StateClosed are dropped after retain
	retain     = 6 * time.Hour
	pruneEvery = time.Minute
)

type client struct {
	run  string // empty subscribes to every run
	send chan Event
}

// Hub keeps the last event per run and fans events out to websocket
// subscribers. A client whose buffer is full is dropped.
type Hub struct {
	mu      sync.Mutex
	last    map[string]Event
	clients map[*client]struct{}
	pruned  time.Time
	log     *logging.Logger
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{last: make(map[string]Event), clients: make(map[*client]struct{}), log: log}
}

func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if e.State == StateClosed {
		delete(h.last, e.RunID)
	} else {
		h.last[e.RunID] = e
	}
	if e.At.Sub(h.pruned) > pruneEvery {
		h.prune(e.At)
	}
	for c := range h.clients {
		if c.run != "" && c.run != e.RunID {
			continue
		}
		select {
		case c.send <- e:
		default:
			delete(h.clients, c)
			close(c.send)
			h.log.Warnf("progress: dropped slow subscriber for run %q", c.run)
		}
	}
}

// Last returns the most recent event for run.
func (h *Hub) Last(run string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.last[run]
	return e, ok
}

// prune drops runs whose last event is older than retain. h.mu is held.
func (h *Hub) prune(now time.Time) {
	h.pruned = now
	for run, e := range h.last {
		if now.Sub(e.At) > retain {
			delete(h.last, run)
		}
	}
}

// Forget drops the stored state of a finished run.
func (h *Hub) Forget(run string) {
	h.mu.Lock()
	delete(h.last, run)
	h.mu.Unlock()
}

func (h *Hub) subscribe(run string) *client {
	c := &client{run: run, send: make(chan Event, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if run != "" {
		if e, ok := h.last[run]; ok {
			c.send <- e
		}
	}
	h.mu.Unlock()
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS streams events for ?run=<id>, or for all runs when omitted.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("progress: upgrade: %v", err)
		return
	}
	defer conn.Close()

	c := h.subscribe(r.URL.Query().Get("run"))
	defer h.unsubscribe(c)

	// reader goroutine only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-c.send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// Serve runs the websocket endpoint on addr until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/progress", h.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	h.log.Infof("Progress websocket listening on %s/ws/progress", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
