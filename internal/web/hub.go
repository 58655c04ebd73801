package web

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"soil-rover/internal/sim"
)

// Message is one frame on the /ws stream.
type Message struct {
	Type   string      `json:"type"` // "state" or "sample"
	State  *sim.State  `json:"state,omitempty"`
	Sample *sim.Sample `json:"sample,omitempty"`
}

// Hub fans rover state and completed samples out to websocket clients. It
// keeps the most recent state so new subscribers get an immediate frame.
// Slow subscribers drop frames rather than stall the publisher.
type Hub struct {
	mu       sync.RWMutex
	subs     map[int]chan Message
	nextID   int
	last     sim.State
	haveLast bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Message)}
}

func (h *Hub) Subscribe(buffer int) (int, <-chan Message) {
	if h == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Message, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	last := h.last
	have := h.haveLast
	h.mu.Unlock()
	if have {
		select {
		case ch <- Message{Type: "state", State: &last}:
		default:
		}
	}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Clients returns the number of active subscribers.
func (h *Hub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) PublishState(st sim.State) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.last = st
	h.haveLast = true
	h.mu.Unlock()
	h.fanout(Message{Type: "state", State: &st})
}

func (h *Hub) PublishSample(smp sim.Sample) {
	if h == nil {
		return
	}
	h.fanout(Message{Type: "sample", Sample: &smp})
}

func (h *Hub) fanout(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// Stream publishes a rover snapshot every interval until ctx is done.
func (h *Hub) Stream(ctx context.Context, rover Rover, interval time.Duration) {
	if h == nil || rover == nil {
		return
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if h.Clients() == 0 {
				continue
			}
			h.PublishState(rover.Snapshot())
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The UI is served from the rover itself or a LAN laptop.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// HandleWS upgrades the request and streams hub messages to the client.
// Frames received from the client are decoded as commands and applied to
// rover, which lets a browser drive in manual mode over the same socket.
func (h *Hub) HandleWS(rover Rover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !websocket.IsWebSocketUpgrade(r) {
			http.Error(w, "websocket upgrade required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		id, ch := h.Subscribe(16)
		defer h.Unsubscribe(id)
		log.Printf("ws client connected remote=%s clients=%d", r.RemoteAddr, h.Clients())

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var req CommandRequest
				if err := conn.ReadJSON(&req); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Printf("ws read: %v", err)
					}
					return
				}
				if rover == nil {
					continue
				}
				if _, err := applyCommand(rover, req); err != nil {
					log.Printf("ws command %q rejected: %v", req.Command, err)
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(m); err != nil {
					log.Printf("ws write: %v", err)
					return
				}
			}
		}
	}
}
