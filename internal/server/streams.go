package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thruflo/clave/internal/logging"
	"github.com/thruflo/clave/internal/stream"
)

const (
	// sseKeepalive is how often an idle SSE stream gets a comment line.
	sseKeepalive = 15 * time.Second
	// sseReconnect ends an SSE response so clients reconnect and proxies
	// do not hold a single response forever.
	sseReconnect = 60 * time.Second
	// ssePoll backs up the event log notifications.
	ssePoll = time.Second
)

// handleStream handles GET /stream as Server-Sent Events. Retained events
// from from_seq (or Last-Event-ID + 1) are sent first, then live events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	fromSeq, err := streamStart(r)
	if err != nil {
		http.Error(w, "invalid from_seq", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := s.publisher.Log().Subscribe(ctx, fromSeq, ssePoll)

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()
	reconnect := time.NewTimer(sseReconnect)
	defer reconnect.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-reconnect.C:
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, event); err != nil {
				s.log.Debug("sse write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// streamStart returns the first sequence number a stream request wants.
func streamStart(r *http.Request) (uint64, error) {
	if v := r.URL.Query().Get("from_seq"); v != "" {
		return strconv.ParseUint(v, 10, 64)
	}
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		last, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return last + 1, nil
	}
	return 0, nil
}

func writeSSE(w http.ResponseWriter, event *stream.Event) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
	return err
}

// handleWS upgrades GET /ws to a websocket. The client gets a snapshot event
// first, then every published event.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("ws upgrade failed", "error", err)
		return
	}

	snapshot := stream.MustNewEvent(stream.EventTypeSnapshot, s.controller.Snapshot())
	snapshot.Seq = s.publisher.Log().LastSeq()
	data, err := snapshot.Marshal()
	if err != nil {
		conn.Close()
		return
	}

	c := s.hub.add(conn, data)
	s.log.Debug("ws client connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.hub.remove(c)
			s.log.Debug("ws client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// checkOrigin accepts same-host and loopback origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// wsHub fans events out to websocket clients. A client that cannot keep
// up is disconnected.
type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     *logging.Logger
}

func newWSHub(log *logging.Logger) *wsHub {
	return &wsHub{
		clients: make(map[*wsClient]struct{}),
		log:     log,
	}
}

func (h *wsHub) add(conn *websocket.Conn, first []byte) *wsClient {
	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	c.send <- first
	go c.writePump()

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *wsHub) broadcast(data []byte) {
	var slow []*wsClient

	// Sends happen under the read lock so remove cannot close a channel
	// mid-send.
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("ws client too slow, disconnecting")
		h.remove(c)
	}
}

// run broadcasts events until the channel closes or ctx is done.
func (h *wsHub) run(ctx context.Context, events <-chan *stream.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := event.Marshal()
			if err != nil {
				h.log.Error("failed to encode event", "type", event.Type, "error", err)
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *wsHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
