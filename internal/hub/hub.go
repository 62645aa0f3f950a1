// Package hub fans session lifecycle, output and usage events out to
// websocket clients.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const defaultBatchInterval = 100 * time.Millisecond

// InputFunc forwards client input to a session. keys are named keys such as
// "Enter" or "C-c".
type InputFunc func(sessionID string, text string, keys []string) error

type Hub struct {
	clients      map[string]*Client
	register     chan *clientRegistration
	unregister   chan *Client
	broadcast    chan hubBroadcast
	onInput      InputFunc
	token        string
	mu           sync.RWMutex
	sessions     []SessionInfo
	sessionsMu   sync.RWMutex
	rateLimiter  *RateLimiter
	batchEnabled atomic.Bool
	ctxMu        sync.RWMutex
	ctx          context.Context
	running      atomic.Bool
}

type clientRegistration struct {
	client          *Client
	initialSessions []byte
}

func New(token string, onInput InputFunc) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *clientRegistration, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 256),
		onInput:    onInput,
		token:      token,
		ctx:        context.Background(),
	}
	h.batchEnabled.Store(true)
	h.rateLimiter = NewRateLimiter(defaultBatchInterval, func(sessionID string, msg OutputMessage) {
		h.send(sessionID, msg)
	})
	return h
}

func (h *Hub) getContext() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.ctx
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxMu.Lock()
	h.ctx = ctx
	h.ctxMu.Unlock()
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.rateLimiter.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			h.mu.Unlock()
			if reg.initialSessions != nil {
				select {
				case reg.client.send <- reg.initialSessions:
				default:
				}
			}
			go reg.client.writePump(h.getContext())
			go reg.client.readPump(h.getContext())
			log.Printf("client connected: %s (total: %d)", reg.client.id, h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("client disconnected: %s (total: %d)", client.id, h.ClientCount())

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) broadcastToClients(msg hubBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wantsSession(msg.sessionID) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			log.Printf("client %s send buffer full, dropping message", c.id)
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept error: %v", err)
		return
	}

	client := newClient(conn, h)

	h.sessionsMu.RLock()
	list := h.sessions
	h.sessionsMu.RUnlock()
	if list == nil {
		list = []SessionInfo{}
	}
	initial, _ := json.Marshal(SessionsMessage{Type: TypeSessions, List: list})

	select {
	case h.register <- &clientRegistration{client: client, initialSessions: initial}:
	default:
		log.Printf("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
}

// BroadcastSessions replaces the session snapshot sent to newly connected
// clients and pushes it to connected ones.
func (h *Hub) BroadcastSessions(list []SessionInfo) {
	h.sessionsMu.Lock()
	h.sessions = list
	h.sessionsMu.Unlock()
	if list == nil {
		list = []SessionInfo{}
	}
	h.send("", SessionsMessage{Type: TypeSessions, List: list})
}

func (h *Hub) BroadcastSessionStarted(msg SessionStartedMessage) {
	msg.Type = TypeSessionStarted
	if msg.Ts == 0 {
		msg.Ts = time.Now().UnixMilli()
	}
	h.send(msg.SessionID, msg)
}

func (h *Hub) BroadcastOutput(msg OutputMessage) {
	msg.Type = TypeOutput
	if msg.Ts == 0 {
		msg.Ts = time.Now().UnixMilli()
	}
	if h.batchEnabled.Load() && h.rateLimiter != nil {
		h.rateLimiter.Add(msg)
		return
	}
	h.send(msg.SessionID, msg)
}

// BroadcastSessionExited flushes pending output for the session first so
// clients see its last bytes before the exit event.
func (h *Hub) BroadcastSessionExited(msg SessionExitedMessage) {
	msg.Type = TypeSessionExited
	if msg.Ts == 0 {
		msg.Ts = time.Now().UnixMilli()
	}
	if h.rateLimiter != nil {
		h.rateLimiter.Flush(msg.SessionID)
	}
	h.send(msg.SessionID, msg)
}

func (h *Hub) BroadcastUsage(msg UsageMessage) {
	msg.Type = TypeUsage
	if msg.Ts == 0 {
		msg.Ts = time.Now().UnixMilli()
	}
	h.send("", msg)
}

func (h *Hub) send(sessionID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling %T: %v", msg, err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, sessionID: sessionID}:
	default:
		log.Printf("broadcast channel full, dropping %T", msg)
	}
}

func (h *Hub) SendError(client *Client, message string) {
	data, err := json.Marshal(ErrorMessage{Type: TypeError, Message: message})
	if err != nil {
		log.Printf("error marshaling error message: %v", err)
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleInput(sessionID string, text string, keys []string) error {
	if h.onInput == nil {
		return nil
	}
	return h.onInput(sessionID, text, keys)
}

// SetOnInput must be called before Run.
func (h *Hub) SetOnInput(fn InputFunc) {
	h.onInput = fn
}

func (h *Hub) SetBatchEnabled(enabled bool) {
	h.batchEnabled.Store(enabled)
}

func (h *Hub) FlushPendingOutput() {
	if h.rateLimiter != nil {
		h.rateLimiter.FlushAll()
	}
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		log.Printf("unregister channel full for client %s, forcing close", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
