// Package websocket runs the live reload hub. Browsers served by the
// develop server connect to it and reload when the watcher reports a change.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/validation"
)

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
	sendBuffer   = 16
)

// Hub fans reload messages out to every connected browser.
//
// The clients map is owned by the runHub goroutine for writes; readers
// take clientsMutex.
type Hub struct {
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *websocket.Conn

	originValidator OriginValidator
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	done         chan struct{}
}

// HostOrigins accepts loopback origins plus the listed hosts.
type HostOrigins []string

// IsAllowedOrigin implements OriginValidator.
func (h HostOrigins) IsAllowedOrigin(origin string) bool {
	return validation.ValidateOrigin(origin, h) == nil
}

// NewHub creates a hub and starts its event loop.
func NewHub(originValidator OriginValidator, logger logging.Logger) *Hub {
	if originValidator == nil {
		originValidator = HostOrigins(nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		clients:         make(map[*websocket.Conn]*Client),
		broadcast:       make(chan []byte, 64),
		register:        make(chan *Client, 32),
		unregister:      make(chan *websocket.Conn, 32),
		originValidator: originValidator,
		logger:          logger.WithComponent("livereload"),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	go hub.runHub()
	return hub
}

// ServeHTTP upgrades the request and registers the browser.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.originValidator.IsAllowedOrigin(origin) {
		h.logger.Warn(r.Context(), nil, "Live reload connection rejected", "origin", origin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	// Origin was checked above.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "Websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	h.handleClient(client)
}

// Reload tells every browser to reload. target is the changed path, if known.
func (h *Hub) Reload(target string) {
	h.Broadcast(UpdateMessage{
		Type:      MessageReload,
		Target:    target,
		Timestamp: time.Now(),
	})
}

// Broadcast queues msg for every connected client. Messages are dropped
// when the hub is shut down or its queue is full.
func (h *Hub) Broadcast(msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(h.ctx, err, "Failed to marshal live reload message")
		return
	}

	select {
	case <-h.ctx.Done():
		return
	default:
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn(h.ctx, nil, "Broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Clients returns the number of connected browsers.
func (h *Hub) Clients() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection and stops the event loop.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) runHub() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(h.ctx, "Browser connected", "client", client.id, "clients", total)

		case conn := <-h.unregister:
			h.remove(conn, websocket.StatusNormalClosure, "")

		case message := <-h.broadcast:
			h.clientsMutex.RLock()
			for conn, client := range h.clients {
				select {
				case client.send <- message:
				default:
					go func(c *websocket.Conn) {
						select {
						case h.unregister <- c:
						case <-h.ctx.Done():
						}
					}(conn)
				}
			}
			h.clientsMutex.RUnlock()

		case <-h.ctx.Done():
			h.clientsMutex.Lock()
			for conn, client := range h.clients {
				close(client.send)
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
			h.clients = make(map[*websocket.Conn]*Client)
			h.clientsMutex.Unlock()
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	h.clientsMutex.Lock()
	client, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(client.send)
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if ok {
		_ = conn.Close(code, reason)
		h.logger.Debug(h.ctx, "Browser disconnected", "client", client.id, "clients", total)
	}
}

// handleClient blocks until the browser goes away.
func (h *Hub) handleClient(client *Client) {
	defer func() {
		select {
		case h.unregister <- client.conn:
		case <-h.ctx.Done():
		}
	}()

	go h.writePump(client)

	// Browsers only send close frames; CloseRead discards anything else.
	readCtx := client.conn.CloseRead(h.ctx)
	<-readCtx.Done()
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(h.ctx, "Live reload write failed", "client", client.id, "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}
