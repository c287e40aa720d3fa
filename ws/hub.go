package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// RosterLoader reads the current student and course name lists.
type RosterLoader func(ctx context.Context) (interface{}, error)

// Hub keeps the open roster pages and pushes fresh student and course name
// lists to them after every change. Loading a snapshot and queueing it
// happen under one lock, so every page receives snapshots in the order they
// were read.
type Hub struct {
	clients map[*Client]bool
	load    RosterLoader
	mu      sync.Mutex
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(load RosterLoader) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		load:    load,
	}
}

// HandleConnection registers conn, queues the current roster for it and
// starts its pumps.
func (h *Hub) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 16),
	}

	h.mu.Lock()
	h.clients[client] = true
	if data, err := h.snapshot(ctx); err == nil {
		client.send <- data
	}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

// Publish reads the roster and sends it to every connected page.
func (h *Hub) Publish(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) == 0 {
		return
	}

	data, err := h.snapshot(ctx)
	if err != nil {
		return
	}

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			log.Printf("Roster client send buffer full, dropping update")
		}
	}
}

func (h *Hub) snapshot(ctx context.Context) ([]byte, error) {
	roster, err := h.load(ctx)
	if err != nil {
		log.Printf("Failed to load roster: %v", err)
		return nil, err
	}

	data, err := json.Marshal(OutgoingMessage{Type: TypeRosterUpdate, Payload: roster})
	if err != nil {
		log.Printf("Failed to marshal roster update: %v", err)
	}
	return data, err
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// readPump only watches for the close; pages never send anything.
func (h *Hub) readPump(client *Client) {
	defer func() {
		h.removeClient(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Roster WebSocket error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
