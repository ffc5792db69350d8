package scheduler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient serialises writes to one connection; gorilla/websocket allows a
// single concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// wsHandler upgrades the connection and sends the current status right away.
// Later updates arrive through the broadcast loop.
func (ws *WebServer) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.scheduler.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &wsClient{conn: conn}
	ws.clients.Store(client, struct{}{})
	ws.scheduler.logger.Printf("WebSocket client connected. Total clients: %d", ws.clientCount())

	defer func() {
		ws.clients.Delete(client)
		conn.Close()
		ws.scheduler.logger.Printf("WebSocket client disconnected. Total clients: %d", ws.clientCount())
	}()

	if message, err := ws.statusMessage(); err == nil {
		if err := client.write(message); err != nil {
			ws.scheduler.logger.Printf("Failed to send initial status: %v", err)
			return
		}
	}

	// Drain reads so close and ping frames are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ws.scheduler.logger.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// statusMessage encodes a status_update message.
func (ws *WebServer) statusMessage() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":   "status_update",
		"status": ws.buildStatusData(),
	})
}

// handleBroadcasts sends queued messages to all connected clients
func (ws *WebServer) handleBroadcasts() {
	for {
		select {
		case message := <-ws.broadcast:
			ws.clients.Range(func(key, _ any) bool {
				client := key.(*wsClient)
				if err := client.write(message); err != nil {
					ws.scheduler.logger.Printf("WebSocket write error: %v", err)
					client.conn.Close()
					ws.clients.Delete(client)
				}
				return true
			})
		case <-ws.done:
			return
		}
	}
}

// broadcastStatus queues a status update every pushInterval while clients
// are connected.
func (ws *WebServer) broadcastStatus() {
	ticker := time.NewTicker(ws.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ws.clientCount() == 0 {
				continue
			}
			message, err := ws.statusMessage()
			if err != nil {
				ws.scheduler.logger.Printf("Failed to marshal status data: %v", err)
				continue
			}
			select {
			case ws.broadcast <- message:
			default:
				// slow consumers; drop this update
			}
		case <-ws.done:
			return
		}
	}
}

func (ws *WebServer) clientCount() int {
	n := 0
	ws.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (ws *WebServer) closeClients() {
	ws.clients.Range(func(key, _ any) bool {
		key.(*wsClient).conn.Close()
		ws.clients.Delete(key)
		return true
	})
}
