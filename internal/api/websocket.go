package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/proofmeet/courtcard-engine/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Any origin is accepted; /stream sits behind the officer bearer-token check
	},
}

// Hub maintains the set of connected officer dashboards and broadcasts
// issuance and finalization alerts to them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Set write deadline to prevent blocked clients from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				log.Printf("Websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections from dashboards.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	log.Printf("New dashboard client connected. Total clients: %d", len(h.clients))

	// Keep alive loop (we only push down, but we must read to handle disconnects)
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("Dashboard client disconnected. Total clients: %d", len(h.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast sends JSON data to all connected clients.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// BroadcastCardIssued pushes a card.issued alert to every dashboard.
// Wired as the issuer's onIssued callback.
func BroadcastCardIssued(hub *Hub) func(*models.CourtCard) {
	return func(card *models.CourtCard) {
		payload := gin.H{
			"type": "card.issued",
			"card": gin.H{
				"number":        card.Number,
				"participant":   card.Participant.Name,
				"caseNumber":    card.Participant.CaseNumber,
				"meeting":       card.Meeting.Name,
				"verdict":       card.Verdict,
				"attendancePct": card.Metrics.AttendancePct,
				"chainPosition": card.ChainPosition,
				"generatedAt":   card.GeneratedAt.Format(time.RFC3339),
			},
		}
		alertBytes, _ := json.Marshal(payload)
		hub.Broadcast(alertBytes)
		log.Printf("[ALERT] 📇 Card %s issued: %s (%s, %.1f%%)",
			card.Number, card.Verdict, card.Participant.Name, card.Metrics.AttendancePct)
	}
}

// BroadcastFullySigned pushes a card.fully_signed alert. Wired as the
// signature collector's completion listener.
func BroadcastFullySigned(hub *Hub) func(*models.CourtCard) {
	return func(card *models.CourtCard) {
		payload := gin.H{
			"type": "card.fully_signed",
			"card": gin.H{
				"number":     card.Number,
				"caseNumber": card.Participant.CaseNumber,
			},
		}
		alertBytes, _ := json.Marshal(payload)
		hub.Broadcast(alertBytes)
	}
}
