package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/clipforge/clipforge/pkg/logging"
	"github.com/clipforge/clipforge/pkg/models"
)

// Hub fans job snapshots out to connected websocket clients. It is
// the push-side complement of the polling status endpoints.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	log        *logging.Logger
	mu         sync.Mutex
}

func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NewLogger(logging.INFO, false)
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		log:        log.WithField("component", "ws"),
	}
}

// Start runs the hub loop on its own goroutine
func (h *Hub) Start() {
	go func() {
		for {
			select {
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				total := len(h.clients)
				h.mu.Unlock()
				h.log.Debug("websocket client connected", map[string]interface{}{"total": total})
			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					client.Close()
				}
				h.mu.Unlock()
			case message := <-h.broadcast:
				h.mu.Lock()
				for client := range h.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						client.Close()
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}()
}

// JobUpdated broadcasts a job snapshot. Satisfies pipeline.Notifier.
func (h *Hub) JobUpdated(job *models.Job) {
	update := map[string]interface{}{
		"type":         "job_update",
		"job_id":       job.ID,
		"status":       job.Status,
		"progress":     job.Progress,
		"current_step": job.CurrentStep,
	}
	if job.Status == models.JobStatusError && job.Error != "" {
		update["error"] = job.Error
	}
	if job.Status == models.JobStatusCompleted {
		update["output_ref"] = job.OutputRef
	}

	data, err := json.Marshal(update)
	if err != nil {
		h.log.Warn("failed to marshal job update", map[string]interface{}{"error": err.Error()})
		return
	}

	// drop rather than block the pipeline when clients are slow
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn) {
	h.register <- conn
}

func (h *Hub) UnregisterClient(conn *websocket.Conn) {
	h.unregister <- conn
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
