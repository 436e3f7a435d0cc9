package location

import (
	"sync"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/logger"
)

var logg = logger.NewLogger()

// Hub keeps the open websocket connections of every user. A user can be connected
// from several devices at once.
type Hub struct {
	clients map[uint]map[*Client]struct{}
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uint]map[*Client]struct{})}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]struct{})
	}
	h.clients[client.userID][client] = struct{}{}

	logg.Infof(colors.Prefix("hub", colors.Blue)+"client connected for user %v (%v open)",
		client.userID, len(h.clients[client.userID]))
}

// Unregister removes client & closes its send channel. It's safe to call more
// than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	connections, ok := h.clients[client.userID]
	if !ok {
		return
	}

	if _, ok := connections[client]; !ok {
		return
	}

	delete(connections, client)
	close(client.send)

	if len(connections) == 0 {
		delete(h.clients, client.userID)
	}

	logg.Infof(colors.Prefix("hub", colors.Blue)+"client disconnected for user %v", client.userID)
}

// SendToUser delivers event to every connection of userID
func (h *Hub) SendToUser(userID uint, event Event) {
	h.SendToUsers([]uint{userID}, event)
}

// SendToUsers delivers event to every connection of the given users
func (h *Hub) SendToUsers(userIDs []uint, event Event) {
	data, err := event.encode()
	if err != nil {
		logg.Errorf(colors.Prefix("hub", colors.Red)+"failed to encode %v event: %v", event.Type, err)
		return
	}

	h.sendRaw(userIDs, data)
}

// DisconnectUser closes every connection of userID
func (h *Hub) DisconnectUser(userID uint) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[userID]))
	for client := range h.clients[userID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.Unregister(client)
	}
}

// ConnectionCount returns how many connections userID has open
func (h *Hub) ConnectionCount(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[userID])
}

// sendRaw never blocks: a client whose buffer is full is dropped
func (h *Hub) sendRaw(userIDs []uint, data []byte) {
	slowClients := []*Client{}

	h.mu.RLock()
	for _, userID := range userIDs {
		for client := range h.clients[userID] {
			select {
			case client.send <- data:
			default:
				slowClients = append(slowClients, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range slowClients {
		logg.Warnf(colors.Prefix("hub", colors.Yellow)+"dropping slow client for user %v", client.userID)
		h.Unregister(client)
	}
}
