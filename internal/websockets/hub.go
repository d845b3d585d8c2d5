// Package websockets pushes room events to subscribed clients. The channel
// is one-directional: clients receive race-state-update, load-game and
// race-ended messages and never send commands over it. Commands go through
// the HTTP surface.
package websockets

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scythe504/gameswap-backend/internal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 64
)

// StatusListener is told when a named participant's connection comes or goes.
type StatusListener interface {
	SetParticipantStatus(roomName, userName string, status internal.ParticipantStatus)
}

type client struct {
	roomName string
	userName string // optional; spectators subscribe without one
	conn     *websocket.Conn
	send     chan []byte
}

// Hub tracks the subscribers of every room and fans messages out to them.
// Sends go through per-client buffered channels, so broadcasting never blocks
// on a slow reader; a client that cannot keep up is dropped.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}

	statusListener StatusListener
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

// BindStatusListener wires connect/disconnect notifications. Set once during
// startup, before the handler is reachable.
func (h *Hub) BindStatusListener(listener StatusListener) {
	h.statusListener = listener
}

// HandleSubscribe upgrades the connection and registers it with the room
// named in the path. An optional userName query parameter links the
// connection to a participant so their connected flag tracks it.
func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["roomName"]
	if roomName == "" {
		http.Error(w, "missing room name", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub] Upgrade failed for room %q: %v", roomName, err)
		return
	}

	c := &client{
		roomName: roomName,
		userName: r.URL.Query().Get("userName"),
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	subscribers, ok := h.rooms[roomName]
	if !ok {
		subscribers = make(map[*client]struct{})
		h.rooms[roomName] = subscribers
	}
	subscribers[c] = struct{}{}
	count := len(subscribers)
	h.mu.Unlock()

	log.Printf("[Hub] Subscriber joined room %q, now %d", roomName, count)
	if c.userName != "" && h.statusListener != nil {
		h.statusListener.SetParticipantStatus(roomName, c.userName, internal.StatusConnected)
	}

	go h.writePump(c)
	go h.readPump(c)
}

// BroadcastRaceStateUpdate implements room.Broadcaster.
func (h *Hub) BroadcastRaceStateUpdate(data internal.RaceStateUpdateData) {
	h.broadcast(data.RoomName, internal.MsgRaceStateUpdate, data)
}

func (h *Hub) BroadcastLoadGame(data internal.LoadGameData) {
	h.broadcast(data.RoomName, internal.MsgLoadGame, data)
}

func (h *Hub) BroadcastRaceEnded(data internal.RaceEndedData) {
	h.broadcast(data.RoomName, internal.MsgRaceEnded, data)
}

func (h *Hub) broadcast(roomName, msgType string, data any) {
	payload, err := json.Marshal(internal.Message[any]{Type: msgType, Data: data})
	if err != nil {
		log.Printf("[Hub] Could not encode %s message for room %q: %v", msgType, roomName, err)
		return
	}

	h.mu.RLock()
	subscribers := make([]*client, 0, len(h.rooms[roomName]))
	for c := range h.rooms[roomName] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		select {
		case c.send <- payload:
		default:
			// Buffer full means the reader is stuck; cut them loose.
			log.Printf("[Hub] Dropping slow subscriber in room %q", roomName)
			h.remove(c)
		}
	}
}

// CloseRoom disconnects every subscriber of a room, used when the room is
// deleted.
func (h *Hub) CloseRoom(roomName string) {
	h.mu.Lock()
	subscribers := h.rooms[roomName]
	delete(h.rooms, roomName)
	h.mu.Unlock()

	for c := range subscribers {
		close(c.send)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	subscribers, ok := h.rooms[c.roomName]
	if !ok {
		// CloseRoom already took the whole room down, channel included.
		h.mu.Unlock()
		return
	}
	if _, present := subscribers[c]; !present {
		h.mu.Unlock()
		return
	}
	delete(subscribers, c)
	if len(subscribers) == 0 {
		delete(h.rooms, c.roomName)
	}
	h.mu.Unlock()
	close(c.send)

	// remove can run inside a broadcast, which the race-state callback invokes
	// with the race lock held. The status change mutates that same race, so it
	// must leave this goroutine or the room deadlocks.
	if c.userName != "" && h.statusListener != nil {
		go h.statusListener.SetParticipantStatus(c.roomName, c.userName, internal.StatusDisconnected)
	}
}

// writePump owns all writes on the connection, including pings. It exits when
// the send channel closes.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("[Hub] Write error in room %q: %v", c.roomName, err)
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards anything the client sends and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
