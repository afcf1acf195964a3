// Package broadcast implements the event broadcaster (component I):
// best-effort fan-out of position and alarm events to subscribed
// WebSocket clients. Delivery must never back-pressure ingestion, so the
// hub's internal channel is fed with a non-blocking send.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetgate/internal/wire"
	"fleetgate/pkg/colors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is the envelope pushed to every subscribed client.
type Event struct {
	Type      string      `json:"type"` // "position" or "alarm"
	Identity  string      `json:"identity"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type positionData struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	SpeedKmh   uint8   `json:"speed_kmh"`
	CourseDeg  uint16  `json:"course_deg"`
	GPSValid   bool    `json:"gps_valid"`
	Satellites uint8   `json:"satellites"`
}

type alarmData struct {
	positionData
	AlarmKind      int  `json:"alarm_kind"`
	BatteryPercent int  `json:"battery_percent"`
	GSMBars        int  `json:"gsm_bars"`
	OilElectricCut bool `json:"oil_electric_cut"`
}

// Hub manages subscribed WebSocket clients and relays position/alarm
// events. The ingestion path only ever touches the buffered events
// channel, never a socket directly, so a slow UI client cannot
// back-pressure a device connection.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	events     chan []byte
}

// NewHub returns an unstarted Hub. Call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		events:     make(chan []byte, 256),
	}
}

// Run services registration and fan-out until the process exits.
func (h *Hub) Run() {
	colors.PrintServer("~", "event broadcaster started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()

		case msg := <-h.events:
			h.mu.RLock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					go func(c *websocket.Conn) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ServeWS upgrades an HTTP request to a WebSocket subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

// publish marshals and pushes an event without blocking the caller.
func (h *Hub) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		colors.PrintError("broadcast: marshal event: %v", err)
		return
	}
	select {
	case h.events <- payload:
	default:
		colors.PrintWarning("broadcast: dropping event, hub backlog full")
	}
}

// PublishPosition implements session.Broadcaster.
func (h *Hub) PublishPosition(identity wire.DeviceIdentity, pos wire.Position) {
	h.publish(Event{
		Type:      "position",
		Identity:  identity.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data: positionData{
			Lat:        pos.Lat,
			Lon:        pos.Lon,
			SpeedKmh:   pos.SpeedKmh,
			CourseDeg:  pos.CourseDeg,
			GPSValid:   pos.GPSValid,
			Satellites: pos.Satellites,
		},
	})
}

// PublishAlarm implements session.Broadcaster.
func (h *Hub) PublishAlarm(identity wire.DeviceIdentity, pos wire.Position, status wire.DeviceStatus) {
	h.publish(Event{
		Type:      "alarm",
		Identity:  identity.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data: alarmData{
			positionData: positionData{
				Lat:        pos.Lat,
				Lon:        pos.Lon,
				SpeedKmh:   pos.SpeedKmh,
				CourseDeg:  pos.CourseDeg,
				GPSValid:   pos.GPSValid,
				Satellites: pos.Satellites,
			},
			AlarmKind:      int(status.Alarm),
			BatteryPercent: status.BatteryPercent,
			GSMBars:        int(status.GSMBars),
			OilElectricCut: status.OilElectricCut,
		},
	})
}
