package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/activity_tracker/internal/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// StreamMessage is one websocket frame on /ws/activity.
type StreamMessage struct {
	Type string          `json:"type"` // "change" or "update"
	Data json.RawMessage `json:"data"`
}

type streamClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *streamClient) send(msg StreamMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// activityServer keeps the latest update and fans MQTT messages out to
// websocket clients.
type activityServer struct {
	mu         sync.RWMutex
	lastUpdate UpdateMessage
	haveUpdate bool

	clientsMu sync.Mutex
	clients   map[*streamClient]struct{}
}

func newActivityServer() *activityServer {
	return &activityServer{clients: make(map[*streamClient]struct{})}
}

// handleUpdate records an update payload and forwards it to stream clients.
func (s *activityServer) handleUpdate(payload []byte) error {
	var u UpdateMessage
	if err := json.Unmarshal(payload, &u); err != nil {
		return fmt.Errorf("update unmarshal error: %w", err)
	}
	s.mu.Lock()
	s.lastUpdate, s.haveUpdate = u, true
	s.mu.Unlock()

	s.broadcast(StreamMessage{Type: "update", Data: payload})
	return nil
}

// handleChange forwards a change payload to stream clients.
func (s *activityServer) handleChange(payload []byte) error {
	var ev ChangeMessage
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("change unmarshal error: %w", err)
	}
	s.broadcast(StreamMessage{Type: "change", Data: payload})
	return nil
}

func (s *activityServer) broadcast(msg StreamMessage) {
	s.clientsMu.Lock()
	clients := make([]*streamClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			log.Printf("web: websocket write error: %v", err)
			s.removeClient(c)
		}
	}
}

func (s *activityServer) removeClient(c *streamClient) {
	s.clientsMu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.clientsMu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (s *activityServer) clientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *activityServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.haveUpdate {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.lastUpdate); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func (s *activityServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	c := &streamClient{conn: conn}
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
	defer s.removeClient(c)

	// The stream is one-way; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket error: %v", err)
			}
			return
		}
	}
}

func (s *activityServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/activity", s.handleLatest)
	mux.HandleFunc("GET /ws/activity", s.handleStream)
	return mux
}

// RunWeb serves the latest activity over HTTP and streams activity events
// over a websocket, both fed from the tracker's MQTT topics.
func RunWeb(cfg *config.Config) error {
	srv := newActivityServer()

	// 1) Connect to MQTT broker
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to activity topics
	subscriptions := map[string]func([]byte) error{
		cfg.TopicActivityUpdate: srv.handleUpdate,
		cfg.TopicActivityChange: srv.handleChange,
	}
	for topic, handle := range subscriptions {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := handle(msg.Payload()); err != nil {
				log.Printf("MQTT payload error (%s): %v", msg.Topic(), err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("subscribed to MQTT topic %s", topic)
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, srv.routes())
}
