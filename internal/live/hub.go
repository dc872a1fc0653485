package live

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/russeltsague/BM-Agency-sub000/internal/domain/model"
)

const (
	// sendBuffer — размер очереди исходящих сообщений соединения.
	sendBuffer = 16
	// writeWait — предел времени на запись одного сообщения.
	writeWait = 10 * time.Second
	// maxInboundMessage — входящие сообщения клиента не обрабатываются, только ping/close.
	maxInboundMessage = 512
	// defaultPingInterval — интервал ping, если не задан конфигурацией.
	defaultPingInterval = 30 * time.Second
)

// ErrHubClosed — хаб остановлен, новые соединения не принимаются.
var ErrHubClosed = errors.New("live-канал остановлен")

var (
	liveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bm_live_connections",
		Help: "Количество активных WebSocket-соединений.",
	})
	liveOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bm_live_online_users",
		Help: "Количество пользователей с открытым live-каналом.",
	})
)

// Message — сообщение, отправляемое клиенту.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NotificationPayload — представление уведомления в live-канале.
type NotificationPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

type client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub владеет WebSocket-соединениями и трекером присутствия.
// Создаётся один раз при старте и закрывается при остановке процесса.
type Hub struct {
	upgrader     websocket.Upgrader
	presence     *Presence
	pingInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
	wg      sync.WaitGroup
}

// NewHub создаёт хаб. Пустой allowedOrigins — только same-origin.
func NewHub(allowedOrigins []string, pingInterval time.Duration, logger *slog.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	h := &Hub{
		presence:     NewPresence(),
		pingInterval: pingInterval,
		logger:       logger.With(slog.String("component", "live_hub")),
		clients:      make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) > 0 {
		origins := slices.Clone(allowedOrigins)
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		}
	}
	return h
}

// Serve переводит запрос в WebSocket и обслуживает соединение пользователя
// до его закрытия. Аутентификация выполняется до вызова.
// ErrHubClosed возвращается только до апгрейда, когда ответ ещё не записан.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже записал ответ клиенту.
		return err
	}

	c := &client{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	if !h.register(c) {
		// Хаб закрылся во время апгрейда: соединение уже перехвачено.
		_ = conn.Close()
		return nil
	}
	defer h.unregister(c)

	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	if prev, ok := h.presence.Add(c.userID, c.id); ok {
		if old, exists := h.clients[prev]; exists {
			old.close()
		}
	}
	liveConnections.Inc()
	liveOnlineUsers.Set(float64(h.Online()))
	h.logger.Debug("Соединение открыто",
		slog.String("user_id", c.userID),
		slog.String("conn_id", c.id),
	)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	h.presence.Remove(c.id)
	c.close()
	liveConnections.Dec()
	liveOnlineUsers.Set(float64(h.Online()))
	h.logger.Debug("Соединение закрыто",
		slog.String("user_id", c.userID),
		slog.String("conn_id", c.id),
	)
}

// readPump читает управляющие кадры до ошибки или закрытия соединения.
func (h *Hub) readPump(c *client) {
	defer c.close()

	pongWait := 2 * h.pingInterval
	c.conn.SetReadLimit(maxInboundMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Соединение прервано",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// writePump — единственный писатель в соединение.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// NotifyUser ставит уведомление в очередь соединения пользователя.
// Возвращает false, если пользователь не подключён или очередь переполнена.
func (h *Hub) NotifyUser(userID string, n *model.Notification) bool {
	payload, err := json.Marshal(Message{
		Type: "notification",
		Data: NotificationPayload{
			ID:        n.ID,
			Type:      n.Type,
			Message:   n.Message,
			Data:      n.Data,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		},
	})
	if err != nil {
		h.logger.Error("Ошибка сериализации уведомления", slog.String("error", err.Error()))
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	connID, ok := h.presence.Lookup(userID)
	if !ok {
		return false
	}
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		h.logger.Warn("Очередь соединения переполнена, сообщение отброшено",
			slog.String("user_id", userID),
			slog.String("conn_id", connID),
		)
		return false
	}
}

// Online возвращает число подключённых пользователей.
func (h *Hub) Online() int {
	return h.presence.Len()
}

// IsOnline сообщает, подключён ли пользователь.
func (h *Hub) IsOnline(userID string) bool {
	_, ok := h.presence.Lookup(userID)
	return ok
}

// Close закрывает все соединения и ожидает завершения их обработчиков.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, c := range h.clients {
		c.close()
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.logger.Info("Live-канал остановлен")
}
