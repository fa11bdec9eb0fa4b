package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSClient is a Solana pubsub client for logsSubscribe with reconnect and ping handling
type WSClient struct {
	url    string
	logger *logrus.Logger

	mu            sync.RWMutex
	conn          *websocket.Conn
	subscriptions map[int]*Subscription
	nextID        int

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	reconnectDelay time.Duration
	readTimeout    time.Duration
	pingInterval   time.Duration

	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	reconnectCount   atomic.Int64
	lastActivity     atomic.Int64
}

// Subscription tracks one logsSubscribe request
type Subscription struct {
	ID          int
	ServerID    int
	Method      string
	Params      interface{}
	Handler     LogsHandler
	Active      bool
	Created     time.Time
	LastMessage time.Time
}

// LogsHandler receives each logs notification on the read loop; it must not block for long
type LogsHandler func(notification LogsNotification) error

// WSMessage is a JSON-RPC request, response or notification
type WSMessage struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      *int              `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  json.RawMessage   `json:"params,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *jsonrpc.RPCError `json:"error,omitempty"`
}

type wsRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// LogsNotification represents a logs notification
type LogsNotification struct {
	Subscription int `json:"subscription"`
	Result       struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value struct {
			Signature string      `json:"signature"`
			Err       interface{} `json:"err"`
			Logs      []string    `json:"logs"`
		} `json:"value"`
	} `json:"result"`
}

// NewWSClient creates a new WebSocket client
func NewWSClient(url string, logger *logrus.Logger) *WSClient {
	ws := &WSClient{
		url:            url,
		logger:         logger,
		subscriptions:  make(map[int]*Subscription),
		nextID:         1,
		done:           make(chan struct{}),
		reconnectDelay: 5 * time.Second,
		readTimeout:    60 * time.Second,
		pingInterval:   30 * time.Second,
	}
	ws.touch()
	return ws
}

func (ws *WSClient) touch() {
	ws.lastActivity.Store(time.Now().UnixNano())
}

// Connect dials the endpoint and starts the read and ping loops
func (ws *WSClient) Connect(ctx context.Context) error {
	ws.ctx, ws.cancel = context.WithCancel(ctx)

	if err := ws.dial(); err != nil {
		ws.cancel()
		return err
	}

	go ws.handleMessages()
	go ws.pingHandler()

	return nil
}

func (ws *WSClient) dial() error {
	ws.logger.WithField("url", ws.url).Info("🔌 Connecting to Solana WebSocket...")

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.DialContext(ws.ctx, ws.url, nil)
	if err != nil {
		if resp != nil {
			ws.logger.WithFields(logrus.Fields{
				"status":      resp.Status,
				"status_code": resp.StatusCode,
				"url":         ws.url,
			}).Error("❌ WebSocket connection failed")
		}
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	conn.SetReadLimit(8 * 1024 * 1024)
	// pongs keep an idle but healthy connection inside the read deadline
	conn.SetPongHandler(func(string) error {
		ws.touch()
		return conn.SetReadDeadline(time.Now().Add(ws.readTimeout))
	})

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	ws.touch()

	ws.logger.WithField("url", ws.url).Info("✅ WebSocket connected")
	return nil
}

// Disconnect stops the loops and closes the connection
func (ws *WSClient) Disconnect() error {
	if ws.cancel != nil {
		ws.cancel()
	}

	ws.mu.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.mu.Unlock()

	if conn == nil {
		return nil
	}

	ws.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.writeMu.Unlock()
	return conn.Close()
}

// Done is closed when the read loop exits
func (ws *WSClient) Done() <-chan struct{} {
	return ws.done
}

// SubscribeToLogs subscribes to log notifications for transactions mentioning programID
func (ws *WSClient) SubscribeToLogs(programID, commitment string, handler LogsHandler) (int, error) {
	if commitment == "" {
		commitment = "confirmed"
	}
	params := []interface{}{
		map[string]interface{}{
			"mentions": []string{programID},
		},
		map[string]interface{}{
			"commitment": commitment,
		},
	}

	ws.mu.Lock()
	id := ws.nextID
	ws.nextID++
	ws.subscriptions[id] = &Subscription{
		ID:      id,
		Method:  "logsSubscribe",
		Params:  params,
		Handler: handler,
		Created: time.Now(),
	}
	ws.mu.Unlock()

	if err := ws.send(wsRequest{JSONRPC: "2.0", ID: id, Method: "logsSubscribe", Params: params}); err != nil {
		ws.mu.Lock()
		delete(ws.subscriptions, id)
		ws.mu.Unlock()
		return 0, fmt.Errorf("failed to send subscription: %w", err)
	}

	ws.logger.WithFields(logrus.Fields{
		"id":         id,
		"program_id": programID,
		"commitment": commitment,
	}).Info("📡 Logs subscription requested")

	return id, nil
}

// Unsubscribe cancels a subscription by its request id
func (ws *WSClient) Unsubscribe(id int) error {
	ws.mu.Lock()
	sub, exists := ws.subscriptions[id]
	if exists {
		delete(ws.subscriptions, id)
	}
	reqID := ws.nextID
	ws.nextID++
	ws.mu.Unlock()

	if !exists {
		return fmt.Errorf("subscription %d not found", id)
	}
	if !sub.Active {
		return nil
	}

	if err := ws.send(wsRequest{JSONRPC: "2.0", ID: reqID, Method: "logsUnsubscribe", Params: []interface{}{sub.ServerID}}); err != nil {
		return fmt.Errorf("failed to send unsubscribe: %w", err)
	}

	ws.logger.WithField("id", id).Info("🗑️ Subscription cancelled")
	return nil
}

func (ws *WSClient) send(message interface{}) error {
	ws.mu.RLock()
	conn := ws.conn
	ws.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("WebSocket not connected")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ws.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	ws.writeMu.Unlock()
	if err != nil {
		return err
	}

	ws.messagesSent.Add(1)
	ws.touch()
	return nil
}

func (ws *WSClient) handleMessages() {
	defer close(ws.done)
	defer ws.logger.Info("🛑 Message handler stopped")

	for {
		if ws.ctx.Err() != nil {
			return
		}

		ws.mu.RLock()
		conn := ws.conn
		ws.mu.RUnlock()

		if conn == nil {
			if err := ws.reconnect(); err != nil {
				ws.logger.WithError(err).Error("❌ Reconnection failed")
				select {
				case <-ws.ctx.Done():
					return
				case <-time.After(ws.reconnectDelay):
				}
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(ws.readTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ws.ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.WithError(err).Error("❌ WebSocket read error")
			}
			ws.mu.Lock()
			if ws.conn == conn {
				ws.conn = nil
			}
			ws.mu.Unlock()
			conn.Close()
			continue
		}

		ws.messagesReceived.Add(1)
		ws.touch()

		var message WSMessage
		if err := json.Unmarshal(data, &message); err != nil {
			ws.logger.WithError(err).WithField("data", string(data[:min(len(data), 200)])).Error("❌ Failed to unmarshal WebSocket message")
			continue
		}

		ws.handleMessage(message)
	}
}

func (ws *WSClient) handleMessage(message WSMessage) {
	if message.Error != nil {
		ws.logger.WithFields(logrus.Fields{
			"code":    message.Error.Code,
			"message": message.Error.Message,
		}).Error("❌ WebSocket error received")
		return
	}

	// Subscription confirmations carry the server-side id
	if message.ID != nil && len(message.Result) > 0 {
		var serverID int
		if err := json.Unmarshal(message.Result, &serverID); err != nil {
			return
		}

		ws.mu.Lock()
		sub, exists := ws.subscriptions[*message.ID]
		if exists {
			sub.ServerID = serverID
			sub.Active = true
		}
		ws.mu.Unlock()

		if exists {
			ws.logger.WithFields(logrus.Fields{
				"id":        *message.ID,
				"server_id": serverID,
			}).Info("✅ WebSocket subscription confirmed")
		}
		return
	}

	switch message.Method {
	case "logsNotification":
		ws.handleLogsNotification(message.Params)
	case "":
	default:
		ws.logger.WithField("method", message.Method).Debug("❓ Unknown notification method")
	}
}

func (ws *WSClient) handleLogsNotification(params json.RawMessage) {
	var notification LogsNotification
	if err := json.Unmarshal(params, &notification); err != nil {
		ws.logger.WithError(err).Error("❌ Failed to unmarshal logs notification")
		return
	}

	ws.logger.WithFields(logrus.Fields{
		"signature":    notification.Result.Value.Signature,
		"subscription": notification.Subscription,
		"logs_count":   len(notification.Result.Value.Logs),
		"slot":         notification.Result.Context.Slot,
	}).Debug("📋 Logs notification received")

	ws.mu.Lock()
	var handler LogsHandler
	for _, sub := range ws.subscriptions {
		if sub.Active && sub.ServerID == notification.Subscription {
			sub.LastMessage = time.Now()
			handler = sub.Handler
			break
		}
	}
	ws.mu.Unlock()

	if handler == nil {
		ws.logger.WithField("subscription", notification.Subscription).Warn("⚠️ No handler found for logs notification")
		return
	}

	if err := handler(notification); err != nil {
		ws.logger.WithError(err).WithField("signature", notification.Result.Value.Signature).Error("❌ Logs notification handler error")
	}
}

// reconnect dials again and replays every known subscription
func (ws *WSClient) reconnect() error {
	attempt := ws.reconnectCount.Add(1)
	ws.logger.WithField("attempt", attempt).Info("🔄 Attempting to reconnect WebSocket...")

	if err := ws.dial(); err != nil {
		return fmt.Errorf("reconnection failed: %w", err)
	}

	ws.mu.Lock()
	pending := make([]*Subscription, 0, len(ws.subscriptions))
	for _, sub := range ws.subscriptions {
		sub.Active = false
		pending = append(pending, sub)
	}
	ws.mu.Unlock()

	resubscribed := 0
	for _, sub := range pending {
		if err := ws.send(wsRequest{JSONRPC: "2.0", ID: sub.ID, Method: sub.Method, Params: sub.Params}); err != nil {
			ws.logger.WithError(err).WithField("id", sub.ID).Error("❌ Failed to resubscribe")
			continue
		}
		resubscribed++
	}

	ws.logger.WithFields(logrus.Fields{
		"reconnect_count": attempt,
		"resubscribed":    resubscribed,
	}).Info("✅ WebSocket reconnected")

	return nil
}

func (ws *WSClient) pingHandler() {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ws.ctx.Done():
			return
		case <-ticker.C:
			ws.mu.RLock()
			conn := ws.conn
			ws.mu.RUnlock()
			if conn == nil {
				continue
			}

			ws.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			ws.writeMu.Unlock()
			if err != nil {
				ws.logger.WithError(err).Debug("❌ Failed to send ping")
			}

			lastActivity := time.Unix(0, ws.lastActivity.Load())
			if time.Since(lastActivity) > 2*time.Minute {
				ws.logger.WithField("last_activity", lastActivity).Warn("⚠️ Connection appears stale - no activity for 2+ minutes")
			}
		}
	}
}

// GetConnectionStats returns current connection statistics
func (ws *WSClient) GetConnectionStats() map[string]interface{} {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	active := 0
	for _, sub := range ws.subscriptions {
		if sub.Active {
			active++
		}
	}

	return map[string]interface{}{
		"messages_received":    ws.messagesReceived.Load(),
		"messages_sent":        ws.messagesSent.Load(),
		"active_subscriptions": active,
		"total_subscriptions":  len(ws.subscriptions),
		"reconnect_count":      ws.reconnectCount.Load(),
		"last_activity":        time.Unix(0, ws.lastActivity.Load()),
		"connection_active":    ws.conn != nil,
	}
}
