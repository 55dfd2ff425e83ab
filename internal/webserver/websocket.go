package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Websocket actions a viewer may send.
const (
	ActionAnswer     = "answer"
	ActionDecline    = "decline"
	ActionValidate   = "validate"
	ActionVisibility = "visibility"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSRequest is a message from a viewer.
type WSRequest struct {
	ID        string     `json:"id"`
	Action    string     `json:"action"`
	RequestID string     `json:"request_id,omitempty"`
	Payload   AnswerBody `json:"payload"`
}

// WSMessage is sent to viewers: either a reply to a WSRequest (ID and
// Action set) or a pushed document change (Type "change").
type WSMessage struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Action string          `json:"action,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *errorBody      `json:"error,omitempty"`
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	logger *logger.Logger
}

func (s *Server) httpWebsocket(c *gin.Context) {
	changes := s.broker.Subscribe()
	defer s.broker.Unsubscribe(changes)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}
	id := uuid.New().String()
	client := &wsClient{
		id:     id,
		conn:   conn,
		server: s,
		send:   make(chan []byte, 64),
		logger: s.logger.WithFields(zap.String("client_id", id)),
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go client.writePump(ctx, changes)
	client.readPump(ctx)
}

func (c *wsClient) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		var req WSRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(WSMessage{Type: "error", Error: &errorBody{Error: "invalid message format"}})
			continue
		}
		c.reply(c.handle(ctx, req))
	}
}

func (c *wsClient) handle(ctx context.Context, req WSRequest) WSMessage {
	msg := WSMessage{ID: req.ID, Type: "response", Action: req.Action}
	var (
		result any
		err    error
	)
	switch req.Action {
	case ActionAnswer:
		result, err = c.server.Submit(ctx, req.RequestID, req.Payload)
	case ActionDecline:
		result, err = c.server.committer.Decline(ctx, req.RequestID)
	case ActionValidate:
		result, err = c.server.Validate(ctx, req.RequestID, req.Payload)
	case ActionVisibility:
		if c.server.waker != nil {
			c.server.waker.Wake()
		}
		return msg
	default:
		msg.Error = &errorBody{Error: "unknown action " + req.Action}
		return msg
	}

	if err != nil {
		if f, ok := lifecycle.AsFailure(err); ok {
			msg.Error = &errorBody{Error: f.Error(), Reason: f.Reason, Status: f.Status, AnsweredBy: f.By}
		} else {
			c.logger.Error("websocket action failed", zap.String("action", req.Action), zap.Error(err))
			msg.Error = &errorBody{Error: err.Error()}
		}
		return msg
	}
	msg.Data, _ = json.Marshal(result)
	return msg
}

func (c *wsClient) reply(m WSMessage) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("dropping reply for slow client", zap.String("action", m.Action))
	}
}

func (c *wsClient) writePump(ctx context.Context, changes chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(data []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case data := <-c.send:
			if !write(data) {
				return
			}
		case change, ok := <-changes:
			if !ok {
				return
			}
			msg, _ := json.Marshal(WSMessage{Type: "change", Data: change})
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
