package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"nfstrace/internal/engine"
	"nfstrace/internal/models"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	// sendBuffer bounds the per-client queue. Packet messages are dropped
	// when it is full; control messages displace the oldest queued one.
	sendBuffer = 512
)

var errClientGone = errors.New("websocket client disconnected")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is one websocket viewer. It implements engine.Client.
type WSClient struct {
	conn   *websocket.Conn
	eng    *engine.Engine
	log    logrus.FieldLogger
	sendCh chan models.WSMessage
	done   chan struct{}
}

// NewWSClient registers a client for conn with eng and starts its writer.
func NewWSClient(conn *websocket.Conn, eng *engine.Engine) *WSClient {
	c := &WSClient{
		conn:   conn,
		eng:    eng,
		log:    logrus.WithField("remote", conn.RemoteAddr().String()),
		sendCh: make(chan models.WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	eng.RegisterClient(c)
	go c.writeLoop()
	return c
}

// SendMessage queues msg without blocking the replay.
func (c *WSClient) SendMessage(msg models.WSMessage) error {
	select {
	case <-c.done:
		return errClientGone
	default:
	}
	if c.enqueue(msg) || msg.Type == "packet" {
		return nil
	}
	select {
	case <-c.sendCh:
	default:
	}
	c.enqueue(msg)
	return nil
}

func (c *WSClient) enqueue(msg models.WSMessage) bool {
	select {
	case c.sendCh <- msg:
		return true
	default:
		return false
	}
}

func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.sendCh:
			if err := c.write(msg); err != nil {
				c.log.WithError(err).Debug("websocket write failed")
				return
			}
			// Flush whatever queued up meanwhile.
			for n := len(c.sendCh); n > 0; n-- {
				if err := c.write(<-c.sendCh); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) write(msg models.WSMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// ReadLoop dispatches client commands until the connection drops.
func (c *WSClient) ReadLoop() {
	defer func() {
		c.eng.UnregisterClient(c)
		// sendCh stays open: a replay may still hold this client.
		close(c.done)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg models.WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				c.sendError("invalid message format")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("websocket closed")
			}
			return
		}
		c.handleCommand(msg)
	}
}

func (c *WSClient) handleCommand(msg models.WSMessage) {
	switch msg.Type {
	case "load_traces":
		var req models.LoadTracesRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil || len(req.Files) == 0 {
			c.sendError("invalid load_traces payload")
			return
		}
		// In the background, so a stop command can get through.
		go func() {
			if _, err := c.eng.LoadTraces(req); err != nil {
				c.sendError("replay failed: " + err.Error())
			}
		}()
	case "stop":
		c.eng.Stop()
	default:
		c.sendError("unknown command: " + msg.Type)
	}
}

func (c *WSClient) sendError(message string) {
	payload, _ := json.Marshal(models.ErrorPayload{Message: message})
	c.SendMessage(models.WSMessage{Type: "error", Payload: payload})
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects.
func HandleWebSocket(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).Warn("websocket upgrade failed")
			return
		}
		NewWSClient(conn, eng).ReadLoop()
	}
}
