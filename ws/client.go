package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/pkg/i18n"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent. Any frame, ping or
	// heartbeat op extends it.
	pongWait = 90 * time.Second

	// maxMessageSize leaves room for full SDP offers with many candidates.
	maxMessageSize = 64 * 1024

	// sendBufferSize is the per-connection outbound queue. A full queue
	// means the client stopped reading and gets dropped.
	sendBufferSize = 256

	// opTimeout bounds store round trips made while handling one event.
	opTimeout = 10 * time.Second
)

// Client is one authenticated WebSocket connection. ReadPump and WritePump
// run in their own goroutines; gorilla allows one concurrent reader and one
// concurrent writer.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	identity  models.Identity
	localizer *i18n.Localizer

	send chan []byte
	mu   sync.Mutex // serializes conn writes

	// groups is guarded by hub.mu.
	groups map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(hub *Hub, conn *websocket.Conn, connID string, identity models.Identity, localizer *i18n.Localizer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:        connID,
		hub:       hub,
		conn:      conn,
		identity:  identity,
		localizer: localizer,
		send:      make(chan []byte, sendBufferSize),
		groups:    make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) caller(ref string) models.Caller {
	return models.Caller{Identity: c.identity, ConnID: c.id, Ref: ref}
}

// ReadPump reads frames until the connection fails, handling each event
// before reading the next. On exit the client is unregistered, which
// triggers the disconnect callback.
func (c *Client) ReadPump() {
	defer func() {
		c.cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.extendDeadline(); err != nil {
		return
	}
	c.conn.SetPingHandler(func(appData string) error {
		if err := c.extendDeadline(); err != nil {
			return err
		}
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] unexpected close for user %s: %v", c.identity.UserID, err)
			}
			return
		}

		if err := c.extendDeadline(); err != nil {
			return
		}

		var event inboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("[ws] invalid message from user %s: %v", c.identity.UserID, err)
			continue
		}

		c.handleEvent(event)
	}
}

func (c *Client) extendDeadline() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[ws] failed to set read deadline for user %s: %v", c.identity.UserID, err)
		return err
	}
	return nil
}

func (c *Client) handleEvent(event inboundEvent) {
	switch event.Op {
	case OpHeartbeat:
		c.reply(Event{Op: OpHeartbeatAck, Ref: event.Ref})

	case OpJoinVideoRoom:
		var data VideoJoinData
		if c.decode(event, &data) && c.require(event, data.ConsultationID != "") && c.hub.onVideoJoin != nil {
			c.run(event, func(ctx context.Context) error {
				return c.hub.onVideoJoin(ctx, c.caller(event.Ref), data)
			})
		}

	case OpLeaveVideoRoom:
		var data VideoLeaveData
		if c.decode(event, &data) && c.require(event, data.RoomID != "") && c.hub.onVideoLeave != nil {
			c.run(event, func(ctx context.Context) error {
				return c.hub.onVideoLeave(ctx, c.caller(event.Ref), data)
			})
		}

	case OpEndCall:
		var data EndCallData
		if c.decode(event, &data) && c.require(event, data.RoomID != "" || data.ConsultationID != "") && c.hub.onEndCall != nil {
			c.run(event, func(ctx context.Context) error {
				return c.hub.onEndCall(ctx, c.caller(event.Ref), data)
			})
		}

	case OpOffer, OpAnswer, OpICECandidate:
		c.handleSignal(event)

	case OpJoinChat:
		var data ChatJoinData
		if c.decode(event, &data) && c.require(event, data.ConsultationID != "") && c.hub.onChatJoin != nil {
			c.run(event, func(ctx context.Context) error {
				return c.hub.onChatJoin(ctx, c.caller(event.Ref), data)
			})
		}

	case OpSendChatMessage:
		var req models.SendChatMessageRequest
		if c.decode(event, &req) && c.hub.onChatSend != nil {
			c.run(event, func(ctx context.Context) error {
				return c.hub.onChatSend(ctx, c.caller(event.Ref), req)
			})
		}

	case OpChatTyping:
		var data ChatTypingData
		if err := json.Unmarshal(event.Data, &data); err != nil || data.ConsultationID == "" {
			return
		}
		if c.hub.onChatTyping != nil {
			c.hub.onChatTyping(c.ctx, c.caller(""), data)
		}

	case OpMarkChatRead:
		var data ChatReadData
		if c.decode(event, &data) && c.require(event, data.ConsultationID != "" && len(data.MessageIDs) > 0) && c.hub.onChatRead != nil {
			c.run(event, func(ctx context.Context) error {
				return c.hub.onChatRead(ctx, c.caller(event.Ref), data)
			})
		}

	case OpLeaveChat:
		var data ChatLeaveData
		if c.decode(event, &data) && c.require(event, data.ConsultationID != "") && c.hub.onChatLeave != nil {
			c.run(event, func(ctx context.Context) error {
				return c.hub.onChatLeave(ctx, c.caller(event.Ref), data)
			})
		}

	default:
		log.Printf("[ws] unknown op from user %s: %s", c.identity.UserID, event.Op)
	}
}

// handleSignal validates a relay frame. Relays are fire-and-forget: a
// malformed one is logged and dropped without an error event.
func (c *Client) handleSignal(event inboundEvent) {
	var data SignalData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		log.Printf("[ws] invalid %s payload from user %s: %v", event.Op, c.identity.UserID, err)
		return
	}
	if data.RoomID == "" || len(data.Payload) == 0 {
		log.Printf("[ws] %s missing fields from user %s", event.Op, c.identity.UserID)
		return
	}

	if c.hub.onSignal != nil {
		c.hub.onSignal(c.ctx, c.caller(""), models.SignalKind(event.Op), data)
	}
}

// run executes an operation with a bounded context and reports its error.
func (c *Client) run(event inboundEvent, op func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(c.ctx, opTimeout)
	defer cancel()

	if err := op(ctx); err != nil {
		if pkg.ErrorCode(err) == pkg.CodeInternal {
			log.Printf("[ws] %s failed for user %s: %v", event.Op, c.identity.UserID, err)
		}
		c.sendError(event, err)
	}
}

// decode unmarshals the payload, answering bad_request on failure.
func (c *Client) decode(event inboundEvent, dst any) bool {
	if len(event.Data) == 0 {
		c.sendError(event, pkg.ErrBadRequest)
		return false
	}
	if err := json.Unmarshal(event.Data, dst); err != nil {
		c.sendError(event, pkg.ErrBadRequest)
		return false
	}
	return true
}

func (c *Client) require(event inboundEvent, ok bool) bool {
	if !ok {
		c.sendError(event, pkg.ErrBadRequest)
	}
	return ok
}

func (c *Client) sendError(event inboundEvent, err error) {
	code := pkg.ErrorCode(err)

	var message string
	var rle *pkg.RateLimitError
	if errors.As(err, &rle) {
		message = c.localizer.TWithParams("errors."+code, map[string]string{
			"seconds": strconv.Itoa(rle.RetryAfterSeconds),
		})
	} else {
		message = c.localizer.T("errors." + code)
	}

	c.reply(Event{
		Op:   OpError,
		Ref:  event.Ref,
		Data: ErrorData{Op: event.Op, Code: code, Message: message},
	})
}

// reply goes through the hub so it never races with channel close.
func (c *Client) reply(event Event) {
	c.hub.SendToConnection(c.id, event)
}

// WritePump drains send into the connection until the hub closes it.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for {
		message, ok := <-c.send
		if !ok {
			c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		if err := c.writeMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
