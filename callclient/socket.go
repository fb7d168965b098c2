package callclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/akinalp/agroconsult/ws"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 64

	// pongWait spans two missed pings. The gateway answers every ping, so
	// a longer silence means the connection is half-open.
	pongWait = 75 * time.Second
)

// Reply is the acknowledgement of a request.
type Reply struct {
	Op   string
	Data json.RawMessage
}

// inbound is a server event with its payload left raw.
type inbound struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"d"`
	Ref  string          `json:"ref"`
}

// Socket is a gateway connection. Events are dispatched to subscribers on
// the read goroutine in arrival order, so a handler must not block on
// Request.
type Socket struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	pending map[string]chan inbound
	subs    map[string]map[int]func(json.RawMessage)
	nextSub int
	userID  string

	connected chan struct{}
	helloOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a gateway connection authenticated with token. The returned
// socket is usable at once; WaitConnected blocks until the gateway has
// greeted it.
func Dial(ctx context.Context, url, token string) (*Socket, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	s := &Socket{
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		pending:   make(map[string]chan inbound),
		subs:      make(map[string]map[int]func(json.RawMessage)),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}

	go s.readPump()
	go s.writePump()

	return s, nil
}

// UserID is the caller's id as reported by the gateway greeting.
func (s *Socket) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// WaitConnected blocks until the gateway greeting arrives.
func (s *Socket) WaitConnected(ctx context.Context) error {
	select {
	case <-s.connected:
		return nil
	case <-s.done:
		return ErrSocketClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for gateway: %w", ctx.Err())
	}
}

// Send queues a fire-and-forget operation.
func (s *Socket) Send(op string, data any) error {
	return s.enqueue(ws.Event{Op: op, Data: data})
}

// Request sends op with a fresh ref and waits for the event carrying the
// same ref. An error event comes back as *RemoteError.
func (s *Socket) Request(ctx context.Context, op string, data any) (Reply, error) {
	ref := uuid.NewString()
	ch := make(chan inbound, 1)

	s.mu.Lock()
	s.pending[ref] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, ref)
		s.mu.Unlock()
	}()

	if err := s.enqueue(ws.Event{Op: op, Data: data, Ref: ref}); err != nil {
		return Reply{}, err
	}

	select {
	case ev := <-ch:
		if ev.Op == ws.OpError {
			var data ws.ErrorData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				return Reply{}, fmt.Errorf("failed to decode error reply: %w", err)
			}
			return Reply{}, &RemoteError{Op: op, Code: data.Code, Message: data.Message}
		}
		return Reply{Op: ev.Op, Data: ev.Data}, nil
	case <-s.done:
		return Reply{}, ErrSocketClosed
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Subscribe registers fn for events named op and returns a func that
// removes it.
func (s *Socket) Subscribe(op string, fn func(json.RawMessage)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	if s.subs[op] == nil {
		s.subs[op] = make(map[int]func(json.RawMessage))
	}
	s.subs[op][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[op], id)
	}
}

// Done is closed once the connection is gone.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Close ends the connection. Safe to call more than once.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Socket) enqueue(event ws.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event.Op, err)
	}

	select {
	case <-s.done:
		return ErrSocketClosed
	default:
	}

	select {
	case s.send <- raw:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (s *Socket) readPump() {
	defer func() {
		s.Close()
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev inbound
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[callclient] socket read error: %v", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(ev)
	}
}

func (s *Socket) dispatch(ev inbound) {
	if ev.Op == ws.OpHello {
		var hello ws.HelloData
		if err := json.Unmarshal(ev.Data, &hello); err == nil {
			s.mu.Lock()
			s.userID = hello.UserID
			s.mu.Unlock()
		}
		s.helloOnce.Do(func() { close(s.connected) })
		return
	}

	s.mu.Lock()
	if ev.Ref != "" {
		if ch, ok := s.pending[ev.Ref]; ok {
			s.mu.Unlock()
			// Only the first reply to a ref is wanted; a repeat must not
			// stall the read loop.
			select {
			case ch <- ev:
			default:
				log.Printf("[callclient] duplicate reply for ref %s dropped", ev.Ref)
			}
			return
		}
	}
	handlers := make([]func(json.RawMessage), 0, len(s.subs[ev.Op]))
	for _, fn := range s.subs[ev.Op] {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(ev.Data)
	}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case raw := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
