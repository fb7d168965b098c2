package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"github.com/akinalp/agroconsult/models"
)

// EventPublisher is the slice of the hub that services depend on. Services
// never see *Hub or *Client, only connection ids, user ids and group names.
type EventPublisher interface {
	// SendToConnection delivers to one connection. False if it is gone.
	SendToConnection(connID string, event Event) bool
	// SendToUser delivers to the user's presence connection (the most
	// recent one). False if the user is offline.
	SendToUser(userID string, event Event) bool
	// BroadcastToGroup delivers to every connection in group except
	// excludeConnID (may be empty).
	BroadcastToGroup(group, excludeConnID string, event Event)

	JoinGroup(connID, group string)
	LeaveGroup(connID, group string)
	// DissolveGroup removes every connection from group.
	DissolveGroup(group string)
	// UserInGroup reports whether any connection of userID is in group.
	UserInGroup(userID, group string) bool
}

// Operation callbacks. They run on the caller's read goroutine, one at a
// time per connection, so a sender's events are handled in order. A returned
// error goes back to the caller as an error event echoing its ref.
type (
	VideoJoinFunc  func(ctx context.Context, caller models.Caller, data VideoJoinData) error
	VideoLeaveFunc func(ctx context.Context, caller models.Caller, data VideoLeaveData) error
	EndCallFunc    func(ctx context.Context, caller models.Caller, data EndCallData) error
	SignalFunc     func(ctx context.Context, caller models.Caller, kind models.SignalKind, data SignalData)

	ChatJoinFunc   func(ctx context.Context, caller models.Caller, data ChatJoinData) error
	ChatSendFunc   func(ctx context.Context, caller models.Caller, req models.SendChatMessageRequest) error
	ChatTypingFunc func(ctx context.Context, caller models.Caller, data ChatTypingData)
	ChatReadFunc   func(ctx context.Context, caller models.Caller, data ChatReadData) error
	ChatLeaveFunc  func(ctx context.Context, caller models.Caller, data ChatLeaveData) error

	// DisconnectFunc receives the caller with an empty Ref.
	DisconnectFunc func(caller models.Caller)
)

// Hub owns every live connection.
//
//	clients:  connID → client
//	presence: userID → connID of the user's latest connection
//	groups:   group  → connID → client
//
// All three maps are guarded by mu. Sends never block: each client has a
// buffered channel, and a client whose buffer is full is dropped through
// the unregister channel handled by Run.
type Hub struct {
	clients  map[string]*Client
	presence map[string]string
	groups   map[string]map[string]*Client
	mu       sync.RWMutex

	unregister chan *Client
	quit       chan struct{}
	quitOnce   sync.Once

	seq atomic.Int64

	onVideoJoin  VideoJoinFunc
	onVideoLeave VideoLeaveFunc
	onEndCall    EndCallFunc
	onSignal     SignalFunc
	onChatJoin   ChatJoinFunc
	onChatSend   ChatSendFunc
	onChatTyping ChatTypingFunc
	onChatRead   ChatReadFunc
	onChatLeave  ChatLeaveFunc
	onDisconnect DisconnectFunc
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		presence:   make(map[string]string),
		groups:     make(map[string]map[string]*Client),
		unregister: make(chan *Client, 64),
		quit:       make(chan struct{}),
	}
}

// ─── Callback registration (wired in main) ───

func (h *Hub) OnVideoJoin(fn VideoJoinFunc) { h.onVideoJoin = fn }
func (h *Hub) OnVideoLeave(fn VideoLeaveFunc) { h.onVideoLeave = fn }
func (h *Hub) OnEndCall(fn EndCallFunc) { h.onEndCall = fn }
func (h *Hub) OnSignal(fn SignalFunc) { h.onSignal = fn }
func (h *Hub) OnChatJoin(fn ChatJoinFunc) { h.onChatJoin = fn }
func (h *Hub) OnChatSend(fn ChatSendFunc) { h.onChatSend = fn }
func (h *Hub) OnChatTyping(fn ChatTypingFunc) { h.onChatTyping = fn }
func (h *Hub) OnChatRead(fn ChatReadFunc) { h.onChatRead = fn }
func (h *Hub) OnChatLeave(fn ChatLeaveFunc) { h.onChatLeave = fn }
func (h *Hub) OnDisconnect(fn DisconnectFunc) { h.onDisconnect = fn }

// Run processes unregistrations until Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.removeClient(client)
		case <-h.quit:
			return
		}
	}
}

// Register adds a connection, points the user's presence entry at it and
// subscribes it to the user's personal channel. It runs synchronously so
// the connection is routable before its first event is read.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.id] = client
	if prev, ok := h.presence[client.identity.UserID]; ok && prev != client.id {
		log.Printf("[ws] presence moved: user=%s %s -> %s", client.identity.UserID, prev, client.id)
	}
	h.presence[client.identity.UserID] = client.id
	h.joinGroupLocked(client, UserChannel(client.identity.UserID))

	log.Printf("[ws] client connected: user=%s conn=%s (connections: %d)",
		client.identity.UserID, client.id, len(h.clients))
}

// Unregister schedules removal of client. Safe to call more than once and
// after Shutdown.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.id] != client {
		h.mu.Unlock()
		return
	}

	delete(h.clients, client.id)
	for group := range client.groups {
		h.leaveGroupLocked(client, group)
	}
	if h.presence[client.identity.UserID] == client.id {
		delete(h.presence, client.identity.UserID)
	}
	close(client.send)
	h.mu.Unlock()

	log.Printf("[ws] client disconnected: user=%s conn=%s", client.identity.UserID, client.id)

	if h.onDisconnect != nil {
		go h.onDisconnect(client.caller(""))
	}
}

// ─── EventPublisher ───

func (h *Hub) SendToConnection(connID string, event Event) bool {
	data, ok := h.encode(event)
	if !ok {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, exists := h.clients[connID]
	if !exists {
		return false
	}
	h.deliver(client, data)
	return true
}

func (h *Hub) SendToUser(userID string, event Event) bool {
	data, ok := h.encode(event)
	if !ok {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	connID, online := h.presence[userID]
	if !online {
		return false
	}
	client, exists := h.clients[connID]
	if !exists {
		return false
	}
	h.deliver(client, data)
	return true
}

func (h *Hub) BroadcastToGroup(group, excludeConnID string, event Event) {
	data, ok := h.encode(event)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, client := range h.groups[group] {
		if connID == excludeConnID {
			continue
		}
		h.deliver(client, data)
	}
}

func (h *Hub) JoinGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[connID]; ok {
		h.joinGroupLocked(client, group)
	}
}

func (h *Hub) LeaveGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[connID]; ok {
		h.leaveGroupLocked(client, group)
	}
}

func (h *Hub) DissolveGroup(group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.groups[group] {
		delete(client.groups, group)
	}
	delete(h.groups, group)
}

func (h *Hub) UserInGroup(userID, group string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.groups[group] {
		if client.identity.UserID == userID {
			return true
		}
	}
	return false
}

// IsOnline reports whether userID has a presence entry.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.presence[userID]
	return ok
}

// Shutdown closes every connection's send channel and stops Run.
func (h *Hub) Shutdown() {
	h.quitOnce.Do(func() { close(h.quit) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.presence = make(map[string]string)
	h.groups = make(map[string]map[string]*Client)
	log.Println("[ws] hub shut down, all connections closed")
}

// ─── internals (mu held by caller where noted) ───

func (h *Hub) encode(event Event) ([]byte, bool) {
	event.Seq = h.seq.Add(1)

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[ws] failed to marshal %s event: %v", event.Op, err)
		return nil, false
	}
	return data, true
}

// deliver requires at least a read lock, which keeps client.send open.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		log.Printf("[ws] send buffer full for user %s, dropping connection %s", client.identity.UserID, client.id)
		go h.Unregister(client)
	}
}

func (h *Hub) joinGroupLocked(client *Client, group string) {
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[client.id] = client
	client.groups[group] = true
}

func (h *Hub) leaveGroupLocked(client *Client, group string) {
	delete(client.groups, group)
	if members, ok := h.groups[group]; ok {
		delete(members, client.id)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}
