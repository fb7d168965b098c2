package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/ws"
)

// recordingHub is an in-memory ws.EventPublisher. Every delivered event is
// appended to the inbox of the receiving connection.
type recordingHub struct {
	mu       sync.Mutex
	owners   map[string]string // connID → userID
	presence map[string]string // userID → connID
	groups   map[string]map[string]bool
	inbox    map[string][]ws.Event
}

func newRecordingHub() *recordingHub {
	return &recordingHub{
		owners:   make(map[string]string),
		presence: make(map[string]string),
		groups:   make(map[string]map[string]bool),
		inbox:    make(map[string][]ws.Event),
	}
}

// connect registers a connection the way Hub.Register does and returns a
// caller for it.
func (h *recordingHub) connect(connID, userID string, role models.Role) models.Caller {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.owners[connID] = userID
	h.presence[userID] = connID
	h.joinLocked(connID, ws.UserChannel(userID))
	return models.Caller{
		Identity: models.Identity{UserID: userID, DisplayName: "User " + userID, Role: role},
		ConnID:   connID,
	}
}

func (h *recordingHub) disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, members := range h.groups {
		delete(members, connID)
	}
	if user := h.owners[connID]; h.presence[user] == connID {
		delete(h.presence, user)
	}
	delete(h.owners, connID)
}

// take drains and returns the inbox of connID.
func (h *recordingHub) take(connID string) []ws.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	events := h.inbox[connID]
	delete(h.inbox, connID)
	return events
}

func (h *recordingHub) ops(connID string) []string {
	var ops []string
	for _, ev := range h.take(connID) {
		ops = append(ops, ev.Op)
	}
	return ops
}

func (h *recordingHub) SendToConnection(connID string, event ws.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.owners[connID]; !ok {
		return false
	}
	h.inbox[connID] = append(h.inbox[connID], event)
	return true
}

func (h *recordingHub) SendToUser(userID string, event ws.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	connID, ok := h.presence[userID]
	if !ok {
		return false
	}
	h.inbox[connID] = append(h.inbox[connID], event)
	return true
}

func (h *recordingHub) BroadcastToGroup(group, excludeConnID string, event ws.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connID := range h.groups[group] {
		if connID != excludeConnID {
			h.inbox[connID] = append(h.inbox[connID], event)
		}
	}
}

func (h *recordingHub) JoinGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.owners[connID]; ok {
		h.joinLocked(connID, group)
	}
}

func (h *recordingHub) joinLocked(connID, group string) {
	if h.groups[group] == nil {
		h.groups[group] = make(map[string]bool)
	}
	h.groups[group][connID] = true
}

func (h *recordingHub) LeaveGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups[group], connID)
}

func (h *recordingHub) DissolveGroup(group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups, group)
}

func (h *recordingHub) UserInGroup(userID, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connID := range h.groups[group] {
		if h.owners[connID] == userID {
			return true
		}
	}
	return false
}

func (h *recordingHub) inGroup(connID, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.groups[group][connID]
}

// stubConsultations is a ConsultationGetter backed by a map.
type stubConsultations struct {
	byID  map[string]models.Consultation
	calls int
}

func newStubConsultations(cs ...models.Consultation) *stubConsultations {
	s := &stubConsultations{byID: make(map[string]models.Consultation)}
	for _, c := range cs {
		s.byID[c.ID] = c
	}
	return s
}

func (s *stubConsultations) GetByID(_ context.Context, id string) (*models.Consultation, error) {
	s.calls++
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: consultation %s", pkg.ErrNotFound, id)
	}
	return &c, nil
}

var c1 = models.Consultation{ID: "c1", FarmerID: "f1", ExpertID: "e1", Status: models.ConsultationConfirmed}
