// Package models defines the domain types shared by the gateway and services.
//
// A video room is the in-memory meeting point of one consultation's call.
// It is never persisted: it is created by the first join and removed when
// the last participant leaves or someone ends the call.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

const roomIDPrefix = "consultation_"

// RoomIDForConsultation derives the room id of a consultation. One room per
// consultation, so the mapping is a plain prefix.
func RoomIDForConsultation(consultationID string) string {
	return roomIDPrefix + consultationID
}

// ConsultationIDFromRoom reverses RoomIDForConsultation.
func ConsultationIDFromRoom(roomID string) (string, bool) {
	if !strings.HasPrefix(roomID, roomIDPrefix) || len(roomID) == len(roomIDPrefix) {
		return "", false
	}
	return strings.TrimPrefix(roomID, roomIDPrefix), true
}

// SignalKind is the type of a relayed negotiation message.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice_candidate"
)

// Participant is one user's seat in a room.
type Participant struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
}

// PeerPair keys negotiation artifacts by direction.
type PeerPair struct {
	From string
	To   string
}

// Room is the registry entry for one consultation call.
//
// PendingOffers, PendingAnswers and PendingICECandidates record what was
// relayed through the room. Nothing replays them yet; they only show up as
// counts in Snapshot.
type Room struct {
	ID              string
	ConsultationID  string
	InitiatorUserID string
	Participants    []Participant
	CreatedAt       time.Time

	PendingOffers        map[PeerPair]json.RawMessage
	PendingAnswers       map[PeerPair]json.RawMessage
	PendingICECandidates map[PeerPair][]json.RawMessage
}

// NewRoom creates an empty room for consultationID.
func NewRoom(consultationID string, now time.Time) *Room {
	return &Room{
		ID:                   RoomIDForConsultation(consultationID),
		ConsultationID:       consultationID,
		CreatedAt:            now,
		PendingOffers:        make(map[PeerPair]json.RawMessage),
		PendingAnswers:       make(map[PeerPair]json.RawMessage),
		PendingICECandidates: make(map[PeerPair][]json.RawMessage),
	}
}

// IndexOf returns the position of userID in Participants, or -1.
func (r *Room) IndexOf(userID string) int {
	for i, p := range r.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// Upsert inserts p or replaces the entry with the same user id in place.
// It reports whether the user was already present.
func (r *Room) Upsert(p Participant) bool {
	if i := r.IndexOf(p.UserID); i >= 0 {
		r.Participants[i] = p
		return true
	}
	r.Participants = append(r.Participants, p)
	return false
}

// Remove drops userID and reports whether it was present.
func (r *Room) Remove(userID string) bool {
	i := r.IndexOf(userID)
	if i < 0 {
		return false
	}
	r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
	return true
}

// Others returns a copy of every participant except userID.
func (r *Room) Others(userID string) []Participant {
	others := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if p.UserID != userID {
			others = append(others, p)
		}
	}
	return others
}

// Record stores a relayed payload under its direction. Offers and answers
// keep only the latest blob; candidates accumulate.
func (r *Room) Record(kind SignalKind, from, to string, payload json.RawMessage) {
	key := PeerPair{From: from, To: to}
	switch kind {
	case SignalOffer:
		r.PendingOffers[key] = payload
	case SignalAnswer:
		r.PendingAnswers[key] = payload
	case SignalICECandidate:
		r.PendingICECandidates[key] = append(r.PendingICECandidates[key], payload)
	}
}

// Snapshot copies the externally visible room state.
func (r *Room) Snapshot() RoomSnapshot {
	candidates := 0
	for _, list := range r.PendingICECandidates {
		candidates += len(list)
	}
	return RoomSnapshot{
		RoomID:                   r.ID,
		ConsultationID:           r.ConsultationID,
		InitiatorUserID:          r.InitiatorUserID,
		Participants:             append([]Participant(nil), r.Participants...),
		PendingOfferCount:        len(r.PendingOffers),
		PendingAnswerCount:       len(r.PendingAnswers),
		PendingICECandidateCount: candidates,
		CreatedAt:                r.CreatedAt,
	}
}

// RoomSnapshot is the read-only view served by the room status endpoint.
type RoomSnapshot struct {
	RoomID                   string        `json:"room_id"`
	ConsultationID           string        `json:"consultation_id"`
	InitiatorUserID          string        `json:"initiator_user_id"`
	Participants             []Participant `json:"participants"`
	PendingOfferCount        int           `json:"pending_offer_count"`
	PendingAnswerCount       int           `json:"pending_answer_count"`
	PendingICECandidateCount int           `json:"pending_ice_candidate_count"`
	CreatedAt                time.Time     `json:"created_at"`
}

// JoinResult is the acknowledgement of a successful join.
type JoinResult struct {
	RoomID            string        `json:"room_id"`
	ConsultationID    string        `json:"consultation_id"`
	IsInitiator       bool          `json:"is_initiator"`
	OtherParticipants []Participant `json:"other_participants"`
}

// LeaveResult describes what a leave did. Left is false when the caller was
// not in the room, in which case nobody was notified.
type LeaveResult struct {
	RoomID         string `json:"room_id"`
	Left           bool   `json:"left"`
	RemainingCount int    `json:"remaining_count"`
}
