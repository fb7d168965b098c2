package models

import "time"

// ConsultationStatus mirrors the booking lifecycle kept by the consultation
// service. The signaling core only reads it.
type ConsultationStatus string

const (
	ConsultationPending   ConsultationStatus = "pending"
	ConsultationConfirmed ConsultationStatus = "confirmed"
	ConsultationCompleted ConsultationStatus = "completed"
	ConsultationCancelled ConsultationStatus = "cancelled"
)

// Consultation is the slice of a booking the gateway needs to authorize a
// caller: the two parties.
type Consultation struct {
	ID        string             `json:"id"`
	FarmerID  string             `json:"farmer_id"`
	ExpertID  string             `json:"expert_id"`
	Status    ConsultationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// HasParty reports whether userID is the farmer or the expert.
func (c *Consultation) HasParty(userID string) bool {
	return userID != "" && (userID == c.FarmerID || userID == c.ExpertID)
}

// OtherParty returns the counterpart of userID, or "" if userID is not a party.
func (c *Consultation) OtherParty(userID string) string {
	switch userID {
	case c.FarmerID:
		return c.ExpertID
	case c.ExpertID:
		return c.FarmerID
	}
	return ""
}
