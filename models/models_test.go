package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRoomIDRoundTrip(t *testing.T) {
	roomID := RoomIDForConsultation("c1")
	if roomID != "consultation_c1" {
		t.Fatalf("room id = %q", roomID)
	}
	if id, ok := ConsultationIDFromRoom(roomID); !ok || id != "c1" {
		t.Fatalf("ConsultationIDFromRoom = (%q, %v)", id, ok)
	}
	if _, ok := ConsultationIDFromRoom("consultation_"); ok {
		t.Error("bare prefix must not parse")
	}
	if _, ok := ConsultationIDFromRoom("lobby"); ok {
		t.Error("foreign ids must not parse")
	}
}

func TestRoomUpsertReplacesInPlace(t *testing.T) {
	r := NewRoom("c1", time.Now())

	if r.Upsert(Participant{UserID: "f1", ConnectionID: "a"}) {
		t.Fatal("first insert reported existing")
	}
	r.Upsert(Participant{UserID: "e1", ConnectionID: "b"})
	if !r.Upsert(Participant{UserID: "f1", ConnectionID: "c"}) {
		t.Fatal("re-join should report existing")
	}

	if len(r.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(r.Participants))
	}
	if r.Participants[0].UserID != "f1" || r.Participants[0].ConnectionID != "c" {
		t.Errorf("re-join should keep position and update connection: %+v", r.Participants[0])
	}

	others := r.Others("f1")
	if len(others) != 1 || others[0].UserID != "e1" {
		t.Errorf("Others = %+v", others)
	}

	if !r.Remove("f1") || r.Remove("f1") {
		t.Error("Remove should succeed once")
	}
}

func TestRoomAcceptsThirdParticipant(t *testing.T) {
	r := NewRoom("c1", time.Now())
	for _, id := range []string{"f1", "e1", "a1"} {
		r.Upsert(Participant{UserID: id, ConnectionID: "conn-" + id})
	}
	if len(r.Participants) != 3 {
		t.Fatalf("participants = %d, want 3", len(r.Participants))
	}
	if got := r.Others("a1"); len(got) != 2 {
		t.Fatalf("Others(a1) = %+v", got)
	}
}

func TestRoomRecordAndSnapshot(t *testing.T) {
	r := NewRoom("c1", time.Now())
	r.Record(SignalOffer, "f1", "e1", json.RawMessage(`{"sdp":"v=0 a"}`))
	r.Record(SignalOffer, "f1", "e1", json.RawMessage(`{"sdp":"v=0 b"}`))
	r.Record(SignalICECandidate, "f1", "e1", json.RawMessage(`{"candidate":"1"}`))
	r.Record(SignalICECandidate, "f1", "e1", json.RawMessage(`{"candidate":"2"}`))

	snap := r.Snapshot()
	if snap.PendingOfferCount != 1 {
		t.Errorf("offers = %d, want latest only", snap.PendingOfferCount)
	}
	if snap.PendingICECandidateCount != 2 {
		t.Errorf("candidates = %d, want 2", snap.PendingICECandidateCount)
	}
	if got := string(r.PendingOffers[PeerPair{From: "f1", To: "e1"}]); got != `{"sdp":"v=0 b"}` {
		t.Errorf("latest offer = %s", got)
	}
}

func TestConsultationParties(t *testing.T) {
	c := Consultation{ID: "c1", FarmerID: "f1", ExpertID: "e1"}

	if !c.HasParty("f1") || !c.HasParty("e1") || c.HasParty("x1") || c.HasParty("") {
		t.Error("HasParty mismatch")
	}
	if c.OtherParty("f1") != "e1" || c.OtherParty("e1") != "f1" || c.OtherParty("x1") != "" {
		t.Error("OtherParty mismatch")
	}
}

func TestSendChatMessageRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     SendChatMessageRequest
		wantErr bool
		content string
	}{
		{"trims", SendChatMessageRequest{ConsultationID: "c1", Content: "  hello \n"}, false, "hello"},
		{"blank", SendChatMessageRequest{ConsultationID: "c1", Content: "   "}, true, ""},
		{"too long", SendChatMessageRequest{ConsultationID: "c1", Content: strings.Repeat("ö", 11)}, true, ""},
		{"exact max in runes", SendChatMessageRequest{ConsultationID: "c1", Content: strings.Repeat("ö", 10)}, false, strings.Repeat("ö", 10)},
		{"unknown type", SendChatMessageRequest{ConsultationID: "c1", Content: "x", Type: "video"}, true, ""},
		{"no consultation", SendChatMessageRequest{Content: "x"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(10)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if tt.req.Content != tt.content {
					t.Errorf("content = %q, want %q", tt.req.Content, tt.content)
				}
				if tt.req.Type != ChatMessageText {
					t.Errorf("type = %q, want text default", tt.req.Type)
				}
			}
		})
	}
}
