package services

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/ws"
)

func newVideoRoomFixture(t *testing.T) (VideoRoomService, *recordingHub) {
	t.Helper()
	consultations := NewConsultationService(newStubConsultations(c1), time.Minute)
	t.Cleanup(consultations.Close)

	hub := newRecordingHub()
	return NewVideoRoomService(consultations, hub), hub
}

func TestJoinFirstCallerIsInitiator(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	f1.Ref = "j1"

	res, err := svc.Join(ctx, f1, "c1")
	if err != nil {
		t.Fatalf("Join f1: %v", err)
	}
	if !res.IsInitiator || len(res.OtherParticipants) != 0 || res.RoomID != "consultation_c1" {
		t.Fatalf("f1 result = %+v", res)
	}

	events := hub.take(f1.ConnID)
	if len(events) != 1 || events[0].Op != ws.OpVideoRoomJoined || events[0].Ref != "j1" {
		t.Fatalf("f1 events = %+v, want one video_room_joined with ref", events)
	}
	// The expert is rung on the personal channel.
	if got := hub.ops(e1.ConnID); !reflect.DeepEqual(got, []string{ws.OpIncomingCall}) {
		t.Fatalf("e1 ops = %v, want [incoming_call]", got)
	}

	res, err = svc.Join(ctx, e1, "c1")
	if err != nil {
		t.Fatalf("Join e1: %v", err)
	}
	if res.IsInitiator || len(res.OtherParticipants) != 1 || res.OtherParticipants[0].UserID != "f1" {
		t.Fatalf("e1 result = %+v", res)
	}

	if got := hub.ops(f1.ConnID); !reflect.DeepEqual(got, []string{ws.OpUserJoined, ws.OpReady}) {
		t.Fatalf("f1 ops = %v, want [user_joined ready]", got)
	}
	if got := hub.ops(e1.ConnID); !reflect.DeepEqual(got, []string{ws.OpVideoRoomJoined, ws.OpReady}) {
		t.Fatalf("e1 ops = %v, want [video_room_joined ready]", got)
	}

	snap, err := svc.GetRoom("consultation_c1")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if snap.InitiatorUserID != "f1" || len(snap.Participants) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestJoinUserJoinedFlagsOffer(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, f1, "c1")
	hub.take(f1.ConnID)
	svc.Join(ctx, e1, "c1")

	events := hub.take(f1.ConnID)
	joined, ok := events[0].Data.(ws.UserJoinedData)
	if !ok {
		t.Fatalf("user_joined data type %T", events[0].Data)
	}
	if !joined.ShouldCreateOffer || joined.Participant.UserID != "e1" {
		t.Fatalf("user_joined = %+v", joined)
	}
	ready := events[1].Data.(ws.ReadyData)
	if ready.InitiatorUserID != "f1" || len(ready.Participants) != 2 {
		t.Fatalf("ready = %+v", ready)
	}
}

func TestJoinRejectsOutsider(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	x1 := hub.connect("conn-x1", "x1", models.RoleFarmer)

	_, err := svc.Join(context.Background(), x1, "c1")
	if !errors.Is(err, pkg.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if svc.RoomCount() != 0 {
		t.Fatal("rejected join must not create a room")
	}
	if _, err := svc.GetRoom("consultation_c1"); !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("GetRoom err = %v, want ErrNotFound", err)
	}
	if events := hub.take(x1.ConnID); len(events) != 0 {
		t.Fatalf("service must not send events on error, got %+v", events)
	}
}

func TestJoinUnknownConsultation(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)

	if _, err := svc.Join(context.Background(), f1, "nope"); !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if svc.RoomCount() != 0 {
		t.Fatal("no room expected")
	}
}

func TestRejoinReplacesInPlace(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, f1, "c1")
	svc.Join(ctx, e1, "c1")

	f1b := hub.connect("conn-f1b", "f1", models.RoleFarmer)
	res, err := svc.Join(ctx, f1b, "c1")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if res.IsInitiator {
		t.Fatal("rejoin into a two-party room is not the sole participant")
	}

	snap, _ := svc.GetRoom("consultation_c1")
	if len(snap.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(snap.Participants))
	}
	if snap.Participants[0].UserID != "f1" || snap.Participants[0].ConnectionID != "conn-f1b" {
		t.Fatalf("first participant = %+v, want f1 on conn-f1b", snap.Participants[0])
	}
	if snap.InitiatorUserID != "f1" {
		t.Fatal("initiator must not change on rejoin")
	}
	if hub.inGroup("conn-f1", "consultation_c1") {
		t.Fatal("stale connection still in the room group")
	}
}

func TestLeaveTwiceIsNoop(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, f1, "c1")
	svc.Join(ctx, e1, "c1")
	hub.take(f1.ConnID)
	hub.take(e1.ConnID)

	first := svc.Leave(e1, "consultation_c1")
	if !first.Left || first.RemainingCount != 1 {
		t.Fatalf("first leave = %+v", first)
	}
	if got := hub.ops(e1.ConnID); !reflect.DeepEqual(got, []string{ws.OpVideoRoomLeft}) {
		t.Fatalf("leaver ops = %v", got)
	}
	events := hub.take(f1.ConnID)
	if len(events) != 1 || events[0].Op != ws.OpUserLeft {
		t.Fatalf("remaining ops = %+v", events)
	}
	if left := events[0].Data.(ws.UserLeftData); left.UserID != "e1" || left.RemainingCount != 1 {
		t.Fatalf("user_left = %+v", left)
	}

	second := svc.Leave(e1, "consultation_c1")
	if second.Left || second.RemainingCount != 0 {
		t.Fatalf("second leave = %+v", second)
	}
	if got := hub.ops(e1.ConnID); !reflect.DeepEqual(got, []string{ws.OpVideoRoomLeft}) {
		t.Fatalf("second leave should only confirm, got %v", got)
	}
	if events := hub.take(f1.ConnID); len(events) != 0 {
		t.Fatalf("second leave must not notify, got %+v", events)
	}

	svc.Leave(f1, "consultation_c1")
	if svc.RoomCount() != 0 {
		t.Fatal("empty room should be deleted")
	}
}

func TestEndCallNotifiesEveryoneAndDeletes(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, f1, "c1")
	svc.Join(ctx, e1, "c1")
	hub.take(f1.ConnID)
	hub.take(e1.ConnID)

	f1.Ref = "end-1"
	if err := svc.EndCall(f1, "", "c1"); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	for _, conn := range []string{f1.ConnID, e1.ConnID} {
		events := hub.take(conn)
		if len(events) != 1 || events[0].Op != ws.OpCallEnded {
			t.Fatalf("%s events = %+v", conn, events)
		}
		if ended := events[0].Data.(ws.CallEndedData); ended.EndedBy != "f1" {
			t.Fatalf("ended by %q", ended.EndedBy)
		}
	}
	if hub.inGroup(e1.ConnID, "consultation_c1") {
		t.Fatal("group memberships must be cleared")
	}
	if _, err := svc.GetRoom("consultation_c1"); !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("GetRoom after end = %v, want ErrNotFound", err)
	}
}

func TestEndCallRequiresParticipant(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, f1, "c1")

	if err := svc.EndCall(e1, "consultation_c1", ""); !errors.Is(err, pkg.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if err := svc.EndCall(f1, "consultation_zz", ""); !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if svc.RoomCount() != 1 {
		t.Fatal("room must survive a refused end call")
	}
}

func TestRelayTargetedAndBroadcast(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, f1, "c1")
	svc.Join(ctx, e1, "c1")
	hub.take(f1.ConnID)
	hub.take(e1.ConnID)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	svc.Relay(f1, models.SignalOffer, ws.SignalData{RoomID: "consultation_c1", Payload: offer, TargetUserID: "e1"})

	events := hub.take(e1.ConnID)
	if len(events) != 1 || events[0].Op != ws.OpOffer {
		t.Fatalf("e1 events = %+v", events)
	}
	relayed := events[0].Data.(ws.RelayedSignal)
	if relayed.FromUserID != "f1" || string(relayed.Payload) != string(offer) {
		t.Fatalf("relayed = %+v", relayed)
	}

	cand := json.RawMessage(`{"candidate":"candidate:1"}`)
	svc.Relay(e1, models.SignalICECandidate, ws.SignalData{RoomID: "consultation_c1", Payload: cand})
	if got := hub.ops(f1.ConnID); !reflect.DeepEqual(got, []string{ws.OpICECandidate}) {
		t.Fatalf("f1 ops = %v", got)
	}
	if got := hub.ops(e1.ConnID); len(got) != 0 {
		t.Fatalf("sender must not receive its own broadcast, got %v", got)
	}

	snap, _ := svc.GetRoom("consultation_c1")
	if snap.PendingOfferCount != 1 || snap.PendingICECandidateCount != 1 {
		t.Fatalf("pending counts = %d offers, %d candidates", snap.PendingOfferCount, snap.PendingICECandidateCount)
	}
}

func TestRelayMissingTargetDropped(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	svc.Join(context.Background(), f1, "c1")
	hub.take(f1.ConnID)

	svc.Relay(f1, models.SignalAnswer, ws.SignalData{
		RoomID:       "consultation_c1",
		Payload:      json.RawMessage(`{}`),
		TargetUserID: "ghost",
	})
	if events := hub.take(f1.ConnID); len(events) != 0 {
		t.Fatalf("dropped relay must not report back, got %+v", events)
	}
}

func TestRelayFromOutsiderDropped(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	x1 := hub.connect("conn-x1", "x1", models.RoleExpert)
	hub.JoinGroup(f1.ConnID, ws.ChatChannel("c1"))
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)

	// No room exists yet: hub groups and personal channels are not rooms.
	svc.Relay(x1, models.SignalOffer, ws.SignalData{RoomID: ws.ChatChannel("c1"), Payload: offer})
	svc.Relay(x1, models.SignalOffer, ws.SignalData{RoomID: ws.UserChannel("f1"), Payload: offer})
	svc.Relay(x1, models.SignalOffer, ws.SignalData{RoomID: "consultation_c1", Payload: offer, TargetUserID: "f1"})
	if got := hub.ops(f1.ConnID); len(got) != 0 {
		t.Fatalf("f1 received %v from an outsider", got)
	}

	svc.Join(ctx, f1, "c1")
	hub.take(f1.ConnID)

	svc.Relay(x1, models.SignalOffer, ws.SignalData{RoomID: "consultation_c1", Payload: offer, TargetUserID: "f1"})
	svc.Relay(x1, models.SignalICECandidate, ws.SignalData{RoomID: "consultation_c1", Payload: offer})
	if got := hub.ops(f1.ConnID); len(got) != 0 {
		t.Fatalf("f1 received %v from a non-participant", got)
	}
	if snap, _ := svc.GetRoom("consultation_c1"); snap.PendingOfferCount != 0 || snap.PendingICECandidateCount != 0 {
		t.Fatalf("outsider frames recorded: %+v", snap)
	}
	if svc.RoomCount() != 1 {
		t.Fatalf("rooms = %d", svc.RoomCount())
	}
}

func TestRelayRequiresSeatedConnectionAndTarget(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, f1, "c1")
	svc.Join(ctx, e1, "c1")
	hub.take(f1.ConnID)
	hub.take(e1.ConnID)

	// A second tab of a seated user does not hold the seat.
	f1b := hub.connect("conn-f1-b", "f1", models.RoleFarmer)
	svc.Relay(f1b, models.SignalOffer, ws.SignalData{RoomID: "consultation_c1", Payload: json.RawMessage(`{}`), TargetUserID: "e1"})
	if got := hub.ops(e1.ConnID); len(got) != 0 {
		t.Fatalf("e1 received %v from an unseated tab", got)
	}

	// Targets outside the room are refused even when they are online.
	x1 := hub.connect("conn-x1", "x1", models.RoleExpert)
	svc.Relay(e1, models.SignalAnswer, ws.SignalData{RoomID: "consultation_c1", Payload: json.RawMessage(`{}`), TargetUserID: "x1"})
	if got := hub.ops(x1.ConnID); len(got) != 0 {
		t.Fatalf("x1 received %v without a seat", got)
	}
}

func TestLeaveFromOtherTabReleasesSeatConnection(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	tabA := hub.connect("conn-f1-a", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, tabA, "c1")
	svc.Join(ctx, e1, "c1")
	tabB := hub.connect("conn-f1-b", "f1", models.RoleFarmer)
	hub.take(tabA.ConnID)
	hub.take(e1.ConnID)

	if res := svc.Leave(tabB, "consultation_c1"); !res.Left || res.RemainingCount != 1 {
		t.Fatalf("leave = %+v", res)
	}
	if hub.inGroup(tabA.ConnID, "consultation_c1") {
		t.Fatal("seat connection still in the room group")
	}
	if got := hub.ops(tabA.ConnID); !reflect.DeepEqual(got, []string{ws.OpVideoRoomLeft}) {
		t.Fatalf("seat connection ops = %v", got)
	}
	hub.take(e1.ConnID)

	svc.Relay(e1, models.SignalICECandidate, ws.SignalData{RoomID: "consultation_c1", Payload: json.RawMessage(`{"candidate":"candidate:1"}`)})
	if got := hub.ops(tabA.ConnID); len(got) != 0 {
		t.Fatalf("former seat received %v", got)
	}
}

func TestDisconnectActsAsLeave(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)
	e1 := hub.connect("conn-e1", "e1", models.RoleExpert)
	svc.Join(ctx, f1, "c1")
	svc.Join(ctx, e1, "c1")
	hub.take(f1.ConnID)

	hub.disconnect(e1.ConnID)
	svc.HandleDisconnect(e1)

	events := hub.take(f1.ConnID)
	if len(events) != 1 || events[0].Op != ws.OpUserLeft {
		t.Fatalf("f1 events = %+v", events)
	}
	if left := events[0].Data.(ws.UserLeftData); left.RemainingCount != 1 {
		t.Fatalf("remaining = %d", left.RemainingCount)
	}

	// Explicit leave after the disconnect changes nothing.
	if res := svc.Leave(e1, "consultation_c1"); res.Left {
		t.Fatal("leave after disconnect should be a no-op")
	}

	hub.disconnect(f1.ConnID)
	svc.HandleDisconnect(f1)
	if svc.RoomCount() != 0 {
		t.Fatal("room should be deleted once empty")
	}
}

func TestDisconnectOfStaleConnectionKeepsSeat(t *testing.T) {
	svc, hub := newVideoRoomFixture(t)
	ctx := context.Background()

	old := hub.connect("conn-old", "f1", models.RoleFarmer)
	svc.Join(ctx, old, "c1")
	fresh := hub.connect("conn-new", "f1", models.RoleFarmer)
	svc.Join(ctx, fresh, "c1")

	hub.disconnect(old.ConnID)
	svc.HandleDisconnect(old)

	snap, err := svc.GetRoom("consultation_c1")
	if err != nil {
		t.Fatalf("room gone after stale disconnect: %v", err)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].ConnectionID != "conn-new" {
		t.Fatalf("participants = %+v", snap.Participants)
	}
}

func TestConsultationLookupIsCached(t *testing.T) {
	stub := newStubConsultations(c1)
	consultations := NewConsultationService(stub, time.Minute)
	defer consultations.Close()

	hub := newRecordingHub()
	svc := NewVideoRoomService(consultations, hub)
	f1 := hub.connect("conn-f1", "f1", models.RoleFarmer)

	for i := 0; i < 3; i++ {
		if _, err := svc.Join(context.Background(), f1, "c1"); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}
	if stub.calls != 1 {
		t.Fatalf("store hit %d times, want 1", stub.calls)
	}
}
