package callclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/ws"
)

type sentEvent struct {
	op   string
	data any
}

// fakeSignaler stands in for a gateway connection. emit delivers an event
// to subscribers on the calling goroutine, like Socket's read pump.
type fakeSignaler struct {
	userID     string
	connectErr error
	request    func(op string, data any) (Reply, error)

	mu       sync.Mutex
	subs     map[string]map[int]func(json.RawMessage)
	nextSub  int
	sent     []sentEvent
	requests []string
}

func newFakeSignaler(userID string) *fakeSignaler {
	return &fakeSignaler{userID: userID, subs: make(map[string]map[int]func(json.RawMessage))}
}

func (f *fakeSignaler) UserID() string { return f.userID }

func (f *fakeSignaler) WaitConnected(ctx context.Context) error { return f.connectErr }

func (f *fakeSignaler) Request(ctx context.Context, op string, data any) (Reply, error) {
	f.mu.Lock()
	f.requests = append(f.requests, op)
	f.mu.Unlock()
	if f.request == nil {
		return Reply{}, errors.New("no reply configured")
	}
	return f.request(op, data)
}

func (f *fakeSignaler) Send(op string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{op: op, data: data})
	return nil
}

func (f *fakeSignaler) Subscribe(op string, fn func(json.RawMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	if f.subs[op] == nil {
		f.subs[op] = make(map[int]func(json.RawMessage))
	}
	f.subs[op][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[op], id)
	}
}

func (f *fakeSignaler) emit(t *testing.T, op string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", op, err)
	}
	f.mu.Lock()
	var handlers []func(json.RawMessage)
	for _, fn := range f.subs[op] {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(raw)
	}
}

func (f *fakeSignaler) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, subs := range f.subs {
		n += len(subs)
	}
	return n
}

func (f *fakeSignaler) signals(op string) []ws.SignalData {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ws.SignalData
	for _, ev := range f.sent {
		if ev.op == op {
			out = append(out, ev.data.(ws.SignalData))
		}
	}
	return out
}

func (f *fakeSignaler) countSent(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.sent {
		if ev.op == op {
			n++
		}
	}
	return n
}

func (f *fakeSignaler) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakePeer records what the controller asks of the peer connection.
type fakePeer struct {
	mu         sync.Mutex
	config     webrtc.Configuration
	tracks     int
	offers     int
	answers    int
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     int

	onCandidate func(*webrtc.ICECandidate)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil, nil
}

func (p *fakePeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(f func(*webrtc.ICECandidate)) { p.onCandidate = f }

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) { p.onState = f }

func (p *fakePeer) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) { p.onTrack = f }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type peerStats struct {
	tracks     int
	offers     int
	answers    int
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     int
}

func (p *fakePeer) stats() peerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return peerStats{
		tracks:     p.tracks,
		offers:     p.offers,
		answers:    p.answers,
		remote:     append([]webrtc.SessionDescription(nil), p.remote...),
		candidates: append([]webrtc.ICECandidateInit(nil), p.candidates...),
		closed:     p.closed,
	}
}

// fakeMedia hands out real local tracks or a fixed error.
type fakeMedia struct {
	err    error
	tracks []*LocalTrack
}

func (m *fakeMedia) Acquire(ctx context.Context) ([]*LocalTrack, error) {
	if m.err != nil {
		return nil, m.err
	}
	tracks, err := StaticSource{}.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	m.tracks = tracks
	return tracks, nil
}

type harness struct {
	ctrl   *Controller
	sig    *fakeSignaler
	peer   *fakePeer
	media  *fakeMedia
	states *stateLog
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) add(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) list() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func newHarness(userID string, initiator bool, others ...string) *harness {
	h := &harness{
		sig:    newFakeSignaler(userID),
		peer:   &fakePeer{},
		media:  &fakeMedia{},
		states: &stateLog{},
	}
	h.sig.request = func(op string, data any) (Reply, error) {
		return joinReply(initiator, others...), nil
	}
	h.ctrl = NewController(Config{
		Signaler: h.sig,
		Media:    h.media,
		NewPeer: func(cfg webrtc.Configuration) (PeerConnection, error) {
			h.peer.config = cfg
			return h.peer, nil
		},
		OnStateChange: h.states.add,
	})
	h.ctrl.tick = 5 * time.Millisecond
	return h
}

func joinReply(initiator bool, others ...string) Reply {
	result := models.JoinResult{
		RoomID:            models.RoomIDForConsultation("c1"),
		ConsultationID:    "c1",
		IsInitiator:       initiator,
		OtherParticipants: []models.Participant{},
	}
	for _, id := range others {
		result.OtherParticipants = append(result.OtherParticipants, models.Participant{UserID: id})
	}
	raw, _ := json.Marshal(result)
	return Reply{Op: ws.OpVideoRoomJoined, Data: raw}
}

func readyEvent() ws.ReadyData {
	return ws.ReadyData{
		RoomID:          models.RoomIDForConsultation("c1"),
		Participants:    []models.Participant{{UserID: "f1"}, {UserID: "e1"}},
		InitiatorUserID: "f1",
	}
}

func relayed(from string, payload any) ws.RelayedSignal {
	raw, _ := json.Marshal(payload)
	return ws.RelayedSignal{RoomID: models.RoomIDForConsultation("c1"), FromUserID: from, Payload: raw}
}

func candidate(n string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: "candidate:" + n + " 1 udp 2122260223 10.0.0.1 5000 typ host"}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
