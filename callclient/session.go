package callclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/ws"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultJoinTimeout    = 10 * time.Second
)

// Signaler is the gateway connection the controller talks through.
// *Socket implements it.
type Signaler interface {
	UserID() string
	WaitConnected(ctx context.Context) error
	Request(ctx context.Context, op string, data any) (Reply, error)
	Send(op string, data any) error
	Subscribe(op string, fn func(json.RawMessage)) func()
}

// Config wires a Controller. Signaler and Media are required.
type Config struct {
	Signaler Signaler
	Media    MediaSource

	// ICE adds TURN servers on top of STUNURLs. A failed fetch is logged
	// and the call continues with STUN only.
	ICE      ICEServerProvider
	STUNURLs []string
	NewPeer  PeerFactory

	ConnectTimeout time.Duration
	JoinTimeout    time.Duration

	// Callbacks run with the controller locked and must not call back
	// into it.
	OnStateChange func(State)
	OnDuration    func(time.Duration)

	// OnRemoteTrack runs unlocked.
	OnRemoteTrack func(*webrtc.TrackRemote)
}

// Session is a point-in-time view of the controller.
type Session struct {
	State          State
	ConsultationID string
	RoomID         string
	IsInitiator    bool
	PeerUserID     string
	Established    bool
	Elapsed        time.Duration
	Failure        *Failure
}

// heldEvent is a gateway event that arrived before the join ack.
type heldEvent struct {
	op  string
	raw json.RawMessage
}

// Controller runs one call at a time. Start begins an attempt; End, a
// remote call_ended or the peer leaving finishes it.
type Controller struct {
	cfg  Config
	tick time.Duration

	mu      sync.Mutex
	state   State
	failure *Failure
	attempt uint64

	consultationID string
	roomID         string
	isInitiator    bool
	offerAttempted bool
	peerUserID     string

	tracks     []*LocalTrack
	pc         PeerConnection
	remoteSet  bool
	pendingICE []webrtc.ICECandidateInit

	handlers    map[string]func(json.RawMessage)
	held        []heldEvent
	unsubscribe []func()

	established bool
	elapsed     time.Duration
	stopTicker  chan struct{}
}

func NewController(cfg Config) *Controller {
	if cfg.NewPeer == nil {
		cfg.NewPeer = NewPionPeer
	}
	if len(cfg.STUNURLs) == 0 {
		cfg.STUNURLs = DefaultSTUNURLs
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	return &Controller{cfg: cfg, tick: time.Second, state: StateIdle}
}

// Session returns the current call view.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{
		State:          c.state,
		ConsultationID: c.consultationID,
		RoomID:         c.roomID,
		IsInitiator:    c.isInitiator,
		PeerUserID:     c.peerUserID,
		Established:    c.established,
		Elapsed:        c.elapsed,
		Failure:        c.failure,
	}
}

// Start acquires media, builds the peer connection and joins the
// consultation's room. It returns once the join is acknowledged; the rest
// of the negotiation is driven by gateway events. A *Failure is returned
// when the attempt ends in the error state.
func (c *Controller) Start(ctx context.Context, consultationID string) error {
	c.mu.Lock()
	if !c.state.canStart() {
		c.mu.Unlock()
		return &Failure{Kind: FailureAlreadyActive}
	}
	c.attempt++
	attempt := c.attempt
	c.closeLocked()
	c.failure = nil
	c.offerAttempted = false
	c.consultationID = consultationID
	c.setStateLocked(StateAcquiringMedia)
	c.mu.Unlock()

	tracks, err := c.cfg.Media.Acquire(ctx)
	if err != nil {
		return c.fail(attempt, mediaFailure(err))
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		stopTracks(tracks)
		return ErrAttemptCancelled
	}
	c.tracks = tracks
	c.setStateLocked(StateJoiningRoom)
	c.mu.Unlock()

	pc, err := c.cfg.NewPeer(webrtc.Configuration{ICEServers: c.iceServers(ctx)})
	if err != nil {
		return c.fail(attempt, &Failure{Kind: FailureConnectionError, Err: err})
	}
	c.wirePeer(pc, attempt)
	for _, t := range tracks {
		sender, err := pc.AddTrack(t.Track())
		if err != nil {
			closePeer(pc)
			return c.fail(attempt, &Failure{
				Kind: FailureConnectionError,
				Err:  fmt.Errorf("failed to add %s track: %w", t.Kind(), err),
			})
		}
		drainRTCP(sender)
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		closePeer(pc)
		return ErrAttemptCancelled
	}
	c.pc = pc
	c.subscribeLocked(attempt)
	c.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	err = c.cfg.Signaler.WaitConnected(connectCtx)
	cancel()
	if err != nil {
		return c.fail(attempt, &Failure{Kind: FailureConnectionError, Err: err})
	}

	joinCtx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	reply, err := c.cfg.Signaler.Request(joinCtx, ws.OpJoinVideoRoom, ws.VideoJoinData{ConsultationID: consultationID})
	cancel()
	if err != nil {
		return c.fail(attempt, joinFailure(err))
	}

	var joined models.JoinResult
	if err := json.Unmarshal(reply.Data, &joined); err != nil {
		return c.fail(attempt, &Failure{
			Kind: FailureConnectionError,
			Err:  fmt.Errorf("failed to decode join ack: %w", err),
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attempt != attempt {
		// Ended while the join was in flight; the gateway still has us.
		c.send(ws.OpLeaveVideoRoom, ws.VideoLeaveData{RoomID: joined.RoomID})
		return ErrAttemptCancelled
	}

	c.roomID = joined.RoomID
	c.isInitiator = joined.IsInitiator
	if len(joined.OtherParticipants) == 1 {
		c.peerUserID = joined.OtherParticipants[0].UserID
	}
	c.setStateLocked(StateWaitingForPeer)

	held := c.held
	c.held = nil
	for _, ev := range held {
		if fn, ok := c.handlers[ev.op]; ok {
			fn(ev.raw)
		}
	}
	return nil
}

// End finishes the call for both sides. Safe to call in any state.
func (c *Controller) End() {
	c.mu.Lock()
	if !c.state.active() {
		c.mu.Unlock()
		return
	}
	if c.roomID != "" {
		c.send(ws.OpEndCall, ws.EndCallData{RoomID: c.roomID, ConsultationID: c.consultationID})
	}
	pc := c.finishLocked()
	c.mu.Unlock()

	closePeer(pc)
}

// Close leaves the room without ending the call for the peer, as when the
// call view goes away. Safe to call in any state.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.state.active() {
		c.mu.Unlock()
		return
	}
	if c.roomID != "" {
		c.send(ws.OpLeaveVideoRoom, ws.VideoLeaveData{RoomID: c.roomID})
	}
	pc := c.finishLocked()
	c.mu.Unlock()

	closePeer(pc)
}

// ToggleAudio flips the microphone and returns whether it is now enabled.
func (c *Controller) ToggleAudio() bool { return c.toggle(TrackAudio) }

// ToggleVideo flips the camera and returns whether it is now enabled.
func (c *Controller) ToggleVideo() bool { return c.toggle(TrackVideo) }

func (c *Controller) toggle(kind TrackKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	enabled := false
	for _, t := range c.tracks {
		if t.Kind() == kind {
			t.SetEnabled(!t.Enabled())
			enabled = t.Enabled()
		}
	}
	return enabled
}

// ─── Attempt lifecycle ───

func (c *Controller) fail(attempt uint64, f *Failure) error {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return ErrAttemptCancelled
	}
	pc := c.closeLocked()
	c.failure = f
	c.setStateLocked(StateError)
	c.mu.Unlock()

	closePeer(pc)
	log.Printf("[callclient] call attempt failed: %v", f)
	return f
}

// finishLocked ends the current attempt and returns the peer connection
// for the caller to close outside the lock.
func (c *Controller) finishLocked() PeerConnection {
	c.attempt++
	pc := c.closeLocked()
	c.setStateLocked(StateEnded)
	return pc
}

// closeLocked releases everything an attempt holds. Calling it twice is a
// no-op. The offer guard survives until the next Start.
func (c *Controller) closeLocked() PeerConnection {
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.unsubscribe = nil
	c.handlers = nil
	c.held = nil

	stopTracks(c.tracks)
	c.tracks = nil

	if c.stopTicker != nil {
		close(c.stopTicker)
		c.stopTicker = nil
	}

	pc := c.pc
	c.pc = nil
	c.remoteSet = false
	c.pendingICE = nil

	c.consultationID = ""
	c.roomID = ""
	c.peerUserID = ""
	c.isInitiator = false
	c.established = false
	c.elapsed = 0
	return pc
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
}

func (c *Controller) iceServers(ctx context.Context) []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: c.cfg.STUNURLs}}
	if c.cfg.ICE == nil {
		return servers
	}
	extra, err := c.cfg.ICE.ICEServers(ctx)
	if err != nil {
		log.Printf("[callclient] TURN unavailable, continuing with STUN only: %v", err)
		return servers
	}
	return append(servers, extra...)
}

// ─── Peer connection events ───

func (c *Controller) wirePeer(pc PeerConnection, attempt uint64) {
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.attempt != attempt || c.pc == nil || c.roomID == "" {
			return
		}
		c.sendSignalLocked(ws.OpICECandidate, candidate.ToJSON(), c.peerUserID)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.attempt != attempt || c.pc == nil {
			return
		}
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.markEstablishedLocked()
		case webrtc.PeerConnectionStateFailed:
			log.Printf("[callclient] peer connection failed in room %s", c.roomID)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.mu.Lock()
		if c.attempt != attempt || c.pc == nil {
			c.mu.Unlock()
			return
		}
		c.markEstablishedLocked()
		onTrack := c.cfg.OnRemoteTrack
		c.mu.Unlock()

		if onTrack != nil {
			onTrack(track)
		}
	})
}

// markEstablishedLocked starts the duration counter on the first
// connected signal, whichever of transport or remote track comes first.
func (c *Controller) markEstablishedLocked() {
	if c.established {
		return
	}
	if c.state != StateWaitingForPeer && c.state != StateNegotiating {
		return
	}
	c.established = true
	c.setStateLocked(StateEstablished)

	stop := make(chan struct{})
	c.stopTicker = stop
	go c.countDuration(stop, c.tick)
}

func (c *Controller) countDuration(stop chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.stopTicker != stop {
				c.mu.Unlock()
				return
			}
			c.elapsed += time.Second
			if c.cfg.OnDuration != nil {
				c.cfg.OnDuration(c.elapsed)
			}
			c.mu.Unlock()
		}
	}
}

// ─── Gateway events ───

func (c *Controller) subscribeLocked(attempt uint64) {
	c.handlers = map[string]func(json.RawMessage){
		ws.OpReady:        c.onReady,
		ws.OpOffer:        c.onOffer,
		ws.OpAnswer:       c.onAnswer,
		ws.OpICECandidate: c.onRemoteCandidate,
		ws.OpUserLeft:     c.onUserLeft,
		ws.OpCallEnded:    c.onCallEnded,
	}

	for op, fn := range c.handlers {
		unsub := c.cfg.Signaler.Subscribe(op, func(raw json.RawMessage) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.attempt != attempt || c.pc == nil {
				return
			}
			if c.state == StateJoiningRoom {
				c.held = append(c.held, heldEvent{op: op, raw: raw})
				return
			}
			fn(raw)
		})
		c.unsubscribe = append(c.unsubscribe, unsub)
	}
}

// The on* handlers run with c.mu held.

func (c *Controller) onReady(raw json.RawMessage) {
	var ready ws.ReadyData
	if !decodeEvent(ws.OpReady, raw, &ready) || ready.RoomID != c.roomID {
		return
	}
	if c.state != StateWaitingForPeer && c.state != StateNegotiating {
		return
	}

	self := c.cfg.Signaler.UserID()
	var others []models.Participant
	for _, p := range ready.Participants {
		if p.UserID != self {
			others = append(others, p)
		}
	}
	if len(others) == 1 {
		c.peerUserID = others[0].UserID
	}
	c.setStateLocked(StateNegotiating)

	if !c.isInitiator || len(others) != 1 || c.offerAttempted {
		return
	}
	c.offerAttempted = true

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		log.Printf("[callclient] failed to create offer: %v", err)
		return
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		log.Printf("[callclient] failed to set local offer: %v", err)
		return
	}
	c.sendSignalLocked(ws.OpOffer, offer, c.peerUserID)
}

func (c *Controller) onOffer(raw json.RawMessage) {
	sig, desc, ok := c.decodeDescription(ws.OpOffer, raw)
	if !ok {
		return
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		log.Printf("[callclient] failed to apply offer from %s: %v", sig.FromUserID, err)
		return
	}
	c.remoteSet = true
	c.peerUserID = sig.FromUserID
	c.flushCandidatesLocked()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("[callclient] failed to create answer: %v", err)
		return
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		log.Printf("[callclient] failed to set local answer: %v", err)
		return
	}
	c.sendSignalLocked(ws.OpAnswer, answer, sig.FromUserID)

	if c.state == StateWaitingForPeer {
		c.setStateLocked(StateNegotiating)
	}
}

func (c *Controller) onAnswer(raw json.RawMessage) {
	sig, desc, ok := c.decodeDescription(ws.OpAnswer, raw)
	if !ok {
		return
	}

	if err := c.pc.SetRemoteDescription(desc); err != nil {
		log.Printf("[callclient] failed to apply answer from %s: %v", sig.FromUserID, err)
		return
	}
	c.remoteSet = true
	c.flushCandidatesLocked()
}

func (c *Controller) onRemoteCandidate(raw json.RawMessage) {
	var sig ws.RelayedSignal
	if !decodeEvent(ws.OpICECandidate, raw, &sig) || sig.RoomID != c.roomID {
		return
	}
	var candidate webrtc.ICECandidateInit
	if !decodeEvent(ws.OpICECandidate, sig.Payload, &candidate) {
		return
	}

	if !c.remoteSet {
		c.pendingICE = append(c.pendingICE, candidate)
		return
	}
	if err := c.pc.AddICECandidate(candidate); err != nil {
		log.Printf("[callclient] failed to add ICE candidate: %v", err)
	}
}

func (c *Controller) onUserLeft(raw json.RawMessage) {
	var left ws.UserLeftData
	if !decodeEvent(ws.OpUserLeft, raw, &left) || left.RoomID != c.roomID {
		return
	}
	if left.RemainingCount > 1 {
		if left.UserID == c.peerUserID {
			c.peerUserID = ""
		}
		return
	}
	log.Printf("[callclient] %s left room %s, ending call", left.UserID, left.RoomID)
	c.finishRemoteLocked()
}

func (c *Controller) onCallEnded(raw json.RawMessage) {
	var ended ws.CallEndedData
	if !decodeEvent(ws.OpCallEnded, raw, &ended) || ended.RoomID != c.roomID {
		return
	}
	log.Printf("[callclient] call in room %s ended by %s", ended.RoomID, ended.EndedBy)
	c.finishRemoteLocked()
}

// finishRemoteLocked ends the call from inside an event handler. The peer
// is closed on its own goroutine since the lock is held.
func (c *Controller) finishRemoteLocked() {
	pc := c.finishLocked()
	if pc != nil {
		go closePeer(pc)
	}
}

func (c *Controller) flushCandidatesLocked() {
	pending := c.pendingICE
	c.pendingICE = nil
	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			log.Printf("[callclient] failed to add buffered ICE candidate: %v", err)
		}
	}
}

func (c *Controller) decodeDescription(op string, raw json.RawMessage) (ws.RelayedSignal, webrtc.SessionDescription, bool) {
	var sig ws.RelayedSignal
	var desc webrtc.SessionDescription
	if !decodeEvent(op, raw, &sig) || sig.RoomID != c.roomID {
		return sig, desc, false
	}
	if !decodeEvent(op, sig.Payload, &desc) {
		return sig, desc, false
	}
	return sig, desc, true
}

func (c *Controller) sendSignalLocked(op string, payload any, target string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[callclient] failed to encode %s: %v", op, err)
		return
	}
	c.send(op, ws.SignalData{RoomID: c.roomID, Payload: raw, TargetUserID: target})
}

// send is fire-and-forget; a dropped relay is only logged.
func (c *Controller) send(op string, data any) {
	if err := c.cfg.Signaler.Send(op, data); err != nil {
		log.Printf("[callclient] failed to send %s: %v", op, err)
	}
}

func decodeEvent(op string, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("[callclient] malformed %s event: %v", op, err)
		return false
	}
	return true
}

func stopTracks(tracks []*LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}

func closePeer(pc PeerConnection) {
	if pc == nil {
		return
	}
	if err := pc.Close(); err != nil {
		log.Printf("[callclient] failed to close peer connection: %v", err)
	}
}
