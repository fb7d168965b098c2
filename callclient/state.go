// Package callclient drives one side of a two-party consultation call: it
// owns the local media tracks and the peer connection, and reacts to
// gateway events to run the offer/answer/ICE negotiation.
//
// The server side of the same protocol lives in the ws and services
// packages; this package only speaks to it over a Socket.
package callclient

// State is the lifecycle phase of a call attempt.
type State string

const (
	StateIdle           State = "idle"
	StateAcquiringMedia State = "acquiring-media"
	StateJoiningRoom    State = "joining-room"
	StateWaitingForPeer State = "waiting-for-peer"
	StateNegotiating    State = "negotiating"
	StateEstablished    State = "established"
	StateEnded          State = "ended"
	StateError          State = "error"
)

// canStart reports whether Start may be called from s. A failed or ended
// attempt needs an explicit Start to retry.
func (s State) canStart() bool {
	switch s {
	case StateIdle, StateEnded, StateError:
		return true
	}
	return false
}

// active reports whether s holds media or a peer connection.
func (s State) active() bool {
	return !s.canStart()
}
